// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"fmt"
	"sort"

	"difflow/multiset"
	"difflow/order"
)

// opCore carries the identity every operator shares.
type opCore struct {
	opID int
	name string
}

func (o *opCore) id() int       { return o.opID }
func (o *opCore) label() string { return o.name }

// advanceFrontier validates a frontier message against the current frontier
// and applies it. It reports whether the frontier actually moved.
func advanceFrontier(cur *order.Antichain, f order.Antichain) (bool, error) {
	if !cur.LessEqual(f) {
		return false, fmt.Errorf("%w: %v does not advance %v", ErrInvalidFrontier, f, *cur)
	}
	if cur.Equals(f) {
		return false, nil
	}
	*cur = f
	return true, nil
}

// attach wires a new operator into s's graph: reader on s, fresh output
// stream, registration and the topology edge. Shared by every unary
// constructor.
func attach[I, O any](s *Stream[I], name string) (*reader[I], *Stream[O], *opCore, *Graph) {
	g := s.g
	g.checkBuildable()
	core := &opCore{opID: g.nextID(), name: name}
	in := s.newReader()
	out := newStream[O](g, core.opID)
	g.addEdge(s.producerID, core.opID)
	return in, out, core, g
}

// attach2 is the binary-operator variant of attach.
func attach2[A, B, O any](a *Stream[A], b *Stream[B], name string) (*reader[A], *reader[B], *Stream[O], *opCore, *Graph) {
	if a.g != b.g {
		panic(fmt.Errorf("%w: operands belong to different graphs", ErrConfiguration))
	}
	g := a.g
	g.checkBuildable()
	core := &opCore{opID: g.nextID(), name: name}
	ra := a.newReader()
	rb := b.newReader()
	out := newStream[O](g, core.opID)
	g.addEdge(a.producerID, core.opID)
	g.addEdge(b.producerID, core.opID)
	return ra, rb, out, core, g
}

// versionSet accumulates per-version data across messages within one step,
// preserving a deterministic release order.
type versionSet[T any] struct {
	byKey map[string]*verBucket[T]
}

type verBucket[T any] struct {
	ver  order.Version
	data multiset.MultiSet[T]
}

func newVersionSet[T any]() *versionSet[T] {
	return &versionSet[T]{byKey: make(map[string]*verBucket[T])}
}

func (vs *versionSet[T]) add(ver order.Version, data multiset.MultiSet[T]) {
	vk := ver.Key()
	slot, ok := vs.byKey[vk]
	if !ok {
		slot = &verBucket[T]{ver: ver}
		vs.byKey[vk] = slot
	}
	slot.data = slot.data.Concat(data)
}

// ordered returns the buffered versions sorted by the linear extension of
// the product order.
func (vs *versionSet[T]) ordered() []*verBucket[T] {
	out := make([]*verBucket[T], 0, len(vs.byKey))
	for _, slot := range vs.byKey {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ver.CompareTotal(out[j].ver) < 0 })
	return out
}

func (vs *versionSet[T]) remove(ver order.Version) { delete(vs.byKey, ver.Key()) }

func (vs *versionSet[T]) empty() bool { return len(vs.byKey) == 0 }
