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
	"difflow/multiset"
	"difflow/order"
)

// liftOp applies a pure collection transform to every data message and
// forwards frontiers unchanged. Map, Filter, Negate, KeyBy and Debug are all
// instances.
type liftOp[I, O any] struct {
	*opCore
	in  *reader[I]
	out *Stream[O]
	inF order.Antichain
	fn  func(order.Version, multiset.MultiSet[I]) multiset.MultiSet[O]
}

func (o *liftOp[I, O]) step() (bool, error) {
	msgs := o.in.drain()
	for _, m := range msgs {
		switch m.Type {
		case DataMessage:
			o.out.sendData(m.Version, o.fn(m.Version, m.Data))
		case FrontierMessage:
			adv, err := advanceFrontier(&o.inF, m.Frontier)
			if err != nil {
				return false, err
			}
			if adv {
				o.out.sendFrontier(o.inF)
			}
		}
	}
	return len(msgs) > 0, nil
}

func lift[I, O any](s *Stream[I], name string, fn func(order.Version, multiset.MultiSet[I]) multiset.MultiSet[O]) *Stream[O] {
	in, out, core, g := attach[I, O](s, name)
	op := &liftOp[I, O]{opCore: core, in: in, out: out, inF: g.initial, fn: fn}
	g.register(op, name)
	return out
}

// Map applies f to the value half of every entry, preserving versions and
// multiplicities.
func Map[I, O any](s *Stream[I], f func(I) O) *Stream[O] {
	return lift(s, "map", func(_ order.Version, data multiset.MultiSet[I]) multiset.MultiSet[O] {
		return multiset.Map(data, f)
	})
}

// Filter keeps entries whose value satisfies p.
func Filter[T any](s *Stream[T], p func(T) bool) *Stream[T] {
	return lift(s, "filter", func(_ order.Version, data multiset.MultiSet[T]) multiset.MultiSet[T] {
		return data.Filter(p)
	})
}

// Negate flips the sign of every multiplicity.
func Negate[T any](s *Stream[T]) *Stream[T] {
	return lift(s, "negate", func(_ order.Version, data multiset.MultiSet[T]) multiset.MultiSet[T] {
		return data.Negate()
	})
}

// KeyBy lifts a stream into keyed form using the given key extractor, the
// entry point to the keyed operators (reduce, join, topK).
func KeyBy[T, K any](s *Stream[T], key func(T) K) *Stream[multiset.KV[K, T]] {
	return lift(s, "keyBy", func(_ order.Version, data multiset.MultiSet[T]) multiset.MultiSet[multiset.KV[K, T]] {
		return multiset.Map(data, func(v T) multiset.KV[K, T] { return multiset.KVOf(key(v), v) })
	})
}

// Values drops the key half of a keyed stream.
func Values[K, V any](s *Stream[multiset.KV[K, V]]) *Stream[V] {
	return lift(s, "values", func(_ order.Version, data multiset.MultiSet[multiset.KV[K, V]]) multiset.MultiSet[V] {
		return multiset.Map(data, func(kv multiset.KV[K, V]) V { return kv.Value })
	})
}

// Debug passes messages through unchanged, logging each data message with the
// given label through the graph logger. Frontier messages are forwarded
// without being logged.
func Debug[T any](s *Stream[T], label string) *Stream[T] {
	logger := s.g.logger
	return lift(s, "debug", func(ver order.Version, data multiset.MultiSet[T]) multiset.MultiSet[T] {
		logger.Printf("debug %s: data version=%v collection=%v", label, ver, data)
		return data
	})
}

// outputOp is the terminal sink.
type outputOp[T any] struct {
	*opCore
	in  *reader[T]
	inF order.Antichain
	fn  func(Message[T])
}

func (o *outputOp[T]) step() (bool, error) {
	msgs := o.in.drain()
	for _, m := range msgs {
		if m.Type == FrontierMessage {
			if _, err := advanceFrontier(&o.inF, m.Frontier); err != nil {
				return false, err
			}
		}
		o.fn(m)
	}
	return len(msgs) > 0, nil
}

// Output attaches a terminal sink invoking fn on every message, data and
// frontier alike.
func Output[T any](s *Stream[T], fn func(Message[T])) {
	g := s.g
	g.checkBuildable()
	core := &opCore{opID: g.nextID(), name: "output"}
	op := &outputOp[T]{opCore: core, in: s.newReader(), inF: g.initial, fn: fn}
	g.addEdge(s.producerID, core.opID)
	g.register(op, core.name)
}

// concatOp merges two streams of the same type. Data arriving at the same
// version within one step is merged into a single message; everything else
// passes through. The output frontier is the meet of the input frontiers.
type concatOp[T any] struct {
	*opCore
	a, b   *reader[T]
	out    *Stream[T]
	fa, fb order.Antichain
	inF    order.Antichain
}

func (o *concatOp[T]) step() (bool, error) {
	msgsA := o.a.drain()
	msgsB := o.b.drain()
	if len(msgsA)+len(msgsB) == 0 {
		return false, nil
	}
	buffered := newVersionSet[T]()
	for _, m := range msgsA {
		switch m.Type {
		case DataMessage:
			buffered.add(m.Version, m.Data)
		case FrontierMessage:
			if _, err := advanceFrontier(&o.fa, m.Frontier); err != nil {
				return false, err
			}
		}
	}
	for _, m := range msgsB {
		switch m.Type {
		case DataMessage:
			buffered.add(m.Version, m.Data)
		case FrontierMessage:
			if _, err := advanceFrontier(&o.fb, m.Frontier); err != nil {
				return false, err
			}
		}
	}
	for _, slot := range buffered.ordered() {
		o.out.sendData(slot.ver, slot.data)
	}
	if merged := o.fa.Meet(o.fb); !merged.Equals(o.inF) {
		if _, err := advanceFrontier(&o.inF, merged); err != nil {
			return false, err
		}
		o.out.sendFrontier(o.inF)
	}
	return true, nil
}

// Concat appends two streams entry-for-entry. It is a physical merge, not a
// set union; pair it with Consolidate when net multiplicities are needed.
func Concat[T any](a, b *Stream[T]) *Stream[T] {
	ra, rb, out, core, g := attach2[T, T, T](a, b, "concat")
	op := &concatOp[T]{opCore: core, a: ra, b: rb, out: out, fa: g.initial, fb: g.initial, inF: g.initial}
	g.register(op, core.name)
	return out
}
