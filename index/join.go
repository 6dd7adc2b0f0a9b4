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

package index

import (
	"sort"

	"difflow/multiset"
	"difflow/order"
)

// JoinVariant selects the join semantics. Operator polymorphism is a tag
// plus a branch, not a type hierarchy.
type JoinVariant int

const (
	// JoinInner emits only keys present on both sides.
	JoinInner JoinVariant = iota
	// JoinLeft additionally emits left rows with a nil right half for keys
	// absent on the right.
	JoinLeft
	// JoinRight is the mirror of JoinLeft.
	JoinRight
	// JoinFull emits both outer sides plus the inner rows.
	JoinFull
	// JoinAnti emits only left rows with a nil right half for keys absent on
	// the right; matched keys emit nothing.
	JoinAnti
)

// String names the variant for diagnostics.
func (v JoinVariant) String() string {
	switch v {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinFull:
		return "full"
	case JoinAnti:
		return "anti"
	default:
		return "unknown"
	}
}

// JoinRow is one output row of an index join.
type JoinRow[K, A, B any] = multiset.KV[K, multiset.Pair[A, B]]

// batchAccum groups join output rows by version.
type batchAccum[T any] struct {
	byVer map[string]*Batch[T]
}

func newBatchAccum[T any]() *batchAccum[T] {
	return &batchAccum[T]{byVer: make(map[string]*Batch[T])}
}

func (a *batchAccum[T]) add(ver order.Version, e multiset.Entry[T]) {
	vk := ver.Key()
	b, ok := a.byVer[vk]
	if !ok {
		b = &Batch[T]{Version: ver}
		a.byVer[vk] = b
	}
	b.Data = b.Data.Concat(multiset.New(e))
}

func (a *batchAccum[T]) batches() []Batch[T] {
	out := make([]Batch[T], 0, len(a.byVer))
	for _, b := range a.byVer {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.CompareTotal(out[j].Version) < 0 })
	return out
}

// Join produces the joined difference collections of two indexes, grouped by
// output version in a deterministic order. Inner rows for a pair of entries
// at versions verL and verR appear at verL ⊔ verR with the product of their
// multiplicities; outer rows appear at the version of the present side. The
// smaller side is iterated outer for the inner part.
func Join[K, A, B any](left Store[K, A], right Store[K, B], variant JoinVariant) []Batch[JoinRow[K, A, B]] {
	acc := newBatchAccum[JoinRow[K, A, B]]()

	if variant != JoinAnti {
		joinInner(left, right, acc)
	}
	if variant == JoinLeft || variant == JoinFull || variant == JoinAnti {
		for _, k := range left.Keys() {
			if len(right.Versions(k)) > 0 {
				continue
			}
			for _, ver := range left.Versions(k) {
				for _, e := range left.EntriesAt(k, ver) {
					acc.add(ver, multiset.Entry[JoinRow[K, A, B]]{
						Value: multiset.KVOf(k, multiset.LeftOnly[A, B](e.Value)),
						Mult:  e.Mult,
					})
				}
			}
		}
	}
	if variant == JoinRight || variant == JoinFull {
		for _, k := range right.Keys() {
			if len(left.Versions(k)) > 0 {
				continue
			}
			for _, ver := range right.Versions(k) {
				for _, e := range right.EntriesAt(k, ver) {
					acc.add(ver, multiset.Entry[JoinRow[K, A, B]]{
						Value: multiset.KVOf(k, multiset.RightOnly[A](e.Value)),
						Mult:  e.Mult,
					})
				}
			}
		}
	}
	return acc.batches()
}

// joinInner iterates the smaller side outer. Output value order within a
// group depends on the chosen direction, which the contract permits.
func joinInner[K, A, B any](left Store[K, A], right Store[K, B], acc *batchAccum[JoinRow[K, A, B]]) {
	if left.KeyCount() <= right.KeyCount() {
		for _, k := range left.Keys() {
			for _, verL := range left.Versions(k) {
				for _, le := range left.EntriesAt(k, verL) {
					for _, verR := range right.Versions(k) {
						for _, re := range right.EntriesAt(k, verR) {
							acc.add(verL.Join(verR), multiset.Entry[JoinRow[K, A, B]]{
								Value: multiset.KVOf(k, multiset.PairOf(le.Value, re.Value)),
								Mult:  le.Mult * re.Mult,
							})
						}
					}
				}
			}
		}
		return
	}
	for _, k := range right.Keys() {
		for _, verR := range right.Versions(k) {
			for _, re := range right.EntriesAt(k, verR) {
				for _, verL := range left.Versions(k) {
					for _, le := range left.EntriesAt(k, verL) {
						acc.add(verL.Join(verR), multiset.Entry[JoinRow[K, A, B]]{
							Value: multiset.KVOf(k, multiset.PairOf(le.Value, re.Value)),
							Mult:  le.Mult * re.Mult,
						})
					}
				}
			}
		}
	}
}
