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

package multiset

import "difflow/hashing"

// KV is the unit of keyed collections. Keyed operators (reduce, join, topK)
// run over MultiSet[KV[K, V]].
type KV[K, V any] struct {
	Key   K
	Value V
}

// KVOf is a small constructor convenience.
func KVOf[K, V any](k K, v V) KV[K, V] { return KV[K, V]{Key: k, Value: v} }

// Pair is the value half of a join output row. A nil side encodes the missing
// half of an outer-join row; inner joins always populate both.
type Pair[A, B any] struct {
	Left  *A
	Right *B
}

// PairOf builds a fully populated pair.
func PairOf[A, B any](a A, b B) Pair[A, B] { return Pair[A, B]{Left: &a, Right: &b} }

// LeftOnly builds a pair with an absent right half.
func LeftOnly[A, B any](a A) Pair[A, B] { return Pair[A, B]{Left: &a} }

// RightOnly builds a pair with an absent left half.
func RightOnly[A, B any](b B) Pair[A, B] { return Pair[A, B]{Right: &b} }

// Join computes the per-key cross product of two keyed collections,
// multiplying multiplicities. It exists for debugging and direct use; the
// dataflow join operator maintains the same product incrementally over
// versioned indexes.
func Join[K, A, B any](left MultiSet[KV[K, A]], right MultiSet[KV[K, B]]) MultiSet[KV[K, Pair[A, B]]] {
	byKey := make(map[uint64][]Entry[KV[K, B]], right.Len())
	for _, e := range right.Entries() {
		h := hashing.Sum(e.Value.Key)
		byKey[h] = append(byKey[h], e)
	}
	var out []Entry[KV[K, Pair[A, B]]]
	for _, le := range left.Entries() {
		h := hashing.Sum(le.Value.Key)
		for _, re := range byKey[h] {
			out = append(out, Entry[KV[K, Pair[A, B]]]{
				Value: KV[K, Pair[A, B]]{Key: le.Value.Key, Value: PairOf(le.Value.Value, re.Value.Value)},
				Mult:  le.Mult * re.Mult,
			})
		}
	}
	return New(out...)
}
