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

import (
	"errors"
	"math/rand"
	"testing"

	"difflow/hashing"
)

func entriesEqual[T any](t *testing.T, got, want []Entry[T]) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range got {
		if hashing.Sum(got[i].Value) != hashing.Sum(want[i].Value) || got[i].Mult != want[i].Mult {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
}

func TestMultiSet_MapFilterNegate(t *testing.T) {
	m := New(Entry[int]{1, 1}, Entry[int]{2, -2}, Entry[int]{3, 1})

	doubled := Map(m, func(x int) int { return x * 2 })
	entriesEqual(t, doubled.Entries(), []Entry[int]{{2, 1}, {4, -2}, {6, 1}})

	odd := m.Filter(func(x int) bool { return x%2 == 1 })
	entriesEqual(t, odd.Entries(), []Entry[int]{{1, 1}, {3, 1}})

	neg := m.Negate()
	entriesEqual(t, neg.Entries(), []Entry[int]{{1, -1}, {2, 2}, {3, -1}})

	// The receiver is never modified.
	entriesEqual(t, m.Entries(), []Entry[int]{{1, 1}, {2, -2}, {3, 1}})
}

func TestMultiSet_Concat(t *testing.T) {
	a := FromValues("x", "y")
	b := New(Entry[string]{"x", -1})
	c := a.Concat(b)
	// Physical append: no merging until consolidation.
	entriesEqual(t, c.Entries(), []Entry[string]{{"x", 1}, {"y", 1}, {"x", -1}})
	entriesEqual(t, c.Consolidate().Entries(), []Entry[string]{{"y", 1}})
}

func TestMultiSet_Consolidate(t *testing.T) {
	testCases := []struct {
		name  string
		input []Entry[string]
		want  []Entry[string]
	}{
		{"Empty", nil, nil},
		{"MergesDuplicates", []Entry[string]{{"a", 1}, {"a", 2}, {"b", 1}}, []Entry[string]{{"a", 3}, {"b", 1}}},
		{"DropsZeros", []Entry[string]{{"a", 1}, {"a", -1}, {"b", 2}}, []Entry[string]{{"b", 2}}},
		{"KeepsNegatives", []Entry[string]{{"a", -2}}, []Entry[string]{{"a", -2}}},
		{"FirstOccurrenceOrder", []Entry[string]{{"b", 1}, {"a", 1}, {"b", 1}}, []Entry[string]{{"b", 2}, {"a", 1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entriesEqual(t, New(tc.input...).Consolidate().Entries(), tc.want)
		})
	}
}

// TestMultiSet_ConsolidateIdempotent checks property 1 of the universal
// invariants: consolidate(consolidate(M)) ≡ consolidate(M), over randomly
// generated collections.
func TestMultiSet_ConsolidateIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 100; trial++ {
		entries := make([]Entry[int], rng.Intn(20))
		for i := range entries {
			entries[i] = Entry[int]{Value: rng.Intn(5), Mult: rng.Intn(7) - 3}
		}
		m := New(entries...)
		once := m.Consolidate()
		twice := once.Consolidate()
		entriesEqual(t, twice.Entries(), once.Entries())
	}
}

// TestMultiSet_NegateConcatCancels checks property 2: for any M,
// consolidate(M.concat(M.negate())) is empty.
func TestMultiSet_NegateConcatCancels(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		entries := make([]Entry[string], rng.Intn(15))
		for i := range entries {
			entries[i] = Entry[string]{Value: string(rune('a' + rng.Intn(4))), Mult: rng.Intn(9) - 4}
		}
		m := New(entries...)
		if got := m.Concat(m.Negate()).Consolidate(); !got.Empty() {
			t.Fatalf("M ++ -M consolidated to %v, want empty", got)
		}
	}
}

func TestMultiSet_Distinct(t *testing.T) {
	m := New(Entry[string]{"a", 2}, Entry[string]{"b", 1}, Entry[string]{"c", 1}, Entry[string]{"c", -1})
	got, err := m.Distinct()
	if err != nil {
		t.Fatalf("Distinct: %v", err)
	}
	entriesEqual(t, got.Entries(), []Entry[string]{{"a", 1}, {"b", 1}})

	if _, err := New(Entry[string]{"a", -1}).Distinct(); !errors.Is(err, ErrInvalidAggregate) {
		t.Errorf("Distinct over negative multiplicity: err = %v, want ErrInvalidAggregate", err)
	}
}

func TestMultiSet_MinMax(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	m := New(Entry[int]{3, 1}, Entry[int]{1, 2}, Entry[int]{2, 1})

	got, err := Min(m, less)
	if err != nil {
		t.Fatalf("Min: %v", err)
	}
	entriesEqual(t, got.Entries(), []Entry[int]{{1, 1}})

	got, err = Max(m, less)
	if err != nil {
		t.Fatalf("Max: %v", err)
	}
	entriesEqual(t, got.Entries(), []Entry[int]{{3, 1}})

	if _, err := Min(New(Entry[int]{1, -1}), less); !errors.Is(err, ErrInvalidAggregate) {
		t.Errorf("Min over negative multiplicity: err = %v, want ErrInvalidAggregate", err)
	}

	empty, err := Min(New[int](), less)
	if err != nil || !empty.Empty() {
		t.Errorf("Min of empty = (%v, %v), want empty, nil", empty, err)
	}
}

func TestMultiSet_Join(t *testing.T) {
	left := New(
		Entry[KV[int, string]]{KVOf(1, "A"), 1},
		Entry[KV[int, string]]{KVOf(2, "B"), 1},
	)
	right := New(
		Entry[KV[int, string]]{KVOf(2, "X"), 1},
		Entry[KV[int, string]]{KVOf(3, "Y"), 1},
	)
	out := Join(left, right).Consolidate()
	if out.Len() != 1 {
		t.Fatalf("join output = %v, want one row", out)
	}
	row := out.Entries()[0]
	if row.Value.Key != 2 || *row.Value.Value.Left != "B" || *row.Value.Value.Right != "X" || row.Mult != 1 {
		t.Errorf("join row = %v, want (2,(B,X))+1", row)
	}
}

func TestMultiSet_JoinMultiplicities(t *testing.T) {
	left := New(Entry[KV[string, int]]{KVOf("k", 1), 2})
	right := New(Entry[KV[string, int]]{KVOf("k", 10), -1})
	out := Join(left, right)
	if out.Len() != 1 || out.Entries()[0].Mult != -2 {
		t.Errorf("join multiplicities = %v, want product -2", out)
	}
}
