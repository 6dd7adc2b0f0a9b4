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
	"errors"
	"math/rand"
	"testing"

	"difflow/hashing"
	"difflow/multiset"
	"difflow/order"
)

func addAll[K, V any](t *testing.T, ix Store[K, V], key K, ver order.Version, entries ...multiset.Entry[V]) {
	t.Helper()
	for _, e := range entries {
		if err := ix.AddValue(key, ver, e); err != nil {
			t.Fatalf("AddValue(%v, %v, %v): %v", key, ver, e, err)
		}
	}
}

func reconstruct[K, V any](t *testing.T, ix Store[K, V], key K, ver order.Version) []multiset.Entry[V] {
	t.Helper()
	out, err := ix.ReconstructAt(key, ver)
	if err != nil {
		t.Fatalf("ReconstructAt(%v, %v): %v", key, ver, err)
	}
	return out
}

func consolidatedEqual[V any](t *testing.T, got, want []multiset.Entry[V]) {
	t.Helper()
	g := multiset.ConsolidateEntries(got)
	w := multiset.ConsolidateEntries(want)
	if len(g) != len(w) {
		t.Fatalf("consolidated = %v, want %v", g, w)
	}
	wantByHash := make(map[uint64]int, len(w))
	for _, e := range w {
		wantByHash[hashing.Sum(e.Value)] = e.Mult
	}
	for _, e := range g {
		if wantByHash[hashing.Sum(e.Value)] != e.Mult {
			t.Fatalf("consolidated = %v, want %v", g, w)
		}
	}
}

func TestIndex_ReconstructAt(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "k", order.NewVersion(1), multiset.Entry[int]{10, 1})
	addAll(t, ix, "k", order.NewVersion(2), multiset.Entry[int]{20, 1})
	addAll(t, ix, "k", order.NewVersion(3), multiset.Entry[int]{30, 1})

	testCases := []struct {
		name string
		at   order.Version
		want []multiset.Entry[int]
	}{
		{"BeforeAll", order.NewVersion(0), nil},
		{"First", order.NewVersion(1), []multiset.Entry[int]{{10, 1}}},
		{"Middle", order.NewVersion(2), []multiset.Entry[int]{{10, 1}, {20, 1}}},
		{"All", order.NewVersion(5), []multiset.Entry[int]{{10, 1}, {20, 1}, {30, 1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := reconstruct(t, ix, "k", tc.at)
			if len(got) != len(tc.want) {
				t.Fatalf("entries = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("entries = %v, want %v (insertion order must be preserved)", got, tc.want)
				}
			}
		})
	}
}

func TestIndex_ReconstructAt_MultiDim(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "k", order.NewVersion(1, 0), multiset.Entry[int]{1, 1})
	addAll(t, ix, "k", order.NewVersion(0, 1), multiset.Entry[int]{2, 1})

	// [1 0] and [0 1] are incomparable: reconstructing at either sees only
	// its own entry, at the join both.
	got := reconstruct(t, ix, "k", order.NewVersion(1, 0))
	consolidatedEqual(t, got, []multiset.Entry[int]{{1, 1}})
	got = reconstruct(t, ix, "k", order.NewVersion(1, 1))
	consolidatedEqual(t, got, []multiset.Entry[int]{{1, 1}, {2, 1}})
}

func TestIndex_VersionsAndKeys(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "a", order.NewVersion(1), multiset.Entry[int]{1, 1})
	addAll(t, ix, "a", order.NewVersion(2), multiset.Entry[int]{2, 1})
	addAll(t, ix, "a", order.NewVersion(1), multiset.Entry[int]{3, 1})
	addAll(t, ix, "b", order.NewVersion(1), multiset.Entry[int]{4, 1})

	vs := ix.Versions("a")
	if len(vs) != 2 || !vs[0].Equals(order.NewVersion(1)) || !vs[1].Equals(order.NewVersion(2)) {
		t.Errorf("Versions(a) = %v, want [1] [2]", vs)
	}
	if ix.KeyCount() != 2 || len(ix.Keys()) != 2 {
		t.Errorf("KeyCount = %d, Keys = %v, want 2 keys", ix.KeyCount(), ix.Keys())
	}
	if ix.Versions("missing") != nil {
		t.Error("Versions of a missing key must be nil")
	}

	// Keys iteration order is deterministic across identical indexes.
	other := New[string, int]()
	addAll(t, other, "b", order.NewVersion(1), multiset.Entry[int]{4, 1})
	addAll(t, other, "a", order.NewVersion(1), multiset.Entry[int]{1, 1})
	k1, k2 := ix.Keys(), other.Keys()
	for i := range k1 {
		if k1[i] != k2[i] {
			t.Errorf("key order differs between identical indexes: %v vs %v", k1, k2)
		}
	}
}

func TestIndex_ModifiedKeys(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "a", order.NewVersion(1), multiset.Entry[int]{1, 1})
	addAll(t, ix, "b", order.NewVersion(1), multiset.Entry[int]{2, 1})
	if got := ix.ModifiedKeys(); len(got) != 2 {
		t.Fatalf("ModifiedKeys = %v, want both keys", got)
	}
	if err := ix.Compact(order.NewAntichain(order.NewVersion(2))); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := ix.ModifiedKeys(); len(got) != 0 {
		t.Fatalf("ModifiedKeys after compact = %v, want none", got)
	}
	// Only keys touched after the compaction are revisited by the next one.
	addAll(t, ix, "b", order.NewVersion(3), multiset.Entry[int]{3, 1})
	if got := ix.ModifiedKeys(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("ModifiedKeys = %v, want [b]", got)
	}
}

func TestIndex_Append(t *testing.T) {
	a := New[string, int]()
	addAll(t, a, "k", order.NewVersion(1), multiset.Entry[int]{1, 1})
	b := New[string, int]()
	addAll(t, b, "k", order.NewVersion(2), multiset.Entry[int]{2, 1})
	addAll(t, b, "j", order.NewVersion(1), multiset.Entry[int]{9, -1})

	if err := Append[string, int](a, b); err != nil {
		t.Fatalf("Append: %v", err)
	}
	consolidatedEqual(t, reconstruct(t, a, "k", order.NewVersion(5)), []multiset.Entry[int]{{1, 1}, {2, 1}})
	consolidatedEqual(t, reconstruct(t, a, "j", order.NewVersion(5)), []multiset.Entry[int]{{9, -1}})
}

// TestIndex_CompactS6 is scenario S6: two entries that cancel at the join of
// their incomparable versions must consolidate to empty after compaction.
func TestIndex_CompactS6(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "k", order.NewVersion(1, 0), multiset.Entry[int]{10, 1})
	addAll(t, ix, "k", order.NewVersion(0, 1), multiset.Entry[int]{10, -1})

	f := order.NewAntichain(order.NewVersion(1, 1))
	if err := ix.Compact(f); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	got := reconstruct(t, ix, "k", order.NewVersion(1, 1))
	if consolidated := multiset.ConsolidateEntries(got); len(consolidated) != 0 {
		t.Errorf("ReconstructAt after compact = %v, want empty", consolidated)
	}
	if ix.KeyCount() != 0 {
		t.Errorf("fully cancelled key must be dropped, KeyCount = %d", ix.KeyCount())
	}
}

// TestIndex_CompactPreservesReconstruction is property 4: for any frontier F
// and version v covered by F, reconstruction at v is unchanged by Compact(F).
func TestIndex_CompactPreservesReconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 50; trial++ {
		ix := New[string, int]()
		for i := 0; i < 30; i++ {
			ver := order.NewVersion(rng.Intn(3), rng.Intn(3))
			key := string(rune('a' + rng.Intn(3)))
			e := multiset.Entry[int]{Value: rng.Intn(4), Mult: rng.Intn(5) - 2}
			addAll(t, ix, key, ver, e)
		}
		frontier := order.NewAntichain(order.NewVersion(2, 2))
		probe := order.NewVersion(3, 3)

		before := make(map[string][]multiset.Entry[int])
		for _, k := range []string{"a", "b", "c"} {
			before[k] = multiset.ConsolidateEntries(reconstruct(t, ix, k, probe))
		}
		if err := ix.Compact(frontier); err != nil {
			t.Fatalf("Compact: %v", err)
		}
		for _, k := range []string{"a", "b", "c"} {
			consolidatedEqual(t, reconstruct(t, ix, k, probe), before[k])
		}
	}
}

func TestIndex_CompactInvariants(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "k", order.NewVersion(1), multiset.Entry[int]{1, 1}, multiset.Entry[int]{1, 1})
	addAll(t, ix, "k", order.NewVersion(2), multiset.Entry[int]{1, 1})
	f := order.NewAntichain(order.NewVersion(3))
	if err := ix.Compact(f); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// Every surviving version is covered by the frontier and consolidated.
	for _, ver := range ix.Versions("k") {
		if !f.LessEqualVersion(ver) {
			t.Errorf("stored version %v not covered by %v", ver, f)
		}
		entries := ix.EntriesAt("k", ver)
		if len(entries) != 1 || entries[0].Mult != 3 {
			t.Errorf("EntriesAt = %v, want merged {1:+3}", entries)
		}
	}

	// Reads below the frontier now fail.
	if _, err := ix.ReconstructAt("k", order.NewVersion(2)); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("ReconstructAt below frontier: err = %v, want ErrInvalidVersion", err)
	}
	if err := ix.AddValue("k", order.NewVersion(1), multiset.Entry[int]{5, 1}); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("AddValue below frontier: err = %v, want ErrInvalidVersion", err)
	}

	// A regressive second compaction fails.
	if err := ix.Compact(order.NewAntichain(order.NewVersion(1))); !errors.Is(err, ErrInvalidFrontier) {
		t.Errorf("regressive Compact: err = %v, want ErrInvalidFrontier", err)
	}
	// An advancing one succeeds.
	if err := ix.Compact(order.NewAntichain(order.NewVersion(4))); err != nil {
		t.Errorf("advancing Compact: %v", err)
	}
}

func TestIndex_CompactExplicitKeys(t *testing.T) {
	ix := New[string, int]()
	addAll(t, ix, "a", order.NewVersion(1), multiset.Entry[int]{1, 1})
	addAll(t, ix, "b", order.NewVersion(1), multiset.Entry[int]{2, 1})
	f := order.NewAntichain(order.NewVersion(2))
	if err := ix.Compact(f, "a"); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	// Key a advanced, key b untouched.
	vsA := ix.Versions("a")
	if len(vsA) != 1 || !vsA[0].Equals(order.NewVersion(2)) {
		t.Errorf("Versions(a) = %v, want [[2]]", vsA)
	}
	vsB := ix.Versions("b")
	if len(vsB) != 1 || !vsB[0].Equals(order.NewVersion(1)) {
		t.Errorf("Versions(b) = %v, want [[1]]", vsB)
	}
}

func TestJoin_Inner(t *testing.T) {
	left := New[int, string]()
	right := New[int, string]()
	v1 := order.NewVersion(1)
	addAll(t, left, 1, v1, multiset.Entry[string]{"A", 1})
	addAll(t, left, 2, v1, multiset.Entry[string]{"B", 1})
	addAll(t, right, 2, v1, multiset.Entry[string]{"X", 1})
	addAll(t, right, 3, v1, multiset.Entry[string]{"Y", 1})

	batches := Join[int, string, string](left, right, JoinInner)
	if len(batches) != 1 || !batches[0].Version.Equals(v1) {
		t.Fatalf("batches = %v, want one batch at [1]", batches)
	}
	rows := batches[0].Data.Consolidate().Entries()
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want exactly one", rows)
	}
	row := rows[0]
	if row.Value.Key != 2 || *row.Value.Value.Left != "B" || *row.Value.Value.Right != "X" || row.Mult != 1 {
		t.Errorf("row = %v, want (2,(B,X))+1", row)
	}
}

// TestJoin_InnerCommutes is property 5: the inner join output is invariant
// under swapping sides, modulo the pair swap.
func TestJoin_InnerCommutes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	left := New[int, int]()
	right := New[int, int]()
	for i := 0; i < 40; i++ {
		ver := order.NewVersion(rng.Intn(3))
		k := rng.Intn(4)
		e := multiset.Entry[int]{Value: rng.Intn(5), Mult: rng.Intn(3) - 1}
		if rng.Intn(2) == 0 {
			addAll(t, left, k, ver, e)
		} else {
			addAll(t, right, k, ver, e)
		}
	}
	ab := Join[int, int, int](left, right, JoinInner)
	ba := Join[int, int, int](right, left, JoinInner)
	if len(ab) != len(ba) {
		t.Fatalf("batch counts differ: %d vs %d", len(ab), len(ba))
	}
	for i := range ab {
		if !ab[i].Version.Equals(ba[i].Version) {
			t.Fatalf("batch versions differ: %v vs %v", ab[i].Version, ba[i].Version)
		}
		swapped := multiset.Map(ba[i].Data, func(r JoinRow[int, int, int]) JoinRow[int, int, int] {
			return multiset.KVOf(r.Key, multiset.Pair[int, int]{Left: r.Value.Right, Right: r.Value.Left})
		})
		consolidatedEqual(t, ab[i].Data.Entries(), swapped.Entries())
	}
}

func TestJoin_Outer(t *testing.T) {
	left := New[int, string]()
	right := New[int, string]()
	v1 := order.NewVersion(1)
	addAll(t, left, 1, v1, multiset.Entry[string]{"A", 1})
	addAll(t, left, 2, v1, multiset.Entry[string]{"B", 1})
	addAll(t, right, 2, v1, multiset.Entry[string]{"X", 1})
	addAll(t, right, 3, v1, multiset.Entry[string]{"Y", 1})

	countRows := func(batches []Batch[JoinRow[int, string, string]]) (inner, leftNull, rightNull int) {
		for _, b := range batches {
			for _, e := range b.Data.Consolidate().Entries() {
				switch {
				case e.Value.Value.Left != nil && e.Value.Value.Right != nil:
					inner += e.Mult
				case e.Value.Value.Right == nil:
					leftNull += e.Mult
				default:
					rightNull += e.Mult
				}
			}
		}
		return
	}

	testCases := []struct {
		name                       string
		variant                    JoinVariant
		inner, leftNull, rightNull int
	}{
		{"Left", JoinLeft, 1, 1, 0},
		{"Right", JoinRight, 1, 0, 1},
		{"Full", JoinFull, 1, 1, 1},
		{"Anti", JoinAnti, 0, 1, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inner, ln, rn := countRows(Join[int, string, string](left, right, tc.variant))
			if inner != tc.inner || ln != tc.leftNull || rn != tc.rightNull {
				t.Errorf("rows (inner=%d leftNull=%d rightNull=%d), want (%d %d %d)",
					inner, ln, rn, tc.inner, tc.leftNull, tc.rightNull)
			}
		})
	}
}

func TestJoin_EmptyRight(t *testing.T) {
	left := New[int, string]()
	right := New[int, string]()
	addAll(t, left, 1, order.NewVersion(1), multiset.Entry[string]{"A", 1})

	if got := Join[int, string, string](left, right, JoinInner); len(got) != 0 {
		t.Errorf("inner join with empty right = %v, want empty", got)
	}
	batches := Join[int, string, string](left, right, JoinLeft)
	if len(batches) != 1 {
		t.Fatalf("left join with empty right = %v, want the left side", batches)
	}
	rows := batches[0].Data.Consolidate().Entries()
	if len(rows) != 1 || rows[0].Value.Value.Right != nil || *rows[0].Value.Value.Left != "A" {
		t.Errorf("rows = %v, want (1,(A,nil))+1", rows)
	}
}

func TestJoin_VersionIsLub(t *testing.T) {
	left := New[string, int]()
	right := New[string, int]()
	addAll(t, left, "k", order.NewVersion(1, 0), multiset.Entry[int]{1, 1})
	addAll(t, right, "k", order.NewVersion(0, 1), multiset.Entry[int]{2, 1})

	batches := Join[string, int, int](left, right, JoinInner)
	if len(batches) != 1 || !batches[0].Version.Equals(order.NewVersion(1, 1)) {
		t.Errorf("batches = %v, want single batch at [1 1]", batches)
	}
}
