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

package order

import (
	"testing"

	"github.com/goccy/go-json"
)

// TestVersion_ProductOrder validates the coordinate-wise partial order,
// including the incomparable cases that only exist above dimension one.
func TestVersion_ProductOrder(t *testing.T) {
	testCases := []struct {
		name            string
		a, b            Version
		lessEqual, less bool
	}{
		{"Equal1D", NewVersion(3), NewVersion(3), true, false},
		{"Less1D", NewVersion(2), NewVersion(3), true, true},
		{"Greater1D", NewVersion(4), NewVersion(3), false, false},
		{"Equal2D", NewVersion(1, 2), NewVersion(1, 2), true, false},
		{"Dominated2D", NewVersion(1, 1), NewVersion(2, 2), true, true},
		{"Incomparable", NewVersion(1, 0), NewVersion(0, 1), false, false},
		{"MismatchedDim", NewVersion(1), NewVersion(1, 0), false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.LessEqual(tc.b); got != tc.lessEqual {
				t.Errorf("%v.LessEqual(%v) = %v, want %v", tc.a, tc.b, got, tc.lessEqual)
			}
			if got := tc.a.LessThan(tc.b); got != tc.less {
				t.Errorf("%v.LessThan(%v) = %v, want %v", tc.a, tc.b, got, tc.less)
			}
		})
	}
}

func TestVersion_JoinMeet(t *testing.T) {
	a, b := NewVersion(1, 3), NewVersion(2, 0)
	if j := a.Join(b); !j.Equals(NewVersion(2, 3)) {
		t.Errorf("Join = %v, want [2 3]", j)
	}
	if m := a.Meet(b); !m.Equals(NewVersion(1, 0)) {
		t.Errorf("Meet = %v, want [1 0]", m)
	}
}

func TestVersion_ExtendTruncate(t *testing.T) {
	v := NewVersion(5)
	e := v.Extend(0)
	if e.Dim() != 2 || e.Coord(0) != 5 || e.Coord(1) != 0 {
		t.Errorf("Extend = %v, want [5 0]", e)
	}
	if tr := e.Truncate(); !tr.Equals(v) {
		t.Errorf("Truncate(Extend(v)) = %v, want %v", tr, v)
	}
}

// TestVersion_JSONRoundTrip checks the canonical serialization: a JSON array
// of non-negative integers, stable through a round trip.
func TestVersion_JSONRoundTrip(t *testing.T) {
	v := NewVersion(1, 0, 7)
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "[1,0,7]" {
		t.Errorf("Marshal = %s, want [1,0,7]", data)
	}
	var back Version
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equals(v) {
		t.Errorf("round trip = %v, want %v", back, v)
	}

	if err := json.Unmarshal([]byte("[-1]"), &back); err == nil {
		t.Error("Unmarshal accepted a negative coordinate")
	}
}

// TestAntichain_Normalisation checks that construction keeps only minimal
// elements regardless of input order.
func TestAntichain_Normalisation(t *testing.T) {
	testCases := []struct {
		name  string
		input []Version
		want  []Version
	}{
		{"DominatedDropped", []Version{NewVersion(1), NewVersion(3)}, []Version{NewVersion(1)}},
		{"ReverseOrder", []Version{NewVersion(3), NewVersion(1)}, []Version{NewVersion(1)}},
		{"IncomparableKept", []Version{NewVersion(1, 0), NewVersion(0, 1)}, []Version{NewVersion(0, 1), NewVersion(1, 0)}},
		{"Duplicate", []Version{NewVersion(2), NewVersion(2)}, []Version{NewVersion(2)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewAntichain(tc.input...).Elements()
			if len(got) != len(tc.want) {
				t.Fatalf("elements = %v, want %v", got, tc.want)
			}
			for i := range got {
				if !got[i].Equals(tc.want[i]) {
					t.Errorf("elements = %v, want %v", got, tc.want)
					break
				}
			}
		})
	}
}

func TestAntichain_Covers(t *testing.T) {
	f := NewAntichain(NewVersion(1, 0), NewVersion(0, 2))
	testCases := []struct {
		v       Version
		covered bool
	}{
		{NewVersion(1, 0), true},
		{NewVersion(5, 5), true},
		{NewVersion(0, 2), true},
		{NewVersion(0, 1), false},
		{NewVersion(0, 0), false},
	}
	for _, tc := range testCases {
		if got := f.LessEqualVersion(tc.v); got != tc.covered {
			t.Errorf("LessEqualVersion(%v) = %v, want %v", tc.v, got, tc.covered)
		}
	}
}

func TestAntichain_LessEqual(t *testing.T) {
	a := NewAntichain(NewVersion(0))
	b := NewAntichain(NewVersion(2))
	if !a.LessEqual(b) {
		t.Error("frontier {[0]} should be ≤ {[2]}")
	}
	if b.LessEqual(a) {
		t.Error("frontier {[2]} should not be ≤ {[0]}")
	}
	c := NewAntichain(NewVersion(1, 0))
	d := NewAntichain(NewVersion(0, 1))
	if c.LessEqual(d) || d.LessEqual(c) {
		t.Error("incomparable frontiers should not be mutually ≤")
	}
}

func TestAntichain_Meet(t *testing.T) {
	a := NewAntichain(NewVersion(1, 0))
	b := NewAntichain(NewVersion(0, 1))
	m := a.Meet(b)
	want := NewAntichain(NewVersion(1, 0), NewVersion(0, 1))
	if !m.Equals(want) {
		t.Errorf("Meet = %v, want %v", m, want)
	}
	if !m.LessEqual(a) || !m.LessEqual(b) {
		t.Error("meet must be ≤ both operands")
	}
}

// TestAntichain_AdvanceVersion pins the compaction mapping: the meet over
// frontier elements of join(v, f).
func TestAntichain_AdvanceVersion(t *testing.T) {
	testCases := []struct {
		name     string
		frontier Antichain
		v, want  Version
	}{
		{"BelowSingle", NewAntichain(NewVersion(3)), NewVersion(1), NewVersion(3)},
		{"CoveredUnchanged", NewAntichain(NewVersion(3)), NewVersion(5), NewVersion(5)},
		{"MultiDim", NewAntichain(NewVersion(1, 1)), NewVersion(1, 0), NewVersion(1, 1)},
		{"MultiDimOther", NewAntichain(NewVersion(1, 1)), NewVersion(0, 1), NewVersion(1, 1)},
		{"EmptyFrontier", NewAntichain(), NewVersion(2), NewVersion(2)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.frontier.AdvanceVersion(tc.v); !got.Equals(tc.want) {
				t.Errorf("AdvanceVersion(%v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestAntichain_ExtendTruncate(t *testing.T) {
	a := NewAntichain(NewVersion(2), NewVersion(5))
	ext := a.Extend(0)
	for _, e := range ext.Elements() {
		if e.Dim() != 2 || e.Coord(1) != 0 {
			t.Errorf("Extend element = %v, want trailing zero", e)
		}
	}
	// Truncation can merge previously incomparable elements.
	b := NewAntichain(NewVersion(2, 0), NewVersion(1, 5))
	tr := b.Truncate()
	if got := tr.Elements(); len(got) != 1 || !got[0].Equals(NewVersion(1)) {
		t.Errorf("Truncate = %v, want {[1]}", got)
	}
}
