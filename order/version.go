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

// Package order provides the partially-ordered logical timestamps that drive
// progress tracking in the dataflow runtime. A Version is a fixed-dimension
// vector of non-negative integers under the coordinate-wise product order; an
// Antichain is a set of pairwise-incomparable Versions acting as a lower bound
// on the Versions of all future messages.
package order

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Version is an immutable point in partially-ordered logical time.
//
// Two Versions are comparable only when they share the same dimension; Versions
// of different dimensions are treated as incomparable everywhere below. The
// zero Version has dimension zero and is only useful as a placeholder.
type Version struct {
	coords []int
}

// NewVersion builds a Version from the given coordinates. Coordinates must be
// non-negative; a negative coordinate is a programming error and panics.
func NewVersion(coords ...int) Version {
	for _, c := range coords {
		if c < 0 {
			panic(fmt.Sprintf("order: negative version coordinate %d", c))
		}
	}
	cp := make([]int, len(coords))
	copy(cp, coords)
	return Version{coords: cp}
}

// Dim returns the number of coordinates.
func (v Version) Dim() int { return len(v.coords) }

// Coord returns the i-th coordinate.
func (v Version) Coord(i int) int { return v.coords[i] }

// Coords returns a copy of the coordinate vector.
func (v Version) Coords() []int {
	cp := make([]int, len(v.coords))
	copy(cp, v.coords)
	return cp
}

// LessEqual reports whether v ≤ w in the product order. Versions of mismatched
// dimension are incomparable and always report false.
func (v Version) LessEqual(w Version) bool {
	if len(v.coords) != len(w.coords) {
		return false
	}
	for i := range v.coords {
		if v.coords[i] > w.coords[i] {
			return false
		}
	}
	return true
}

// LessThan reports whether v ≤ w and v ≠ w.
func (v Version) LessThan(w Version) bool {
	return v.LessEqual(w) && !v.Equals(w)
}

// Equals reports coordinate-wise equality.
func (v Version) Equals(w Version) bool {
	if len(v.coords) != len(w.coords) {
		return false
	}
	for i := range v.coords {
		if v.coords[i] != w.coords[i] {
			return false
		}
	}
	return true
}

// Join returns the least upper bound: the coordinate-wise max of v and w.
// Joining Versions of mismatched dimension is a programming error and panics;
// the graph layer rejects mixed dimensions before they can reach here.
func (v Version) Join(w Version) Version {
	if len(v.coords) != len(w.coords) {
		panic(fmt.Sprintf("order: join of versions with dimensions %d and %d", len(v.coords), len(w.coords)))
	}
	out := make([]int, len(v.coords))
	for i := range v.coords {
		if v.coords[i] >= w.coords[i] {
			out[i] = v.coords[i]
		} else {
			out[i] = w.coords[i]
		}
	}
	return Version{coords: out}
}

// Meet returns the greatest lower bound: the coordinate-wise min of v and w.
func (v Version) Meet(w Version) Version {
	if len(v.coords) != len(w.coords) {
		panic(fmt.Sprintf("order: meet of versions with dimensions %d and %d", len(v.coords), len(w.coords)))
	}
	out := make([]int, len(v.coords))
	for i := range v.coords {
		if v.coords[i] <= w.coords[i] {
			out[i] = v.coords[i]
		} else {
			out[i] = w.coords[i]
		}
	}
	return Version{coords: out}
}

// Extend appends a coordinate, lifting the Version into the next higher
// dimension. Used by timestamp shifting when entering a nested scope.
func (v Version) Extend(coord int) Version {
	if coord < 0 {
		panic(fmt.Sprintf("order: negative version coordinate %d", coord))
	}
	out := make([]int, len(v.coords)+1)
	copy(out, v.coords)
	out[len(v.coords)] = coord
	return Version{coords: out}
}

// Truncate drops the last coordinate. Truncating a zero-dimension Version
// panics.
func (v Version) Truncate() Version {
	if len(v.coords) == 0 {
		panic("order: truncate of zero-dimension version")
	}
	out := make([]int, len(v.coords)-1)
	copy(out, v.coords)
	return Version{coords: out}
}

// Key returns a compact string form usable as a map key. It is not the
// serialization format; see MarshalJSON for that.
func (v Version) Key() string {
	var sb strings.Builder
	for i, c := range v.coords {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(c))
	}
	return sb.String()
}

// String renders the coordinate vector, e.g. "[1 0]".
func (v Version) String() string {
	return fmt.Sprintf("%v", v.coords)
}

// MarshalJSON encodes the Version as the canonical JSON array of its
// coordinates.
func (v Version) MarshalJSON() ([]byte, error) {
	if v.coords == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.coords)
}

// UnmarshalJSON decodes a JSON array of non-negative integers.
func (v *Version) UnmarshalJSON(data []byte) error {
	var coords []int
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	for _, c := range coords {
		if c < 0 {
			return fmt.Errorf("order: negative version coordinate %d", c)
		}
	}
	v.coords = coords
	return nil
}

// CompareTotal imposes a deterministic total order compatible with the product
// order: first by coordinate sum, then lexicographically. If v < w in the
// product order then CompareTotal(v, w) < 0, so sorting by it yields a valid
// linear extension for release processing.
func (v Version) CompareTotal(w Version) int {
	sv, sw := 0, 0
	for _, c := range v.coords {
		sv += c
	}
	for _, c := range w.coords {
		sw += c
	}
	if sv != sw {
		if sv < sw {
			return -1
		}
		return 1
	}
	for i := 0; i < len(v.coords) && i < len(w.coords); i++ {
		if v.coords[i] != w.coords[i] {
			if v.coords[i] < w.coords[i] {
				return -1
			}
			return 1
		}
	}
	return len(v.coords) - len(w.coords)
}
