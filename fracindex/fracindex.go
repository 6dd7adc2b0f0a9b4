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

// Package fracindex generates fractional indexes: lexicographically sortable
// strings with the property that a new string can always be generated
// strictly between any two neighbors. The ordered output of the topK
// operators annotates each row with such an index so that unmoved rows keep
// their position across updates.
//
// Index strings can grow without bound under adversarial insertion patterns
// (repeatedly inserting at the same gap). No periodic re-indexing is
// performed here; workloads that need it must rebuild the ordering
// themselves.
package fracindex

import (
	"fmt"
	"strings"
)

// digits is the ordered alphabet. It must be sorted by byte value so that
// string comparison and index comparison agree.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(digits)

// Between returns a key strictly between a and b. An empty a means "no lower
// bound" and an empty b means "no upper bound"; Between("", "") returns a key
// usable as the first index. When both bounds are given, a must sort strictly
// before b. Generated keys never end in the smallest digit, which guarantees
// a gap below every generated key.
func Between(a, b string) (string, error) {
	if b != "" && a >= b {
		return "", fmt.Errorf("fracindex: lower bound %q not before upper bound %q", a, b)
	}
	var sb strings.Builder
	for i := 0; ; i++ {
		da := 0
		if i < len(a) {
			d, err := digitAt(a, i)
			if err != nil {
				return "", err
			}
			da = d
		}
		db := base
		if b != "" {
			// While a < b the scan cannot run past b's end: that would make b a
			// prefix of a and contradict the ordering.
			d, err := digitAt(b, i)
			if err != nil {
				return "", err
			}
			db = d
		}
		switch {
		case da == db:
			sb.WriteByte(digits[da])
		case db-da >= 2:
			sb.WriteByte(digits[(da+db)/2])
			return sb.String(), nil
		default:
			// Adjacent digits: fix the lower digit and find a key above the
			// remainder of a with no upper bound.
			sb.WriteByte(digits[da])
			for j := i + 1; ; j++ {
				dj := 0
				if j < len(a) {
					d, err := digitAt(a, j)
					if err != nil {
						return "", err
					}
					dj = d
				}
				if dj == base-1 {
					sb.WriteByte(digits[base-1])
					continue
				}
				sb.WriteByte(digits[(dj+base)/2])
				return sb.String(), nil
			}
		}
	}
}

func digitAt(s string, i int) (int, error) {
	c := s[i]
	idx := strings.IndexByte(digits, c)
	if idx < 0 {
		return 0, fmt.Errorf("fracindex: byte %q outside the index alphabet", c)
	}
	return idx, nil
}

// Valid reports whether s is a well-formed index: non-empty, drawn from the
// alphabet, and not ending in the smallest digit.
func Valid(s string) bool {
	if s == "" || s[len(s)-1] == digits[0] {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(digits, s[i]) < 0 {
			return false
		}
	}
	return true
}
