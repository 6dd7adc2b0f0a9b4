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

package hashing

import "github.com/goccy/go-json"

// CanonicalJSON encodes v to a canonical JSON form: map keys are emitted in
// sorted order, struct fields in declaration order. Used as the serialization
// of keys and values for persistent index backends and as the wire form of
// grouping keys.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MustCanonicalJSON is CanonicalJSON for values known to be encodable
// (primitives, strings, and compositions thereof). It panics on encoding
// failure.
func MustCanonicalJSON(v any) []byte {
	data, err := CanonicalJSON(v)
	if err != nil {
		panic("hashing: canonical encoding failed: " + err.Error())
	}
	return data
}
