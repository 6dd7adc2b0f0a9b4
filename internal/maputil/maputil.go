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

// Package maputil holds small map helpers shared by the stateful operators.
package maputil

// DefaultMap is a map that materialises missing entries through a factory on
// first access. It removes the get-or-insert boilerplate from per-version and
// per-key bookkeeping in the stateful operators.
type DefaultMap[K comparable, V any] struct {
	m       map[K]V
	factory func() V
}

// NewDefaultMap builds a DefaultMap with the given factory for absent keys.
func NewDefaultMap[K comparable, V any](factory func() V) *DefaultMap[K, V] {
	return &DefaultMap[K, V]{m: make(map[K]V), factory: factory}
}

// Get returns the value for k, creating it with the factory if absent.
func (d *DefaultMap[K, V]) Get(k K) V {
	if v, ok := d.m[k]; ok {
		return v
	}
	v := d.factory()
	d.m[k] = v
	return v
}

// Peek returns the value for k without materialising it.
func (d *DefaultMap[K, V]) Peek(k K) (V, bool) {
	v, ok := d.m[k]
	return v, ok
}

// Set stores v under k.
func (d *DefaultMap[K, V]) Set(k K, v V) { d.m[k] = v }

// Delete removes k.
func (d *DefaultMap[K, V]) Delete(k K) { delete(d.m, k) }

// Len returns the number of materialised entries.
func (d *DefaultMap[K, V]) Len() int { return len(d.m) }

// Range calls f for every entry until f returns false. Iteration order is
// unspecified; callers needing determinism must sort keys themselves.
func (d *DefaultMap[K, V]) Range(f func(K, V) bool) {
	for k, v := range d.m {
		if !f(k, v) {
			return
		}
	}
}

// Keys returns the materialised keys in unspecified order.
func (d *DefaultMap[K, V]) Keys() []K {
	out := make([]K, 0, len(d.m))
	for k := range d.m {
		out = append(out, k)
	}
	return out
}
