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

// Package index implements the versioned index at the heart of the stateful
// operators: a mapping key → version → (value, multiplicity) entries, with
// reconstruction at a version, merging, joining, and frontier-driven
// compaction. The Store interface is the unit of backend pluggability; the
// in-memory Index here is the reference implementation and redixstore
// provides a Redis-backed one.
//
// A Store is owned by exactly one operator and is not safe for concurrent
// use; the runtime's single-threaded scheduling provides all required
// serialisation.
package index

import (
	"errors"
	"fmt"

	"github.com/google/btree"

	"difflow/hashing"
	"difflow/multiset"
	"difflow/order"
)

// ErrInvalidVersion reports an operation at a version no longer covered by
// the index's compaction frontier.
var ErrInvalidVersion = errors.New("index: version below the compaction frontier")

// ErrInvalidFrontier reports a compaction frontier that does not advance the
// previous one.
var ErrInvalidFrontier = errors.New("index: compaction frontier must advance the previous frontier")

// Batch is a difference collection stamped with the version it occurs at.
type Batch[T any] struct {
	Version order.Version
	Data    multiset.MultiSet[T]
}

// Store is the versioned-index contract. Implementations must provide
// single-threaded access semantics equivalent to in-memory mutation and
// must preserve the compaction invariants: after Compact(F), every stored
// version of each compacted key is covered by F, per-version entry groups of
// those keys are consolidated,
// and any operation referencing a version not covered by F fails with
// ErrInvalidVersion.
type Store[K, V any] interface {
	// AddValue appends one entry at (key, ver). Entries at one version keep
	// their insertion order in ReconstructAt.
	AddValue(key K, ver order.Version, e multiset.Entry[V]) error

	// ReconstructAt returns every entry stored at a version ≤ ver, grouped by
	// version: versions in first-insertion order, each version's entries in
	// insertion order. An entry added later at an earlier-inserted version
	// comes back before the entries of versions inserted after it, so the
	// result is not the global insertion order. It is not consolidated.
	ReconstructAt(key K, ver order.Version) ([]multiset.Entry[V], error)

	// Versions returns the distinct versions holding entries for key, in
	// first-insertion order. A key with no entries yields nil.
	Versions(key K) []order.Version

	// EntriesAt returns the entries stored exactly at (key, ver).
	EntriesAt(key K, ver order.Version) []multiset.Entry[V]

	// Keys returns all keys with stored entries, in a deterministic order.
	Keys() []K

	// KeyCount returns the number of keys with stored entries.
	KeyCount() int

	// ModifiedKeys returns the keys touched since the last compaction, in a
	// deterministic order.
	ModifiedKeys() []K

	// Compact advances every stored version not covered by frontier onto it,
	// merges colliding entries, and drops zero-sum groups. With no explicit
	// keys it targets the modified-keys set. A frontier that does not advance
	// the previous compaction frontier fails with ErrInvalidFrontier.
	Compact(frontier order.Antichain, keys ...K) error

	// CompactionFrontier returns the current compaction frontier; ok is false
	// before the first compaction.
	CompactionFrontier() (order.Antichain, bool)
}

var _ Store[string, int] = (*Index[string, int])(nil)

// verSlot holds the entries stored at one version of one key.
type verSlot[V any] struct {
	ver     order.Version
	entries []multiset.Entry[V]
}

// keyState holds one key's slots in first-insertion order plus a lookup by
// version key.
type keyState[K, V any] struct {
	key   K
	slots []*verSlot[V]
	byVer map[string]*verSlot[V]
}

// Index is the in-memory Store implementation. Keys are identified by the
// deterministic content hash; an ordered directory of key hashes gives
// deterministic iteration for joins and compaction.
type Index[K, V any] struct {
	dir       *btree.BTreeG[uint64]
	byHash    map[uint64]*keyState[K, V]
	modified  map[uint64]struct{}
	frontier  order.Antichain
	compacted bool
}

// New creates an empty in-memory index.
func New[K, V any]() *Index[K, V] {
	return &Index[K, V]{
		dir:      btree.NewG[uint64](8, func(a, b uint64) bool { return a < b }),
		byHash:   make(map[uint64]*keyState[K, V]),
		modified: make(map[uint64]struct{}),
	}
}

// checkVersion rejects versions below the compaction frontier.
func (ix *Index[K, V]) checkVersion(ver order.Version) error {
	if ix.compacted && !ix.frontier.LessEqualVersion(ver) {
		return fmt.Errorf("%w: %v not covered by %v", ErrInvalidVersion, ver, ix.frontier)
	}
	return nil
}

// AddValue appends one entry at (key, ver).
func (ix *Index[K, V]) AddValue(key K, ver order.Version, e multiset.Entry[V]) error {
	if err := ix.checkVersion(ver); err != nil {
		return err
	}
	h := hashing.Sum(key)
	ks, ok := ix.byHash[h]
	if !ok {
		ks = &keyState[K, V]{key: key, byVer: make(map[string]*verSlot[V])}
		ix.byHash[h] = ks
		ix.dir.ReplaceOrInsert(h)
	}
	vk := ver.Key()
	slot, ok := ks.byVer[vk]
	if !ok {
		slot = &verSlot[V]{ver: ver}
		ks.byVer[vk] = slot
		ks.slots = append(ks.slots, slot)
	}
	slot.entries = append(slot.entries, e)
	ix.modified[h] = struct{}{}
	return nil
}

// ReconstructAt returns every entry stored for key at versions ≤ ver, grouped
// by version slot (slots in first-insertion order, entries within a slot in
// insertion order), without consolidating.
func (ix *Index[K, V]) ReconstructAt(key K, ver order.Version) ([]multiset.Entry[V], error) {
	if err := ix.checkVersion(ver); err != nil {
		return nil, err
	}
	ks, ok := ix.byHash[hashing.Sum(key)]
	if !ok {
		return nil, nil
	}
	var out []multiset.Entry[V]
	for _, slot := range ks.slots {
		if slot.ver.LessEqual(ver) {
			out = append(out, slot.entries...)
		}
	}
	return out, nil
}

// Versions returns the distinct versions holding entries for key.
func (ix *Index[K, V]) Versions(key K) []order.Version {
	ks, ok := ix.byHash[hashing.Sum(key)]
	if !ok {
		return nil
	}
	out := make([]order.Version, len(ks.slots))
	for i, slot := range ks.slots {
		out[i] = slot.ver
	}
	return out
}

// EntriesAt returns the entries stored exactly at (key, ver).
func (ix *Index[K, V]) EntriesAt(key K, ver order.Version) []multiset.Entry[V] {
	ks, ok := ix.byHash[hashing.Sum(key)]
	if !ok {
		return nil
	}
	slot, ok := ks.byVer[ver.Key()]
	if !ok {
		return nil
	}
	cp := make([]multiset.Entry[V], len(slot.entries))
	copy(cp, slot.entries)
	return cp
}

// Keys returns every key with stored entries in hash order.
func (ix *Index[K, V]) Keys() []K {
	out := make([]K, 0, len(ix.byHash))
	ix.dir.Ascend(func(h uint64) bool {
		out = append(out, ix.byHash[h].key)
		return true
	})
	return out
}

// KeyCount returns the number of stored keys.
func (ix *Index[K, V]) KeyCount() int { return len(ix.byHash) }

// ModifiedKeys returns the keys touched since the last compaction, in hash
// order.
func (ix *Index[K, V]) ModifiedKeys() []K {
	out := make([]K, 0, len(ix.modified))
	ix.dir.Ascend(func(h uint64) bool {
		if _, ok := ix.modified[h]; ok {
			out = append(out, ix.byHash[h].key)
		}
		return true
	})
	return out
}

// CompactionFrontier returns the frontier recorded by the last Compact.
func (ix *Index[K, V]) CompactionFrontier() (order.Antichain, bool) {
	return ix.frontier, ix.compacted
}

// Compact advances stored versions onto the frontier and re-consolidates.
// Keys defaults to the modified-keys set: keys untouched since the last
// compaction are skipped and keep the versions they already hold, which need
// not be covered by the new frontier.
func (ix *Index[K, V]) Compact(frontier order.Antichain, keys ...K) error {
	if ix.compacted && !ix.frontier.LessEqual(frontier) {
		return fmt.Errorf("%w: %v does not advance %v", ErrInvalidFrontier, frontier, ix.frontier)
	}
	var hashes []uint64
	if len(keys) > 0 {
		for _, k := range keys {
			hashes = append(hashes, hashing.Sum(k))
		}
	} else {
		ix.dir.Ascend(func(h uint64) bool {
			if _, ok := ix.modified[h]; ok {
				hashes = append(hashes, h)
			}
			return true
		})
	}
	for _, h := range hashes {
		ks, ok := ix.byHash[h]
		if !ok {
			continue
		}
		ix.compactKey(ks, frontier)
		if len(ks.slots) == 0 {
			delete(ix.byHash, h)
			ix.dir.Delete(h)
		}
		delete(ix.modified, h)
	}
	ix.frontier = frontier
	ix.compacted = true
	return nil
}

// compactKey rewrites one key's slots: versions not covered by the frontier
// are advanced onto it, colliding entries merged by value, zero sums dropped.
func (ix *Index[K, V]) compactKey(ks *keyState[K, V], frontier order.Antichain) {
	newSlots := make([]*verSlot[V], 0, len(ks.slots))
	newByVer := make(map[string]*verSlot[V], len(ks.slots))
	for _, slot := range ks.slots {
		ver := slot.ver
		if !frontier.LessEqualVersion(ver) {
			ver = frontier.AdvanceVersion(ver)
		}
		vk := ver.Key()
		dst, ok := newByVer[vk]
		if !ok {
			dst = &verSlot[V]{ver: ver}
			newByVer[vk] = dst
			newSlots = append(newSlots, dst)
		}
		dst.entries = append(dst.entries, slot.entries...)
	}
	kept := newSlots[:0]
	for _, slot := range newSlots {
		slot.entries = multiset.ConsolidateEntries(slot.entries)
		if len(slot.entries) > 0 {
			kept = append(kept, slot)
		} else {
			delete(newByVer, slot.ver.Key())
		}
	}
	ks.slots = kept
	ks.byVer = newByVer
}

// Append merges every entry of src into dst. Both stores may be different
// backend implementations.
func Append[K, V any](dst, src Store[K, V]) error {
	for _, k := range src.Keys() {
		for _, ver := range src.Versions(k) {
			for _, e := range src.EntriesAt(k, ver) {
				if err := dst.AddValue(k, ver, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
