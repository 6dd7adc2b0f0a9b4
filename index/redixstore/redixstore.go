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

// Package redixstore implements the versioned-index contract on top of
// Redis hashes. It exists as the persistent counterpart of the in-memory
// index: one logical index per name prefix, keys and values serialised to
// canonical JSON, versions to their JSON coordinate arrays.
//
// The store mirrors the in-memory index's single-owner semantics: it must be
// used by exactly one operator on one goroutine. The compaction frontier is
// cached in process and written through, so two processes must never share a
// prefix.
package redixstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"difflow/hashing"
	"difflow/index"
	"difflow/multiset"
	"difflow/order"
)

// Client abstracts the minimal Redis surface the store needs.
// Implementations may wrap github.com/redis/go-redis/v9 (see NewGoRedisClient)
// or any equivalent; tests use an in-process fake.
type Client interface {
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
}

// wireEntry is the stored form of one (value, multiplicity) entry.
type wireEntry struct {
	V json.RawMessage `json:"v"`
	M int             `json:"m"`
}

// Store is a Redis-backed index.Store implementation.
type Store[K, V any] struct {
	ctx       context.Context
	client    Client
	prefix    string
	frontier  order.Antichain
	compacted bool
}

var _ index.Store[string, int] = (*Store[string, int])(nil)

// New creates (or reattaches to) the logical index stored under prefix. The
// context bounds every Redis call the store makes.
func New[K, V any](ctx context.Context, client Client, prefix string) (*Store[K, V], error) {
	s := &Store[K, V]{ctx: ctx, client: client, prefix: prefix}
	raw, ok, err := client.Get(ctx, s.frontierKey())
	if err != nil {
		return nil, fmt.Errorf("redixstore: load frontier: %w", err)
	}
	if ok {
		var vers []order.Version
		if err := json.Unmarshal([]byte(raw), &vers); err != nil {
			return nil, fmt.Errorf("redixstore: decode frontier: %w", err)
		}
		s.frontier = order.NewAntichain(vers...)
		s.compacted = true
	}
	return s, nil
}

func (s *Store[K, V]) dirKey() string      { return s.prefix + ":keys" }
func (s *Store[K, V]) modKey() string      { return s.prefix + ":mod" }
func (s *Store[K, V]) frontierKey() string { return s.prefix + ":frontier" }
func (s *Store[K, V]) entryKey(h uint64) string {
	return s.prefix + ":k:" + strconv.FormatUint(h, 16)
}

// versionsField holds the ordered list of version keys inside each per-key
// hash; Redis hashes are unordered, and reconstruction walks versions in
// first-insertion order.
const versionsField = "!versions"

func (s *Store[K, V]) checkVersion(ver order.Version) error {
	if s.compacted && !s.frontier.LessEqualVersion(ver) {
		return fmt.Errorf("%w: %v not covered by %v", index.ErrInvalidVersion, ver, s.frontier)
	}
	return nil
}

func (s *Store[K, V]) loadVersionList(ek string) ([]string, error) {
	raw, ok, err := s.client.HGet(s.ctx, ek, versionsField)
	if err != nil || !ok {
		return nil, err
	}
	var vks []string
	if err := json.Unmarshal([]byte(raw), &vks); err != nil {
		return nil, fmt.Errorf("redixstore: decode version list: %w", err)
	}
	return vks, nil
}

func (s *Store[K, V]) storeVersionList(ek string, vks []string) error {
	data, err := json.Marshal(vks)
	if err != nil {
		return err
	}
	return s.client.HSet(s.ctx, ek, versionsField, string(data))
}

func versionFieldName(ver order.Version) string {
	return string(hashing.MustCanonicalJSON(ver))
}

func parseVersionField(field string) (order.Version, error) {
	var v order.Version
	if err := json.Unmarshal([]byte(field), &v); err != nil {
		return order.Version{}, fmt.Errorf("redixstore: decode version %q: %w", field, err)
	}
	return v, nil
}

// AddValue appends one entry at (key, ver).
func (s *Store[K, V]) AddValue(key K, ver order.Version, e multiset.Entry[V]) error {
	if err := s.checkVersion(ver); err != nil {
		return err
	}
	h := hashing.Sum(key)
	hh := strconv.FormatUint(h, 16)
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("redixstore: encode key: %w", err)
	}
	if err := s.client.HSet(s.ctx, s.dirKey(), hh, string(keyJSON)); err != nil {
		return err
	}
	if err := s.client.HSet(s.ctx, s.modKey(), hh, "1"); err != nil {
		return err
	}

	ek := s.entryKey(h)
	field := versionFieldName(ver)
	var entries []wireEntry
	raw, ok, err := s.client.HGet(s.ctx, ek, field)
	if err != nil {
		return err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return fmt.Errorf("redixstore: decode entries: %w", err)
		}
	} else {
		vks, err := s.loadVersionList(ek)
		if err != nil {
			return err
		}
		if err := s.storeVersionList(ek, append(vks, field)); err != nil {
			return err
		}
	}
	valJSON, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("redixstore: encode value: %w", err)
	}
	entries = append(entries, wireEntry{V: valJSON, M: e.Mult})
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.client.HSet(s.ctx, ek, field, string(data))
}

func (s *Store[K, V]) decodeEntries(raw string) ([]multiset.Entry[V], error) {
	var wire []wireEntry
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("redixstore: decode entries: %w", err)
	}
	out := make([]multiset.Entry[V], len(wire))
	for i, w := range wire {
		var v V
		if err := json.Unmarshal(w.V, &v); err != nil {
			return nil, fmt.Errorf("redixstore: decode value: %w", err)
		}
		out[i] = multiset.Entry[V]{Value: v, Mult: w.M}
	}
	return out, nil
}

// ReconstructAt returns every entry stored at versions ≤ ver, grouped by
// version (versions in first-insertion order, entries within a version in
// insertion order).
func (s *Store[K, V]) ReconstructAt(key K, ver order.Version) ([]multiset.Entry[V], error) {
	if err := s.checkVersion(ver); err != nil {
		return nil, err
	}
	ek := s.entryKey(hashing.Sum(key))
	vks, err := s.loadVersionList(ek)
	if err != nil {
		return nil, err
	}
	var out []multiset.Entry[V]
	for _, vk := range vks {
		stored, err := parseVersionField(vk)
		if err != nil {
			return nil, err
		}
		if !stored.LessEqual(ver) {
			continue
		}
		raw, ok, err := s.client.HGet(s.ctx, ek, vk)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries, err := s.decodeEntries(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Versions returns the distinct versions holding entries for key.
func (s *Store[K, V]) Versions(key K) []order.Version {
	vks, err := s.loadVersionList(s.entryKey(hashing.Sum(key)))
	if err != nil {
		return nil
	}
	out := make([]order.Version, 0, len(vks))
	for _, vk := range vks {
		v, err := parseVersionField(vk)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EntriesAt returns the entries stored exactly at (key, ver).
func (s *Store[K, V]) EntriesAt(key K, ver order.Version) []multiset.Entry[V] {
	raw, ok, err := s.client.HGet(s.ctx, s.entryKey(hashing.Sum(key)), versionFieldName(ver))
	if err != nil || !ok {
		return nil
	}
	entries, err := s.decodeEntries(raw)
	if err != nil {
		return nil
	}
	return entries
}

func (s *Store[K, V]) keyHashes() ([]uint64, map[uint64]K, error) {
	dir, err := s.client.HGetAll(s.ctx, s.dirKey())
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]uint64, 0, len(dir))
	keys := make(map[uint64]K, len(dir))
	for hh, keyJSON := range dir {
		h, err := strconv.ParseUint(hh, 16, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("redixstore: bad directory field %q: %w", hh, err)
		}
		var k K
		if err := json.Unmarshal([]byte(keyJSON), &k); err != nil {
			return nil, nil, fmt.Errorf("redixstore: decode key: %w", err)
		}
		hashes = append(hashes, h)
		keys[h] = k
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes, keys, nil
}

// Keys returns every stored key in hash order, matching the in-memory
// index's deterministic iteration.
func (s *Store[K, V]) Keys() []K {
	hashes, keys, err := s.keyHashes()
	if err != nil {
		return nil
	}
	out := make([]K, len(hashes))
	for i, h := range hashes {
		out[i] = keys[h]
	}
	return out
}

// KeyCount returns the number of stored keys.
func (s *Store[K, V]) KeyCount() int {
	dir, err := s.client.HGetAll(s.ctx, s.dirKey())
	if err != nil {
		return 0
	}
	return len(dir)
}

// ModifiedKeys returns the keys touched since the last compaction.
func (s *Store[K, V]) ModifiedKeys() []K {
	mod, err := s.client.HGetAll(s.ctx, s.modKey())
	if err != nil {
		return nil
	}
	hashes, keys, err := s.keyHashes()
	if err != nil {
		return nil
	}
	out := make([]K, 0, len(mod))
	for _, h := range hashes {
		if _, ok := mod[strconv.FormatUint(h, 16)]; ok {
			out = append(out, keys[h])
		}
	}
	return out
}

// CompactionFrontier returns the frontier recorded by the last Compact.
func (s *Store[K, V]) CompactionFrontier() (order.Antichain, bool) {
	return s.frontier, s.compacted
}

// Compact advances stored versions onto the frontier, merges collisions, and
// drops zero-sum groups, then records the frontier durably.
func (s *Store[K, V]) Compact(frontier order.Antichain, keys ...K) error {
	if s.compacted && !s.frontier.LessEqual(frontier) {
		return fmt.Errorf("%w: %v does not advance %v", index.ErrInvalidFrontier, frontier, s.frontier)
	}
	var targets []K
	if len(keys) > 0 {
		targets = keys
	} else {
		targets = s.ModifiedKeys()
	}
	for _, k := range targets {
		if err := s.compactKey(k, frontier); err != nil {
			return err
		}
		if err := s.client.HDel(s.ctx, s.modKey(), strconv.FormatUint(hashing.Sum(k), 16)); err != nil {
			return err
		}
	}
	elems := frontier.Elements()
	data, err := json.Marshal(elems)
	if err != nil {
		return err
	}
	if err := s.client.Set(s.ctx, s.frontierKey(), string(data)); err != nil {
		return err
	}
	s.frontier = frontier
	s.compacted = true
	return nil
}

func (s *Store[K, V]) compactKey(key K, frontier order.Antichain) error {
	h := hashing.Sum(key)
	ek := s.entryKey(h)
	vks, err := s.loadVersionList(ek)
	if err != nil {
		return err
	}

	type slot struct {
		ver     order.Version
		entries []multiset.Entry[V]
	}
	var slots []*slot
	byVK := make(map[string]*slot)
	for _, vk := range vks {
		stored, err := parseVersionField(vk)
		if err != nil {
			return err
		}
		raw, ok, err := s.client.HGet(s.ctx, ek, vk)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		entries, err := s.decodeEntries(raw)
		if err != nil {
			return err
		}
		ver := stored
		if !frontier.LessEqualVersion(ver) {
			ver = frontier.AdvanceVersion(ver)
		}
		nk := versionFieldName(ver)
		dst, ok := byVK[nk]
		if !ok {
			dst = &slot{ver: ver}
			byVK[nk] = dst
			slots = append(slots, dst)
		}
		dst.entries = append(dst.entries, entries...)
	}

	// Rewrite the per-key hash from scratch.
	if err := s.client.Del(s.ctx, ek); err != nil {
		return err
	}
	var newVKs []string
	for _, sl := range slots {
		sl.entries = multiset.ConsolidateEntries(sl.entries)
		if len(sl.entries) == 0 {
			continue
		}
		wire := make([]wireEntry, len(sl.entries))
		for i, e := range sl.entries {
			valJSON, err := json.Marshal(e.Value)
			if err != nil {
				return err
			}
			wire[i] = wireEntry{V: valJSON, M: e.Mult}
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return err
		}
		nk := versionFieldName(sl.ver)
		if err := s.client.HSet(s.ctx, ek, nk, string(data)); err != nil {
			return err
		}
		newVKs = append(newVKs, nk)
	}
	if len(newVKs) == 0 {
		// Fully cancelled: drop the key from the directory.
		return s.client.HDel(s.ctx, s.dirKey(), strconv.FormatUint(h, 16))
	}
	return s.storeVersionList(ek, newVKs)
}
