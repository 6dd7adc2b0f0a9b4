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

package graph

import (
	"fmt"
	"sort"

	"difflow/fracindex"
	"difflow/hashing"
	"difflow/index"
	"difflow/internal/maputil"
	"difflow/multiset"
	"difflow/order"
)

// TopKOptions bounds the per-key window. Limit is the window size after
// skipping Offset rows; a negative Limit means unbounded, a zero Limit emits
// nothing.
type TopKOptions struct {
	Limit  int
	Offset int
}

func (o TopKOptions) bounds(n int) (lo, hi int) {
	lo = o.Offset
	if lo > n {
		lo = n
	}
	if o.Limit < 0 {
		return lo, n
	}
	hi = lo + o.Limit
	if hi > n {
		hi = n
	}
	return lo, hi
}

// WithIndex annotates a row with its fractional index: a lexicographically
// sortable string that is preserved as long as the row does not move within
// its window.
type WithIndex[V any] struct {
	Value V
	Index string
}

// winEntry is one row of a key's maintained window.
type winEntry[V any] struct {
	value V
	hash  uint64
	idx   string
}

// topkOp maintains, per key, the comparator-ordered window of rows annotated
// with fractional indexes, emitting the minimal delta on every change.
type topkOp[K, V any] struct {
	*opCore
	in      *reader[multiset.KV[K, V]]
	out     *Stream[multiset.KV[K, WithIndex[V]]]
	inF     order.Antichain
	cmp     func(a, b V) int
	opts    TopKOptions
	inIndex index.Store[K, V]
	windows *maputil.DefaultMap[uint64, []winEntry[V]]
	stage   *keyedStage[K]
}

func (o *topkOp[K, V]) step() (bool, error) {
	msgs := o.in.drain()
	for _, m := range msgs {
		switch m.Type {
		case DataMessage:
			keys := make(map[uint64]K)
			for _, e := range m.Data.Entries() {
				if err := o.inIndex.AddValue(e.Value.Key, m.Version, multiset.Entry[V]{Value: e.Value.Value, Mult: e.Mult}); err != nil {
					return false, err
				}
				keys[hashing.Sum(e.Value.Key)] = e.Value.Key
			}
			o.stage.schedule(m.Version, keys)
		case FrontierMessage:
			adv, err := advanceFrontier(&o.inF, m.Frontier)
			if err != nil {
				return false, err
			}
			if !adv {
				continue
			}
			if err := o.release(); err != nil {
				return false, err
			}
			if !o.inF.Empty() {
				if err := o.inIndex.Compact(o.inF); err != nil {
					return false, err
				}
			}
			o.out.sendFrontier(o.inF)
		}
	}
	return len(msgs) > 0, nil
}

func (o *topkOp[K, V]) release() error {
	for _, slot := range o.stage.release(o.inF) {
		var rows []multiset.Entry[multiset.KV[K, WithIndex[V]]]
		for _, k := range slot.sortedKeys() {
			kh := hashing.Sum(k)
			raw, err := o.inIndex.ReconstructAt(k, slot.ver)
			if err != nil {
				return err
			}
			values, err := expandPositive(multiset.ConsolidateEntries(raw))
			if err != nil {
				return err
			}
			sort.SliceStable(values, func(i, j int) bool { return o.cmp(values[i], values[j]) < 0 })
			lo, hi := o.opts.bounds(len(values))
			removed, added, next, err := o.rebuildWindow(o.windows.Get(kh), values[lo:hi])
			if err != nil {
				return err
			}
			if len(next) == 0 {
				o.windows.Delete(kh)
			} else {
				o.windows.Set(kh, next)
			}
			for _, e := range removed {
				rows = append(rows, multiset.Entry[multiset.KV[K, WithIndex[V]]]{
					Value: multiset.KVOf(k, WithIndex[V]{Value: e.value, Index: e.idx}),
					Mult:  -1,
				})
			}
			for _, e := range added {
				rows = append(rows, multiset.Entry[multiset.KV[K, WithIndex[V]]]{
					Value: multiset.KVOf(k, WithIndex[V]{Value: e.value, Index: e.idx}),
					Mult:  1,
				})
			}
		}
		if len(rows) > 0 {
			o.out.sendData(slot.ver, multiset.New(rows...))
		}
	}
	return nil
}

// rebuildWindow aligns the desired window contents against the previous one.
// Surviving rows keep their fractional index; rows that left the window are
// returned as removals, rows that entered get a fresh index between their
// resolved neighbors. A surviving row whose index would break the window's
// lexicographic order (a genuine reorder among equal-comparing rows) is
// re-issued: retracted under the old index and re-added under a new one.
func (o *topkOp[K, V]) rebuildWindow(old []winEntry[V], desired []V) (removed, added []winEntry[V], next []winEntry[V], err error) {
	oldByHash := make(map[uint64][]winEntry[V])
	for _, e := range old {
		oldByHash[e.hash] = append(oldByHash[e.hash], e)
	}
	next = make([]winEntry[V], 0, len(desired))
	fresh := make([]bool, 0, len(desired))
	for _, v := range desired {
		h := hashing.Sum(v)
		if q := oldByHash[h]; len(q) > 0 {
			next = append(next, q[0])
			oldByHash[h] = q[1:]
			fresh = append(fresh, false)
		} else {
			next = append(next, winEntry[V]{value: v, hash: h})
			fresh = append(fresh, true)
		}
	}
	// Whatever survives in the queues has left the window.
	for _, q := range oldByHash {
		removed = append(removed, q...)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].idx < removed[j].idx })

	// Demote kept rows whose index is out of order relative to the row before
	// them; they must be re-issued to keep the index ordering sorted.
	lastIdx := ""
	for i := range next {
		if fresh[i] {
			continue
		}
		if next[i].idx <= lastIdx {
			removed = append(removed, next[i])
			next[i].idx = ""
			fresh[i] = true
			continue
		}
		lastIdx = next[i].idx
	}

	// Assign indexes to fresh rows between their resolved neighbors.
	for i := range next {
		if !fresh[i] {
			continue
		}
		prev := ""
		if i > 0 {
			prev = next[i-1].idx
		}
		nextIdx := ""
		for j := i + 1; j < len(next); j++ {
			if !fresh[j] {
				nextIdx = next[j].idx
				break
			}
		}
		idx, berr := fracindex.Between(prev, nextIdx)
		if berr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrInternalInvariant, berr)
		}
		if idx == prev || (nextIdx != "" && idx == nextIdx) {
			return nil, nil, nil, fmt.Errorf("%w: duplicate fractional index %q", ErrInternalInvariant, idx)
		}
		next[i].idx = idx
		added = append(added, next[i])
	}
	return removed, added, next, nil
}

// TopKWithFractionalIndex maintains, per key, the comparator-ordered rows
// ranked [offset, offset+limit), each annotated with a fractional index.
// Rows that stay at their position emit nothing; a row entering the window
// emits +1 and a row leaving it -1.
func TopKWithFractionalIndex[K, V any](s *Stream[multiset.KV[K, V]], cmp func(a, b V) int, opts TopKOptions) *Stream[multiset.KV[K, WithIndex[V]]] {
	in, out, core, g := attach[multiset.KV[K, V], multiset.KV[K, WithIndex[V]]](s, "topK")
	op := &topkOp[K, V]{
		opCore:  core,
		in:      in,
		out:     out,
		inF:     g.initial,
		cmp:     cmp,
		opts:    opts,
		inIndex: index.New[K, V](),
		windows: maputil.NewDefaultMap[uint64](func() []winEntry[V] { return nil }),
		stage:   newKeyedStage[K](),
	}
	g.register(op, core.name)
	return out
}

// TopK maintains the same window as TopKWithFractionalIndex but emits plain
// membership deltas without position annotations.
func TopK[K, V any](s *Stream[multiset.KV[K, V]], cmp func(a, b V) int, opts TopKOptions) *Stream[multiset.KV[K, V]] {
	withIdx := TopKWithFractionalIndex(s, cmp, opts)
	return lift(withIdx, "unindex", func(_ order.Version, data multiset.MultiSet[multiset.KV[K, WithIndex[V]]]) multiset.MultiSet[multiset.KV[K, V]] {
		return multiset.Map(data, func(kv multiset.KV[K, WithIndex[V]]) multiset.KV[K, V] {
			return multiset.KVOf(kv.Key, kv.Value.Value)
		})
	})
}

// orderKey is the singleton group key used by the orderBy family.
type orderKey struct{}

// OrderBy orders the whole stream by the comparator, optionally windowed by
// opts, by keying every row with a singleton key and applying TopK.
func OrderBy[T any](s *Stream[T], cmp func(a, b T) int, opts TopKOptions) *Stream[T] {
	keyed := KeyBy(s, func(T) orderKey { return orderKey{} })
	return Values(TopK(keyed, cmp, opts))
}

// OrderByWithFractionalIndex is OrderBy keeping the fractional index
// annotations.
func OrderByWithFractionalIndex[T any](s *Stream[T], cmp func(a, b T) int, opts TopKOptions) *Stream[WithIndex[T]] {
	keyed := KeyBy(s, func(T) orderKey { return orderKey{} })
	return Values(TopKWithFractionalIndex(keyed, cmp, opts))
}
