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

	"golang.org/x/exp/constraints"

	"difflow/hashing"
	"difflow/index"
	"difflow/multiset"
	"difflow/order"
)

// keyedStage tracks which keys need re-evaluation at which versions. Keys
// arriving at version v are scheduled at v and, for multidimensional
// correctness, at the join of v with every other pending version: an
// incomparable pair of updates first becomes jointly visible at its join.
type keyedStage[K any] struct {
	todo map[string]*stageSlot[K]
}

type stageSlot[K any] struct {
	ver  order.Version
	keys map[uint64]K
}

func newKeyedStage[K any]() *keyedStage[K] {
	return &keyedStage[K]{todo: make(map[string]*stageSlot[K])}
}

func (st *keyedStage[K]) slot(ver order.Version) *stageSlot[K] {
	vk := ver.Key()
	s, ok := st.todo[vk]
	if !ok {
		s = &stageSlot[K]{ver: ver, keys: make(map[uint64]K)}
		st.todo[vk] = s
	}
	return s
}

// schedule records keys for re-evaluation at ver and at joins with the other
// pending versions.
func (st *keyedStage[K]) schedule(ver order.Version, keys map[uint64]K) {
	var joins []order.Version
	for _, s := range st.todo {
		if !s.ver.Equals(ver) {
			joins = append(joins, ver.Join(s.ver))
		}
	}
	dst := st.slot(ver)
	for h, k := range keys {
		dst.keys[h] = k
	}
	for _, jv := range joins {
		if jv.Equals(ver) {
			continue
		}
		js := st.slot(jv)
		for h, k := range keys {
			js.keys[h] = k
		}
	}
}

// release removes and returns the slots whose version is no longer covered by
// the frontier, in linear-extension order.
func (st *keyedStage[K]) release(frontier order.Antichain) []*stageSlot[K] {
	var out []*stageSlot[K]
	for vk, s := range st.todo {
		if !frontier.LessEqualVersion(s.ver) {
			out = append(out, s)
			delete(st.todo, vk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ver.CompareTotal(out[j].ver) < 0 })
	return out
}

// sortedKeys returns the slot's keys in deterministic hash order.
func (s *stageSlot[K]) sortedKeys() []K {
	hashes := make([]uint64, 0, len(s.keys))
	for h := range s.keys {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	out := make([]K, len(hashes))
	for i, h := range hashes {
		out[i] = s.keys[h]
	}
	return out
}

// diffEntries computes the delta turning curr into desired:
// consolidate(desired ++ -curr).
func diffEntries[V any](desired, curr []multiset.Entry[V]) []multiset.Entry[V] {
	merged := make([]multiset.Entry[V], 0, len(desired)+len(curr))
	merged = append(merged, desired...)
	for _, e := range curr {
		merged = append(merged, multiset.Entry[V]{Value: e.Value, Mult: -e.Mult})
	}
	return multiset.ConsolidateEntries(merged)
}

// ReduceFunc turns a key's consolidated input entries into the desired output
// entries for that key. It must be deterministic: the emitted delta is the
// difference between successive desired outputs.
type ReduceFunc[VIn, VOut any] func(in []multiset.Entry[VIn]) ([]multiset.Entry[VOut], error)

// reduceOp maintains, per key, the difference between the previously emitted
// output and the output desired by f over the consolidated input.
type reduceOp[K, VIn, VOut any] struct {
	*opCore
	in       *reader[multiset.KV[K, VIn]]
	out      *Stream[multiset.KV[K, VOut]]
	inF      order.Antichain
	f        ReduceFunc[VIn, VOut]
	inIndex  index.Store[K, VIn]
	outIndex index.Store[K, VOut]
	stage    *keyedStage[K]
}

func (o *reduceOp[K, VIn, VOut]) step() (bool, error) {
	msgs := o.in.drain()
	for _, m := range msgs {
		switch m.Type {
		case DataMessage:
			keys := make(map[uint64]K)
			for _, e := range m.Data.Entries() {
				if err := o.inIndex.AddValue(e.Value.Key, m.Version, multiset.Entry[VIn]{Value: e.Value.Value, Mult: e.Mult}); err != nil {
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
			o.out.sendFrontier(o.inF)
		}
	}
	return len(msgs) > 0, nil
}

func (o *reduceOp[K, VIn, VOut]) release() error {
	for _, slot := range o.stage.release(o.inF) {
		var rows []multiset.Entry[multiset.KV[K, VOut]]
		for _, k := range slot.sortedKeys() {
			inRaw, err := o.inIndex.ReconstructAt(k, slot.ver)
			if err != nil {
				return err
			}
			desired, err := o.f(multiset.ConsolidateEntries(inRaw))
			if err != nil {
				return err
			}
			currRaw, err := o.outIndex.ReconstructAt(k, slot.ver)
			if err != nil {
				return err
			}
			delta := diffEntries(multiset.ConsolidateEntries(desired), multiset.ConsolidateEntries(currRaw))
			for _, e := range delta {
				if err := o.outIndex.AddValue(k, slot.ver, e); err != nil {
					return err
				}
				rows = append(rows, multiset.Entry[multiset.KV[K, VOut]]{
					Value: multiset.KVOf(k, e.Value),
					Mult:  e.Mult,
				})
			}
		}
		if len(rows) > 0 {
			o.out.sendData(slot.ver, multiset.New(rows...))
		}
	}
	if !o.inF.Empty() {
		if err := o.inIndex.Compact(o.inF); err != nil {
			return err
		}
		if err := o.outIndex.Compact(o.inF); err != nil {
			return err
		}
	}
	return nil
}

// Reduce builds a keyed reduction with in-memory state. When the input
// frontier passes a version, every key modified at or before it is
// re-evaluated and the delta against the previously emitted output is sent
// downstream.
func Reduce[K, VIn, VOut any](s *Stream[multiset.KV[K, VIn]], f ReduceFunc[VIn, VOut]) *Stream[multiset.KV[K, VOut]] {
	return ReduceWithStores(s, f, index.New[K, VIn](), index.New[K, VOut]())
}

// ReduceWithStores is Reduce over caller-provided index backends, e.g. the
// Redis-backed store. Both stores must be empty and exclusively owned by the
// operator.
func ReduceWithStores[K, VIn, VOut any](s *Stream[multiset.KV[K, VIn]], f ReduceFunc[VIn, VOut], inStore index.Store[K, VIn], outStore index.Store[K, VOut]) *Stream[multiset.KV[K, VOut]] {
	in, out, core, g := attach[multiset.KV[K, VIn], multiset.KV[K, VOut]](s, "reduce")
	op := &reduceOp[K, VIn, VOut]{
		opCore:   core,
		in:       in,
		out:      out,
		inF:      g.initial,
		f:        f,
		inIndex:  inStore,
		outIndex: outStore,
		stage:    newKeyedStage[K](),
	}
	g.register(op, core.name)
	return out
}

// Count emits, per key, the total multiplicity of its rows.
func Count[K, V any](s *Stream[multiset.KV[K, V]]) *Stream[multiset.KV[K, int]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[int], error) {
		if len(in) == 0 {
			return nil, nil
		}
		total := 0
		for _, e := range in {
			total += e.Mult
		}
		return []multiset.Entry[int]{{Value: total, Mult: 1}}, nil
	})
}

// Sum emits, per key, the multiplicity-weighted sum of extract over the
// rows.
func Sum[K, V any, N constraints.Integer | constraints.Float](s *Stream[multiset.KV[K, V]], extract func(V) N) *Stream[multiset.KV[K, N]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[N], error) {
		if len(in) == 0 {
			return nil, nil
		}
		var total N
		for _, e := range in {
			total += extract(e.Value) * N(e.Mult)
		}
		return []multiset.Entry[N]{{Value: total, Mult: 1}}, nil
	})
}

// Distinct emits each value with net-positive multiplicity exactly once per
// key. A net-negative multiplicity fails with multiset.ErrInvalidAggregate.
func Distinct[K, V any](s *Stream[multiset.KV[K, V]]) *Stream[multiset.KV[K, V]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[V], error) {
		out := make([]multiset.Entry[V], 0, len(in))
		for _, e := range in {
			if e.Mult < 0 {
				return nil, fmt.Errorf("%w: value %v has net multiplicity %d", multiset.ErrInvalidAggregate, e.Value, e.Mult)
			}
			if e.Mult > 0 {
				out = append(out, multiset.Entry[V]{Value: e.Value, Mult: 1})
			}
		}
		return out, nil
	})
}

// expandPositive flattens consolidated entries into value occurrences,
// rejecting negative multiplicities.
func expandPositive[V any](in []multiset.Entry[V]) ([]V, error) {
	var out []V
	for _, e := range in {
		if e.Mult < 0 {
			return nil, fmt.Errorf("%w: value %v has net multiplicity %d", multiset.ErrInvalidAggregate, e.Value, e.Mult)
		}
		for i := 0; i < e.Mult; i++ {
			out = append(out, e.Value)
		}
	}
	return out, nil
}

// Min emits, per key, the row whose extracted value is least.
func Min[K, V any, O constraints.Ordered](s *Stream[multiset.KV[K, V]], extract func(V) O) *Stream[multiset.KV[K, V]] {
	return extremumOp(s, extract, true)
}

// Max emits, per key, the row whose extracted value is greatest.
func Max[K, V any, O constraints.Ordered](s *Stream[multiset.KV[K, V]], extract func(V) O) *Stream[multiset.KV[K, V]] {
	return extremumOp(s, extract, false)
}

func extremumOp[K, V any, O constraints.Ordered](s *Stream[multiset.KV[K, V]], extract func(V) O, min bool) *Stream[multiset.KV[K, V]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[V], error) {
		var best *V
		for _, e := range in {
			if e.Mult < 0 {
				return nil, fmt.Errorf("%w: value %v has net multiplicity %d", multiset.ErrInvalidAggregate, e.Value, e.Mult)
			}
			if e.Mult == 0 {
				continue
			}
			v := e.Value
			if best == nil || (min && extract(v) < extract(*best)) || (!min && extract(v) > extract(*best)) {
				best = &v
			}
		}
		if best == nil {
			return nil, nil
		}
		return []multiset.Entry[V]{{Value: *best, Mult: 1}}, nil
	})
}

// Avg emits, per key, the multiplicity-weighted mean of extract.
func Avg[K, V any, N constraints.Integer | constraints.Float](s *Stream[multiset.KV[K, V]], extract func(V) N) *Stream[multiset.KV[K, float64]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[float64], error) {
		var sum float64
		count := 0
		for _, e := range in {
			if e.Mult < 0 {
				return nil, fmt.Errorf("%w: value %v has net multiplicity %d", multiset.ErrInvalidAggregate, e.Value, e.Mult)
			}
			sum += float64(extract(e.Value)) * float64(e.Mult)
			count += e.Mult
		}
		if count == 0 {
			return nil, nil
		}
		return []multiset.Entry[float64]{{Value: sum / float64(count), Mult: 1}}, nil
	})
}

// Median emits, per key, the middle row in extract order; for an even number
// of rows the lower of the two middles is used.
func Median[K, V any, O constraints.Ordered](s *Stream[multiset.KV[K, V]], extract func(V) O) *Stream[multiset.KV[K, V]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[V], error) {
		values, err := expandPositive(in)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, nil
		}
		sort.SliceStable(values, func(i, j int) bool { return extract(values[i]) < extract(values[j]) })
		return []multiset.Entry[V]{{Value: values[(len(values)-1)/2], Mult: 1}}, nil
	})
}

// Mode emits, per key, the most frequent row; ties resolve to the smaller
// extracted value.
func Mode[K, V any, O constraints.Ordered](s *Stream[multiset.KV[K, V]], extract func(V) O) *Stream[multiset.KV[K, V]] {
	return Reduce(s, func(in []multiset.Entry[V]) ([]multiset.Entry[V], error) {
		var best *multiset.Entry[V]
		for i, e := range in {
			if e.Mult < 0 {
				return nil, fmt.Errorf("%w: value %v has net multiplicity %d", multiset.ErrInvalidAggregate, e.Value, e.Mult)
			}
			if e.Mult == 0 {
				continue
			}
			if best == nil || e.Mult > best.Mult || (e.Mult == best.Mult && extract(e.Value) < extract(best.Value)) {
				best = &in[i]
			}
		}
		if best == nil {
			return nil, nil
		}
		return []multiset.Entry[V]{{Value: best.Value, Mult: 1}}, nil
	})
}

// Aggregate names one component of a GroupBy record.
type Aggregate[V any] struct {
	Name string
	Fn   func(in []multiset.Entry[V]) (any, error)
}

// CountAgg counts rows.
func CountAgg[V any](name string) Aggregate[V] {
	return Aggregate[V]{Name: name, Fn: func(in []multiset.Entry[V]) (any, error) {
		total := 0
		for _, e := range in {
			total += e.Mult
		}
		return total, nil
	}}
}

// SumAgg sums extract, weighted by multiplicity.
func SumAgg[V any, N constraints.Integer | constraints.Float](name string, extract func(V) N) Aggregate[V] {
	return Aggregate[V]{Name: name, Fn: func(in []multiset.Entry[V]) (any, error) {
		var total N
		for _, e := range in {
			total += extract(e.Value) * N(e.Mult)
		}
		return total, nil
	}}
}

// AvgAgg averages extract, weighted by multiplicity.
func AvgAgg[V any, N constraints.Integer | constraints.Float](name string, extract func(V) N) Aggregate[V] {
	return Aggregate[V]{Name: name, Fn: func(in []multiset.Entry[V]) (any, error) {
		var sum float64
		count := 0
		for _, e := range in {
			sum += float64(extract(e.Value)) * float64(e.Mult)
			count += e.Mult
		}
		if count == 0 {
			return nil, nil
		}
		return sum / float64(count), nil
	}}
}

// MinAgg takes the least extracted value.
func MinAgg[V any, O constraints.Ordered](name string, extract func(V) O) Aggregate[V] {
	return Aggregate[V]{Name: name, Fn: func(in []multiset.Entry[V]) (any, error) {
		var best *O
		for _, e := range in {
			if e.Mult <= 0 {
				continue
			}
			o := extract(e.Value)
			if best == nil || o < *best {
				best = &o
			}
		}
		if best == nil {
			return nil, nil
		}
		return *best, nil
	}}
}

// MaxAgg takes the greatest extracted value.
func MaxAgg[V any, O constraints.Ordered](name string, extract func(V) O) Aggregate[V] {
	return Aggregate[V]{Name: name, Fn: func(in []multiset.Entry[V]) (any, error) {
		var best *O
		for _, e := range in {
			if e.Mult <= 0 {
				continue
			}
			o := extract(e.Value)
			if best == nil || o > *best {
				best = &o
			}
		}
		if best == nil {
			return nil, nil
		}
		return *best, nil
	}}
}

// GroupBy re-keys the stream by extractor and composes the given aggregates
// into a record per group. The output key is the canonical JSON of the group
// key, so heterogeneous group keys remain hashable and serialisable.
func GroupBy[K, V, GK any](s *Stream[multiset.KV[K, V]], key func(V) GK, aggs ...Aggregate[V]) *Stream[multiset.KV[string, map[string]any]] {
	rekeyed := lift(s, "groupKey", func(_ order.Version, data multiset.MultiSet[multiset.KV[K, V]]) multiset.MultiSet[multiset.KV[string, V]] {
		return multiset.Map(data, func(kv multiset.KV[K, V]) multiset.KV[string, V] {
			return multiset.KVOf(string(hashing.MustCanonicalJSON(key(kv.Value))), kv.Value)
		})
	})
	return Reduce(rekeyed, func(in []multiset.Entry[V]) ([]multiset.Entry[map[string]any], error) {
		if len(in) == 0 {
			return nil, nil
		}
		record := make(map[string]any, len(aggs))
		for _, agg := range aggs {
			v, err := agg.Fn(in)
			if err != nil {
				return nil, err
			}
			record[agg.Name] = v
		}
		return []multiset.Entry[map[string]any]{{Value: record, Mult: 1}}, nil
	})
}
