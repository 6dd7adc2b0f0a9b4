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
	"difflow/hashing"
	"difflow/index"
	"difflow/multiset"
	"difflow/order"
)

// joinOp maintains one versioned index per input. Inner products are emitted
// eagerly as deltas arrive: a left delta joins the full right index, a right
// delta the full left index (which already includes the step's left deltas,
// so each delta pair is counted exactly once). The outer variants additionally
// maintain, per key, the currently emitted null-padded rows and diff them
// when the input frontier releases a version — the anti join is exactly that
// maintenance with the inner part suppressed.
type joinOp[K, A, B any] struct {
	*opCore
	left    *reader[multiset.KV[K, A]]
	right   *reader[multiset.KV[K, B]]
	out     *Stream[multiset.KV[K, multiset.Pair[A, B]]]
	fa, fb  order.Antichain
	inF     order.Antichain
	variant index.JoinVariant

	indexA index.Store[K, A]
	indexB index.Store[K, B]
	// outIndex tracks the emitted outer (null-padded) rows for diffing.
	outIndex index.Store[K, multiset.Pair[A, B]]
	stage    *keyedStage[K]
}

func (o *joinOp[K, A, B]) step() (bool, error) {
	msgsL := o.left.drain()
	msgsR := o.right.drain()
	if len(msgsL)+len(msgsR) == 0 {
		return false, nil
	}

	// Left deltas against the full right index.
	for _, m := range msgsL {
		switch m.Type {
		case DataMessage:
			delta := index.New[K, A]()
			keys := make(map[uint64]K)
			for _, e := range m.Data.Entries() {
				if err := delta.AddValue(e.Value.Key, m.Version, multiset.Entry[A]{Value: e.Value.Value, Mult: e.Mult}); err != nil {
					return false, err
				}
				keys[hashing.Sum(e.Value.Key)] = e.Value.Key
			}
			if o.variant != index.JoinAnti {
				for _, batch := range index.Join[K, A, B](delta, o.indexB, index.JoinInner) {
					o.out.sendData(batch.Version, batch.Data)
				}
			}
			if err := index.Append[K, A](o.indexA, delta); err != nil {
				return false, err
			}
			if o.variant != index.JoinInner {
				o.stage.schedule(m.Version, keys)
			}
		case FrontierMessage:
			if _, err := advanceFrontier(&o.fa, m.Frontier); err != nil {
				return false, err
			}
		}
	}

	// Right deltas against the full left index (now including this step's
	// left deltas).
	for _, m := range msgsR {
		switch m.Type {
		case DataMessage:
			delta := index.New[K, B]()
			keys := make(map[uint64]K)
			for _, e := range m.Data.Entries() {
				if err := delta.AddValue(e.Value.Key, m.Version, multiset.Entry[B]{Value: e.Value.Value, Mult: e.Mult}); err != nil {
					return false, err
				}
				keys[hashing.Sum(e.Value.Key)] = e.Value.Key
			}
			if o.variant != index.JoinAnti {
				for _, batch := range index.Join[K, A, B](o.indexA, delta, index.JoinInner) {
					o.out.sendData(batch.Version, batch.Data)
				}
			}
			if err := index.Append[K, B](o.indexB, delta); err != nil {
				return false, err
			}
			if o.variant != index.JoinInner {
				o.stage.schedule(m.Version, keys)
			}
		case FrontierMessage:
			if _, err := advanceFrontier(&o.fb, m.Frontier); err != nil {
				return false, err
			}
		}
	}

	if merged := o.fa.Meet(o.fb); !merged.Equals(o.inF) {
		adv, err := advanceFrontier(&o.inF, merged)
		if err != nil {
			return false, err
		}
		if adv {
			if o.variant != index.JoinInner {
				if err := o.releaseOuter(); err != nil {
					return false, err
				}
			}
			if err := o.compact(); err != nil {
				return false, err
			}
			o.out.sendFrontier(o.inF)
		}
	}
	return true, nil
}

// releaseOuter diffs the desired null-padded rows against the previously
// emitted ones for every key touched at a released version. A key's left
// rows appear with a nil right half exactly while the key has no net right
// rows (and symmetrically); a net multiplicity oscillating back to zero
// within a single version therefore emits nothing.
func (o *joinOp[K, A, B]) releaseOuter() error {
	for _, slot := range o.stage.release(o.inF) {
		var rows []multiset.Entry[multiset.KV[K, multiset.Pair[A, B]]]
		for _, k := range slot.sortedKeys() {
			leftRaw, err := o.indexA.ReconstructAt(k, slot.ver)
			if err != nil {
				return err
			}
			rightRaw, err := o.indexB.ReconstructAt(k, slot.ver)
			if err != nil {
				return err
			}
			leftRows := multiset.ConsolidateEntries(leftRaw)
			rightRows := multiset.ConsolidateEntries(rightRaw)

			var desired []multiset.Entry[multiset.Pair[A, B]]
			if (o.variant == index.JoinLeft || o.variant == index.JoinFull || o.variant == index.JoinAnti) && len(rightRows) == 0 {
				for _, e := range leftRows {
					desired = append(desired, multiset.Entry[multiset.Pair[A, B]]{Value: multiset.LeftOnly[A, B](e.Value), Mult: e.Mult})
				}
			}
			if (o.variant == index.JoinRight || o.variant == index.JoinFull) && len(leftRows) == 0 {
				for _, e := range rightRows {
					desired = append(desired, multiset.Entry[multiset.Pair[A, B]]{Value: multiset.RightOnly[A](e.Value), Mult: e.Mult})
				}
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
				rows = append(rows, multiset.Entry[multiset.KV[K, multiset.Pair[A, B]]]{
					Value: multiset.KVOf(k, e.Value),
					Mult:  e.Mult,
				})
			}
		}
		if len(rows) > 0 {
			o.out.sendData(slot.ver, multiset.New(rows...))
		}
	}
	return nil
}

func (o *joinOp[K, A, B]) compact() error {
	if o.inF.Empty() {
		return nil
	}
	if err := o.indexA.Compact(o.inF); err != nil {
		return err
	}
	if err := o.indexB.Compact(o.inF); err != nil {
		return err
	}
	if o.variant != index.JoinInner {
		if err := o.outIndex.Compact(o.inF); err != nil {
			return err
		}
	}
	return nil
}

// Join connects two keyed streams through the selected join variant. Inner
// rows carry both halves; outer rows carry a nil pointer on the absent side.
// The anti variant emits only the left rows whose key has no match on the
// right.
func Join[K, A, B any](left *Stream[multiset.KV[K, A]], right *Stream[multiset.KV[K, B]], variant index.JoinVariant) *Stream[multiset.KV[K, multiset.Pair[A, B]]] {
	return JoinWithStores(left, right, variant, index.New[K, A](), index.New[K, B]())
}

// JoinWithStores is Join over caller-provided index backends for the two
// inputs. The stores must be empty and exclusively owned by the operator.
func JoinWithStores[K, A, B any](left *Stream[multiset.KV[K, A]], right *Stream[multiset.KV[K, B]], variant index.JoinVariant, leftStore index.Store[K, A], rightStore index.Store[K, B]) *Stream[multiset.KV[K, multiset.Pair[A, B]]] {
	ra, rb, out, core, g := attach2[multiset.KV[K, A], multiset.KV[K, B], multiset.KV[K, multiset.Pair[A, B]]](left, right, "join-"+variant.String())
	op := &joinOp[K, A, B]{
		opCore:   core,
		left:     ra,
		right:    rb,
		out:      out,
		fa:       g.initial,
		fb:       g.initial,
		inF:      g.initial,
		variant:  variant,
		indexA:   leftStore,
		indexB:   rightStore,
		outIndex: index.New[K, multiset.Pair[A, B]](),
		stage:    newKeyedStage[K](),
	}
	g.register(op, core.name)
	return out
}
