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
	"difflow/order"
)

// consolidateOp buffers data by version and releases a single consolidated
// collection per version once the input frontier passes it. A released
// version can never receive further data (the frontier contract forbids it),
// so each version is emitted at most once.
type consolidateOp[T any] struct {
	*opCore
	in       *reader[T]
	out      *Stream[T]
	inF      order.Antichain
	buffered *versionSet[T]
}

func (o *consolidateOp[T]) step() (bool, error) {
	msgs := o.in.drain()
	for _, m := range msgs {
		switch m.Type {
		case DataMessage:
			o.buffered.add(m.Version, m.Data)
		case FrontierMessage:
			adv, err := advanceFrontier(&o.inF, m.Frontier)
			if err != nil {
				return false, err
			}
			if !adv {
				continue
			}
			for _, slot := range o.buffered.ordered() {
				if o.inF.LessEqualVersion(slot.ver) {
					continue // still open
				}
				if consolidated := slot.data.Consolidate(); !consolidated.Empty() {
					o.out.sendData(slot.ver, consolidated)
				}
				o.buffered.remove(slot.ver)
			}
			o.out.sendFrontier(o.inF)
		}
	}
	return len(msgs) > 0, nil
}

// Consolidate buffers by version and emits, once per version, the
// consolidated difference collection: grouped by value, multiplicities
// summed, zero entries dropped. Retractions cancel insertions during
// consolidation.
func Consolidate[T any](s *Stream[T]) *Stream[T] {
	in, out, core, g := attach[T, T](s, "consolidate")
	op := &consolidateOp[T]{opCore: core, in: in, out: out, inF: g.initial, buffered: newVersionSet[T]()}
	g.register(op, core.name)
	return out
}
