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

// Package difflow is an incremental view maintenance engine built on the
// differential-dataflow model. Given streams of additions and retractions to
// input collections, it maintains derived collections — the results of
// map/filter/join/reduce/topK pipelines — by emitting only the deltas needed
// to keep the outputs consistent.
//
// The module is organised bottom-up:
//
//   - order: partially-ordered versions and antichain frontiers
//   - hashing: the deterministic content hash used for value equality
//   - multiset: difference collections of (value, multiplicity) pairs
//   - index: the versioned key → version → entries store, with joining and
//     frontier-driven compaction; redixstore is its Redis-backed counterpart
//   - graph: the dataflow runtime and the operator catalogue
//   - fracindex: fractional index strings for the ordered topK outputs
//   - telemetry: opt-in Prometheus instrumentation of graph runs
//
// A minimal pipeline:
//
//	g, _ := graph.New(order.NewAntichain(order.NewVersion(0)))
//	in := graph.NewInput[int](g)
//	doubled := graph.Map(in.Stream(), func(x int) int { return x * 2 })
//	graph.Output(graph.Consolidate(doubled), handle)
//	_ = g.Finalize()
//	_ = in.SendData(order.NewVersion(1), multiset.FromValues(1, 2, 3))
//	_ = in.SendFrontier(order.NewAntichain(order.NewVersion(2)))
//	_ = g.Run()
//
// Graphs are single-threaded: one goroutine owns a graph, its operators and
// their indexes; Run drives processing to quiescence and returns.
package difflow
