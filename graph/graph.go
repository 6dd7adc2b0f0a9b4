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

// Package graph implements the dataflow runtime: operators connected by
// single-writer, many-reader difference streams, a fixed-order cooperative
// scheduler, and frontier-based progress tracking. Operator constructors
// (Map, Filter, Join, Reduce, TopK, …) compose typed streams; once Finalize
// locks the topology, inputs accept data and Run drives processing to
// quiescence.
//
// Scheduling is single-threaded and deterministic: a run iterates operators
// in ascending id order, each step is atomic with respect to the graph, and
// the loop repeats until a full pass makes no progress. A Graph and
// everything it owns must be confined to one goroutine.
package graph

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"difflow/multiset"
	"difflow/order"
	"difflow/telemetry"
)

// Errors surfaced by the runtime. All are fatal: a failed Run leaves the
// graph in an undefined state and callers are expected to rebuild.
var (
	// ErrConfiguration reports misuse of the topology API: mixing timestamp
	// dimensions, attaching operators to a finalized graph, finalizing twice.
	ErrConfiguration = errors.New("graph: configuration error")

	// ErrNotFinalized reports data input or a run before Finalize.
	ErrNotFinalized = errors.New("graph: graph not finalized")

	// ErrInvalidVersion reports a data message at a version not covered by
	// the sender's current frontier.
	ErrInvalidVersion = errors.New("graph: version not covered by the input frontier")

	// ErrInvalidFrontier reports a frontier update that does not advance the
	// previous frontier.
	ErrInvalidFrontier = errors.New("graph: frontier must advance the previous frontier")

	// ErrInternalInvariant reports a broken invariant the runtime guarantees
	// by construction; it indicates a bug, not caller misuse.
	ErrInternalInvariant = errors.New("graph: internal invariant violated")
)

// operator is the scheduler's view of a node. Concrete operators are the
// generic structs built by the exported constructors.
type operator interface {
	id() int
	label() string
	// step consumes any pending input and reports whether it made progress.
	step() (bool, error)
}

// edge records a stream connection for the DOT export.
type edge struct {
	from, to int
}

// Graph owns the operators and streams of one dataflow. Construct with New,
// add inputs and operators, then Finalize before sending data.
type Graph struct {
	initial   order.Antichain
	dim       int
	ops       []operator
	labels    map[int]string
	edges     []edge
	finalized bool
	sent      int
	logger    *log.Logger
}

// New creates a graph whose inputs start at the given frontier. The frontier
// fixes the timestamp dimension for the whole graph and must be non-empty.
func New(initial order.Antichain) (*Graph, error) {
	if initial.Empty() {
		return nil, fmt.Errorf("%w: initial frontier must be non-empty", ErrConfiguration)
	}
	dim := initial.Dim()
	for _, v := range initial.Elements() {
		if v.Dim() != dim {
			return nil, fmt.Errorf("%w: mixed dimensions in initial frontier", ErrConfiguration)
		}
	}
	return &Graph{
		initial: initial,
		dim:     dim,
		labels:  make(map[int]string),
		logger:  log.New(os.Stderr, "", log.LstdFlags),
	}, nil
}

// SetLogger replaces the logger used by the debug operator.
func (g *Graph) SetLogger(l *log.Logger) { g.logger = l }

// register assigns the next operator id. The id order is the scheduling
// order, so streams are always produced before they are consumed.
func (g *Graph) register(op operator, name string) {
	g.labels[op.id()] = name
	g.ops = append(g.ops, op)
}

func (g *Graph) nextID() int { return len(g.ops) }

func (g *Graph) checkBuildable() {
	if g.finalized {
		panic(fmt.Errorf("%w: cannot extend a finalized graph", ErrConfiguration))
	}
}

func (g *Graph) addEdge(from, to int) {
	g.edges = append(g.edges, edge{from: from, to: to})
}

// noteSent tracks message production for quiescence detection.
func (g *Graph) noteSent(n int) { g.sent += n }

// Finalize locks the topology. It must be called exactly once, after all
// inputs and operators are attached and before any data is sent.
func (g *Graph) Finalize() error {
	if g.finalized {
		return fmt.Errorf("%w: already finalized", ErrConfiguration)
	}
	g.finalized = true
	return nil
}

// Run drives the graph to quiescence: operators step in ascending id order,
// repeatedly, until a full pass neither consumes nor produces a message. On
// return every data message sent before Run has been processed by every
// downstream operator.
func (g *Graph) Run() error {
	if !g.finalized {
		return ErrNotFinalized
	}
	start := time.Now()
	passes := 0
	for {
		passes++
		progressed := false
		for _, op := range g.ops {
			p, err := op.step()
			if err != nil {
				return fmt.Errorf("operator %s(%d): %w", g.labels[op.id()], op.id(), err)
			}
			if p {
				progressed = true
			}
			telemetry.ObserveStep()
		}
		if !progressed {
			break
		}
	}
	telemetry.ObserveRun(time.Since(start), passes, g.sent)
	g.sent = 0
	return nil
}

// Input produces messages for one source stream. Create with NewInput before
// Finalize; send data and frontiers only after.
type Input[T any] struct {
	g        *Graph
	stream   *Stream[T]
	frontier order.Antichain
}

// inputOp is the placeholder scheduler node owning the input's stream.
type inputOp struct {
	opID int
	name string
}

func (o *inputOp) id() int             { return o.opID }
func (o *inputOp) label() string       { return o.name }
func (o *inputOp) step() (bool, error) { return false, nil }

// NewInput attaches a new input stream to the graph. Panics (with
// ErrConfiguration) when the graph is already finalized.
func NewInput[T any](g *Graph) *Input[T] {
	g.checkBuildable()
	op := &inputOp{opID: g.nextID(), name: "input"}
	g.register(op, op.name)
	return &Input[T]{
		g:        g,
		stream:   newStream[T](g, op.opID),
		frontier: g.initial,
	}
}

// Stream returns the stream fed by this input.
func (in *Input[T]) Stream() *Stream[T] { return in.stream }

// Frontier returns the input's current frontier.
func (in *Input[T]) Frontier() order.Antichain { return in.frontier }

// SendData emits a difference collection at the given version. The version
// must match the graph dimension and be covered by the input's current
// frontier.
func (in *Input[T]) SendData(ver order.Version, data multiset.MultiSet[T]) error {
	if !in.g.finalized {
		return ErrNotFinalized
	}
	if ver.Dim() != in.g.dim {
		return fmt.Errorf("%w: version %v has dimension %d, graph uses %d", ErrConfiguration, ver, ver.Dim(), in.g.dim)
	}
	if !in.frontier.LessEqualVersion(ver) {
		return fmt.Errorf("%w: %v not covered by %v", ErrInvalidVersion, ver, in.frontier)
	}
	in.stream.sendData(ver, data)
	return nil
}

// SendFrontier advances the input's frontier. The new frontier must be ≥ the
// current one; all future SendData versions must be covered by it.
func (in *Input[T]) SendFrontier(f order.Antichain) error {
	if !in.g.finalized {
		return ErrNotFinalized
	}
	for _, v := range f.Elements() {
		if v.Dim() != in.g.dim {
			return fmt.Errorf("%w: frontier element %v has dimension %d, graph uses %d", ErrConfiguration, v, v.Dim(), in.g.dim)
		}
	}
	if !in.frontier.LessEqual(f) {
		return fmt.Errorf("%w: %v does not advance %v", ErrInvalidFrontier, f, in.frontier)
	}
	in.frontier = f
	in.stream.sendFrontier(f)
	return nil
}
