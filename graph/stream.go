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
	"difflow/multiset"
	"difflow/order"
)

// MessageType discriminates the two kinds of stream messages.
type MessageType int

const (
	// DataMessage carries a difference collection at a version.
	DataMessage MessageType = iota
	// FrontierMessage carries an advanced frontier.
	FrontierMessage
)

// Message is the unit of communication between operators. Data messages
// populate Version and Data; frontier messages populate Frontier.
type Message[T any] struct {
	Type     MessageType
	Version  order.Version
	Data     multiset.MultiSet[T]
	Frontier order.Antichain
}

// Stream is a single-writer, many-reader channel of messages. The writer is
// the operator (or input) that produced the stream; every reader gets its own
// queue and consumes independently.
type Stream[T any] struct {
	g          *Graph
	producerID int
	readers    []*reader[T]
}

func newStream[T any](g *Graph, producerID int) *Stream[T] {
	return &Stream[T]{g: g, producerID: producerID}
}

// newReader attaches a reader for the consuming operator. Must happen before
// finalization; operator constructors enforce that.
func (s *Stream[T]) newReader() *reader[T] {
	r := &reader[T]{stream: s}
	s.readers = append(s.readers, r)
	return r
}

// sendData enqueues a data message for every reader.
func (s *Stream[T]) sendData(ver order.Version, data multiset.MultiSet[T]) {
	msg := Message[T]{Type: DataMessage, Version: ver, Data: data}
	for _, r := range s.readers {
		r.queue = append(r.queue, msg)
	}
	s.g.noteSent(len(s.readers))
}

// sendFrontier enqueues a frontier message for every reader.
func (s *Stream[T]) sendFrontier(f order.Antichain) {
	msg := Message[T]{Type: FrontierMessage, Frontier: f}
	for _, r := range s.readers {
		r.queue = append(r.queue, msg)
	}
	s.g.noteSent(len(s.readers))
}

// reader is one consumer's view of a stream: a private queue plus the
// frontier most recently received on it.
type reader[T any] struct {
	stream   *Stream[T]
	queue    []Message[T]
	frontier order.Antichain
}

// pending reports whether messages are queued.
func (r *reader[T]) pending() bool { return len(r.queue) > 0 }

// drain removes and returns all queued messages in arrival order, updating
// the reader frontier as frontier messages pass through.
func (r *reader[T]) drain() []Message[T] {
	msgs := r.queue
	r.queue = nil
	for _, m := range msgs {
		if m.Type == FrontierMessage {
			r.frontier = m.Frontier
		}
	}
	return msgs
}
