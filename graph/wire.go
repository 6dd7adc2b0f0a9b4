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
	"math"

	"github.com/goccy/go-json"

	"difflow/multiset"
	"difflow/order"
)

// The wire form of messages is a stable contract for alternative backends
// and change-feed consumers, not a persisted format:
//
//	DATA:     {"version": [..], "data": [[value, multiplicity], ...]}
//	FRONTIER: {"frontier": [[..], ...]}
//
// Multiplicities are 32-bit signed integers on the wire.

type wireData[T any] struct {
	Version order.Version `json:"version"`
	Data    [][2]any      `json:"data"`
}

type wireFrontier struct {
	Frontier []order.Version `json:"frontier"`
}

// MarshalJSON encodes the message in its wire form.
func (m Message[T]) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case DataMessage:
		rows := make([][2]any, 0, m.Data.Len())
		for _, e := range m.Data.Entries() {
			if e.Mult > math.MaxInt32 || e.Mult < math.MinInt32 {
				return nil, fmt.Errorf("graph: multiplicity %d overflows the 32-bit wire format", e.Mult)
			}
			rows = append(rows, [2]any{e.Value, int32(e.Mult)})
		}
		return json.Marshal(wireData[T]{Version: m.Version, Data: rows})
	case FrontierMessage:
		return json.Marshal(wireFrontier{Frontier: m.Frontier.Elements()})
	default:
		return nil, fmt.Errorf("graph: unknown message type %d", m.Type)
	}
}

// UnmarshalJSON decodes either wire form, detected by the present field.
func (m *Message[T]) UnmarshalJSON(data []byte) error {
	var probe struct {
		Version  *json.RawMessage `json:"version"`
		Data     *json.RawMessage `json:"data"`
		Frontier *json.RawMessage `json:"frontier"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Frontier != nil {
		var wf wireFrontier
		if err := json.Unmarshal(data, &wf); err != nil {
			return err
		}
		m.Type = FrontierMessage
		m.Frontier = order.NewAntichain(wf.Frontier...)
		return nil
	}
	if probe.Version == nil || probe.Data == nil {
		return fmt.Errorf("graph: message has neither data nor frontier shape")
	}
	var wd struct {
		Version order.Version       `json:"version"`
		Data    [][2]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wd); err != nil {
		return err
	}
	entries := make([]multiset.Entry[T], len(wd.Data))
	for i, row := range wd.Data {
		var v T
		if err := json.Unmarshal(row[0], &v); err != nil {
			return err
		}
		var mult int32
		if err := json.Unmarshal(row[1], &mult); err != nil {
			return err
		}
		entries[i] = multiset.Entry[T]{Value: v, Mult: int(mult)}
	}
	m.Type = DataMessage
	m.Version = wd.Version
	m.Data = multiset.New(entries...)
	return nil
}
