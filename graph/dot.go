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

	"github.com/emicklei/dot"
)

// DOT renders the operator topology as a Graphviz document, one node per
// operator labeled name#id, one edge per stream connection. Useful for
// inspecting what a query compiler actually built.
func (g *Graph) DOT() string {
	d := dot.NewGraph(dot.Directed)
	nodes := make(map[int]dot.Node, len(g.ops))
	for _, op := range g.ops {
		nodes[op.id()] = d.Node(fmt.Sprintf("%s#%d", g.labels[op.id()], op.id()))
	}
	for _, e := range g.edges {
		d.Edge(nodes[e.from], nodes[e.to])
	}
	return d.String()
}
