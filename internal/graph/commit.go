// Copyright 2024 Lix Authors
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

// Package graph resolves commit ancestry and version inheritance.
//
// Both resolvers are explicit breadth-first walks over in-memory adjacency
// built from storage rows. They tolerate corrupted input: every traversal
// keeps a visited set and never expands a node twice.
package graph

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// CommitDepth is one commit reachable from a tip. Depth 0 is the tip itself.
type CommitDepth struct {
	CommitID string
	Depth    int
}

// Edges is the child → parents relation of the commit DAG. Commit ids are
// interned to dense uint32 ids so traversals can track visits in a bitmap.
type Edges struct {
	ids     map[string]uint32
	names   []string
	parents map[uint32][]uint32
}

// NewEdges returns an empty relation.
func NewEdges() *Edges {
	return &Edges{
		ids:     make(map[string]uint32),
		parents: make(map[uint32][]uint32),
	}
}

func (e *Edges) intern(id string) uint32 {
	if n, ok := e.ids[id]; ok {
		return n
	}
	n := uint32(len(e.names))
	e.ids[id] = n
	e.names = append(e.names, id)
	return n
}

// Add records that child has parent. Duplicate edges are ignored.
func (e *Edges) Add(parent, child string) {
	p, c := e.intern(parent), e.intern(child)
	for _, existing := range e.parents[c] {
		if existing == p {
			return
		}
	}
	e.parents[c] = append(e.parents[c], p)
}

// Parents returns the parent ids of a commit, sorted.
func (e *Edges) Parents(child string) []string {
	c, ok := e.ids[child]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.parents[c]))
	for _, p := range e.parents[c] {
		out = append(out, e.names[p])
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct commit ids seen.
func (e *Edges) Len() int {
	return len(e.names)
}

// Clone returns an independent copy, used to evaluate candidate edges
// without mutating the shared relation.
func (e *Edges) Clone() *Edges {
	out := &Edges{
		ids:     make(map[string]uint32, len(e.ids)),
		names:   append([]string(nil), e.names...),
		parents: make(map[uint32][]uint32, len(e.parents)),
	}
	for k, v := range e.ids {
		out.ids[k] = v
	}
	for k, v := range e.parents {
		out.parents[k] = append([]uint32(nil), v...)
	}
	return out
}

// CommitGraph walks parent edges breadth-first from tip and returns every
// reachable commit once, at its minimum distance from tip. A tip with no
// recorded edges yields a single row at depth 0. Output is ordered by depth,
// then commit id.
func CommitGraph(edges *Edges, tip string) []CommitDepth {
	if tip == "" {
		return nil
	}
	start, ok := edges.ids[tip]
	if !ok {
		return []CommitDepth{{CommitID: tip, Depth: 0}}
	}

	visited := roaring.New()
	visited.Add(start)

	result := []CommitDepth{{CommitID: tip, Depth: 0}}
	frontier := []uint32{start}
	for depth := 1; len(frontier) > 0; depth++ {
		var next []uint32
		for _, c := range frontier {
			for _, p := range edges.parents[c] {
				// CheckedAdd returns false when p was already emitted at a smaller
				// or equal depth, which also breaks cycles in corrupted graphs.
				if visited.CheckedAdd(p) {
					next = append(next, p)
				}
			}
		}
		level := make([]CommitDepth, 0, len(next))
		for _, p := range next {
			level = append(level, CommitDepth{CommitID: edges.names[p], Depth: depth})
		}
		sort.Slice(level, func(i, j int) bool { return level[i].CommitID < level[j].CommitID })
		result = append(result, level...)
		frontier = next
	}
	return result
}

// DepthIndex maps commit id → depth for fast membership checks.
func DepthIndex(rows []CommitDepth) map[string]int {
	idx := make(map[string]int, len(rows))
	for _, r := range rows {
		idx[r.CommitID] = r.Depth
	}
	return idx
}

// CommitIDs extracts the commit ids of rows in order.
func CommitIDs(rows []CommitDepth) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.CommitID
	}
	return ids
}
