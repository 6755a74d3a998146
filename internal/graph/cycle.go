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

package graph

import "github.com/RoaringBitmap/roaring"

// HasCycle runs an iterative three-color DFS over the whole relation and
// reports whether any directed cycle exists along parent edges.
func HasCycle(edges *Edges) bool {
	done := roaring.New()   // black
	onPath := roaring.New() // gray

	type frame struct {
		node uint32
		next int
	}

	for root := uint32(0); root < uint32(len(edges.names)); root++ {
		if done.Contains(root) {
			continue
		}
		stack := []frame{{node: root}}
		onPath.Add(root)
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			parents := edges.parents[top.node]
			if top.next < len(parents) {
				p := parents[top.next]
				top.next++
				if onPath.Contains(p) {
					return true
				}
				if !done.Contains(p) {
					onPath.Add(p)
					stack = append(stack, frame{node: p})
				}
				continue
			}
			onPath.Remove(top.node)
			done.Add(top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return false
}

// WouldCreateCycle reports whether adding parent → child to edges closes a
// cycle. edges is not modified.
func WouldCreateCycle(edges *Edges, parent, child string) bool {
	if parent == child {
		return true
	}
	candidate := edges.Clone()
	candidate.Add(parent, child)
	return HasCycle(candidate)
}
