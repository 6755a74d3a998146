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

// AncestorDepth is one entry of a version's inheritance chain.
type AncestorDepth struct {
	VersionID  string
	AncestorID string
	Depth      int
}

// VersionAncestry follows inherits_from links starting at id. The version
// itself is returned at depth 0, its parent at 1 and so on. The walk stops at
// a version without a parent, at a parent id that is not a known version, or
// at an id already visited (inheritance cycle).
//
// parents maps version id → parent id; known reports version existence.
// A nil known treats every id as existing.
func VersionAncestry(parents map[string]string, known func(string) bool, id string) []AncestorDepth {
	if id == "" {
		return nil
	}
	visited := map[string]bool{id: true}
	chain := []AncestorDepth{{VersionID: id, AncestorID: id, Depth: 0}}

	current := id
	for depth := 1; ; depth++ {
		parent, ok := parents[current]
		if !ok || parent == "" {
			break
		}
		if known != nil && !known(parent) {
			break
		}
		if visited[parent] {
			break
		}
		visited[parent] = true
		chain = append(chain, AncestorDepth{VersionID: id, AncestorID: parent, Depth: depth})
		current = parent
	}
	return chain
}

// WouldCreateInheritanceCycle reports whether setting child's parent to
// parent closes a loop in the inheritance relation.
func WouldCreateInheritanceCycle(parents map[string]string, child, parent string) bool {
	if parent == "" {
		return false
	}
	if child == parent {
		return true
	}
	for _, a := range VersionAncestry(parents, nil, parent) {
		if a.AncestorID == child {
			return true
		}
	}
	return false
}
