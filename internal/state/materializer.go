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

package state

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"lix/internal/common"
	"lix/internal/graph"
	"lix/internal/storage"
)

// State is an entity as seen from a version.
type State struct {
	Row
	// VersionID is the version that was queried.
	VersionID string `json:"version_id"`
	// InheritedFromVersionID names the ancestor that supplied the row, or nil
	// when the row comes from the version's own history.
	InheritedFromVersionID *string `json:"inherited_from_version_id"`
}

// Options controls MaterializeAll.
type Options struct {
	Filter
	// IncludeTombstones returns deleted entities as rows with a nil snapshot.
	IncludeTombstones bool
}

// Materializer resolves entity state across version inheritance.
type Materializer struct {
	view *View
	db   *storage.BunDB
}

// NewMaterializer creates a materializer on top of view.
func NewMaterializer(db *storage.BunDB, view *View) *Materializer {
	return &Materializer{view: view, db: db}
}

// View returns the underlying latest-visible-state view.
func (m *Materializer) View() *View {
	return m.view
}

type versionIndex struct {
	byID    map[string]*storage.Version
	parents map[string]string
}

func (m *Materializer) loadVersions(ctx context.Context) (*versionIndex, error) {
	versions, err := m.db.ListVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	idx := &versionIndex{
		byID:    make(map[string]*storage.Version, len(versions)),
		parents: make(map[string]string, len(versions)),
	}
	for _, v := range versions {
		idx.byID[v.ID] = v
		if v.InheritsFromVersionID != nil {
			idx.parents[v.ID] = *v.InheritsFromVersionID
		}
	}
	return idx, nil
}

func (idx *versionIndex) known(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// Ancestry returns the inheritance chain of versionID, self first.
func (m *Materializer) Ancestry(ctx context.Context, versionID string) ([]graph.AncestorDepth, error) {
	idx, err := m.loadVersions(ctx)
	if err != nil {
		return nil, err
	}
	if !idx.known(versionID) {
		return nil, fmt.Errorf("version %s: %w", versionID, common.ErrNotFound)
	}
	return graph.VersionAncestry(idx.parents, idx.known, versionID), nil
}

// Materialize returns the state of one entity in versionID. Local history
// (pending and committed) wins; otherwise ancestors are consulted nearest
// first and only their committed state is visible. A tombstone is a hit and
// is returned with a nil snapshot. common.ErrNotFound means no version in the
// chain has ever seen the entity.
func (m *Materializer) Materialize(ctx context.Context, versionID, entityID, schemaKey string) (*State, error) {
	idx, err := m.loadVersions(ctx)
	if err != nil {
		return nil, err
	}
	if !idx.known(versionID) {
		return nil, fmt.Errorf("version %s: %w", versionID, common.ErrNotFound)
	}
	f := Filter{SchemaKey: schemaKey, EntityID: entityID}

	local, err := m.view.Local(ctx, versionID, f)
	if err != nil {
		return nil, err
	}
	if len(local) > 0 {
		return &State{Row: local[0], VersionID: versionID}, nil
	}

	for _, a := range graph.VersionAncestry(idx.parents, idx.known, versionID) {
		if a.Depth == 0 {
			continue
		}
		ancestor := idx.byID[a.AncestorID]
		rows, err := m.view.LatestAtCommit(ctx, ancestor.CommitID, f)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			from := a.AncestorID
			log.Tracef("[State] %s/%s in %s inherited from %s (depth %d)",
				schemaKey, entityID, versionID, from, a.Depth)
			return &State{Row: rows[0], VersionID: versionID, InheritedFromVersionID: &from}, nil
		}
	}
	return nil, fmt.Errorf("%s/%s in version %s: %w", schemaKey, entityID, versionID, common.ErrNotFound)
}

// MaterializeAll returns every entity visible in versionID that matches the
// filter. Local rows shadow inherited ones, and a local tombstone hides the
// inherited entity entirely unless IncludeTombstones is set.
func (m *Materializer) MaterializeAll(ctx context.Context, versionID string, opts Options) ([]State, error) {
	idx, err := m.loadVersions(ctx)
	if err != nil {
		return nil, err
	}
	if !idx.known(versionID) {
		return nil, fmt.Errorf("version %s: %w", versionID, common.ErrNotFound)
	}

	seen := make(map[rowKey]bool)
	var out []State

	local, err := m.view.Local(ctx, versionID, opts.Filter)
	if err != nil {
		return nil, err
	}
	for _, r := range local {
		seen[r.key()] = true
		out = append(out, State{Row: r, VersionID: versionID})
	}

	for _, a := range graph.VersionAncestry(idx.parents, idx.known, versionID) {
		if a.Depth == 0 {
			continue
		}
		rows, err := m.view.LatestAtCommit(ctx, idx.byID[a.AncestorID].CommitID, opts.Filter)
		if err != nil {
			return nil, err
		}
		from := a.AncestorID
		for _, r := range rows {
			if seen[r.key()] {
				continue
			}
			seen[r.key()] = true
			out = append(out, State{Row: r, VersionID: versionID, InheritedFromVersionID: &from})
		}
	}

	if !opts.IncludeTombstones {
		visible := out[:0]
		for _, s := range out {
			if !s.IsTombstone() {
				visible = append(visible, s)
			}
		}
		out = visible
	}
	sortStates(out)
	return out, nil
}

func sortStates(states []State) {
	rows := make([]Row, len(states))
	pos := make(map[rowKey]State, len(states))
	for i, s := range states {
		rows[i] = s.Row
		pos[s.key()] = s
	}
	sortRows(rows)
	for i, r := range rows {
		states[i] = pos[r.key()]
	}
}
