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

// Package state computes entity state from the change log.
//
// View answers "what is the nearest change per entity reachable from a
// commit tip". Materializer layers the version's own working state and the
// inheritance chain on top of it.
package state

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"lix/internal/cache"
	"lix/internal/graph"
	"lix/internal/storage"
)

// PendingDepth is reported for changes not yet part of a commit.
const PendingDepth = -1

// Filter narrows state queries. Empty fields match everything.
type Filter struct {
	SchemaKey string
	EntityID  string
	FileID    string
	// TrackedOnly leaves untracked state out of the local overlay.
	TrackedOnly bool
}

func (f Filter) changeFilter() storage.ChangeFilter {
	return storage.ChangeFilter{SchemaKey: f.SchemaKey, EntityID: f.EntityID, FileID: f.FileID}
}

// Row is the visible change for one (entity, schema).
type Row struct {
	EntityID      string         `json:"entity_id"`
	SchemaKey     string         `json:"schema_key"`
	SchemaVersion string         `json:"schema_version"`
	FileID        string         `json:"file_id"`
	PluginKey     string         `json:"plugin_key"`
	Snapshot      map[string]any `json:"snapshot"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ChangeID      string         `json:"change_id,omitempty"`
	CommitID      string         `json:"commit_id,omitempty"`
	Depth         int            `json:"depth"`
	Seq           int64          `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	Untracked     bool           `json:"untracked,omitempty"`
}

// IsTombstone reports whether the row records a deletion.
func (r *Row) IsTombstone() bool {
	return r.Snapshot == nil
}

type rowKey struct {
	entityID  string
	schemaKey string
}

func (r *Row) key() rowKey {
	return rowKey{entityID: r.EntityID, schemaKey: r.SchemaKey}
}

func rowFromChange(c *storage.Change, commitID string, depth int) Row {
	return Row{
		EntityID:      c.EntityID,
		SchemaKey:     c.SchemaKey,
		SchemaVersion: c.SchemaVersion,
		FileID:        c.FileID,
		PluginKey:     c.PluginKey,
		Snapshot:      c.Snapshot,
		Metadata:      c.Metadata,
		ChangeID:      c.ID,
		CommitID:      commitID,
		Depth:         depth,
		Seq:           c.Seq,
		CreatedAt:     c.CreatedAt,
	}
}

// View resolves the latest visible change per entity for a commit tip.
type View struct {
	db     *storage.BunDB
	graphs *cache.LRU[string, []graph.CommitDepth]
}

// NewView creates a view over db. cacheSize bounds the number of resolved
// commit graphs kept in memory.
func NewView(db *storage.BunDB, cacheSize int) *View {
	return &View{
		db:     db,
		graphs: cache.NewLRU[string, []graph.CommitDepth](cacheSize),
	}
}

// Graphs exposes the commit graph cache.
func (v *View) Graphs() *cache.LRU[string, []graph.CommitDepth] {
	return v.graphs
}

// LoadEdges reads the full commit edge relation.
func (v *View) LoadEdges(ctx context.Context) (*graph.Edges, error) {
	rows, err := v.db.ListCommitEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit edges: %w", err)
	}
	edges := graph.NewEdges()
	for _, e := range rows {
		edges.Add(e.ParentID, e.ChildID)
	}
	return edges, nil
}

// CommitGraph returns the (commit, depth) rows reachable from tip.
// Results are cached by tip: commits and edges are append-only, so the
// ancestry of an existing commit never changes.
func (v *View) CommitGraph(ctx context.Context, tip string) ([]graph.CommitDepth, error) {
	if rows, ok := v.graphs.Get(tip); ok {
		return rows, nil
	}
	edges, err := v.LoadEdges(ctx)
	if err != nil {
		return nil, err
	}
	rows := graph.CommitGraph(edges, tip)
	v.graphs.Add(tip, rows)
	log.Tracef("[State] resolved commit graph tip=%s commits=%d", tip, len(rows))
	return rows, nil
}

// Latest returns the committed state visible from a version's tip: one row
// per (entity, schema), nearest depth first, ties broken by the lower seq.
// Tombstones are returned. Inheritance and pending changes are ignored.
func (v *View) Latest(ctx context.Context, versionID string, f Filter) ([]Row, error) {
	version, err := v.db.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}
	return v.LatestAtCommit(ctx, version.CommitID, f)
}

// LatestAtCommit is Latest for an explicit tip commit.
func (v *View) LatestAtCommit(ctx context.Context, tip string, f Filter) ([]Row, error) {
	rows, err := v.reachable(ctx, tip, f)
	if err != nil {
		return nil, err
	}
	best := make(map[rowKey]int, len(rows))
	var out []Row
	for _, r := range rows {
		k := r.key()
		i, ok := best[k]
		if !ok {
			best[k] = len(out)
			out = append(out, r)
			continue
		}
		cur := &out[i]
		if r.Depth < cur.Depth || (r.Depth == cur.Depth && r.Seq < cur.Seq) {
			*cur = r
		}
	}
	sortRows(out)
	return out, nil
}

// reachable returns every change reachable from tip, annotated with the
// depth of the commit that carries it.
func (v *View) reachable(ctx context.Context, tip string, f Filter) ([]Row, error) {
	commits, err := v.CommitGraph(ctx, tip)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}
	depths := graph.DepthIndex(commits)
	changes, err := v.db.ChangesInCommitsWith(v.db.DB, ctx, graph.CommitIDs(commits), f.changeFilter())
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(changes))
	for _, cc := range changes {
		rows = append(rows, rowFromChange(cc.Change, cc.CommitID, depths[cc.CommitID]))
	}
	return rows, nil
}

// Local returns a version's own visible state: committed rows overlaid by
// pending changes (latest seq wins, depth -1) and untracked state, which
// shadows both. Tombstones are returned.
func (v *View) Local(ctx context.Context, versionID string, f Filter) ([]Row, error) {
	committed, err := v.Latest(ctx, versionID, f)
	if err != nil {
		return nil, err
	}
	byKey := make(map[rowKey]Row, len(committed))
	for _, r := range committed {
		byKey[r.key()] = r
	}

	pending, err := v.db.ListPending(ctx, versionID, f.changeFilter())
	if err != nil {
		return nil, err
	}
	// ListPending is ordered by seq, so later writes overwrite earlier ones.
	for _, c := range pending {
		r := rowFromChange(c, "", PendingDepth)
		byKey[r.key()] = r
	}

	if f.TrackedOnly {
		return sortedRows(byKey), nil
	}
	untracked, err := v.db.ListUntracked(ctx, versionID, f.changeFilter())
	if err != nil {
		return nil, err
	}
	for _, c := range untracked {
		r := rowFromChange(c, "", PendingDepth)
		r.Untracked = true
		byKey[r.key()] = r
	}
	return sortedRows(byKey), nil
}

func sortedRows(byKey map[rowKey]Row) []Row {
	out := make([]Row, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sortRows(out)
	return out
}

// History returns every change to the filtered entities that is reachable
// from the version: pending changes first (newest first), then committed
// changes by ascending depth.
func (v *View) History(ctx context.Context, versionID string, f Filter) ([]Row, error) {
	version, err := v.db.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}

	pending, err := v.db.ListPending(ctx, versionID, f.changeFilter())
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(pending))
	for i := len(pending) - 1; i >= 0; i-- {
		out = append(out, rowFromChange(pending[i], "", PendingDepth))
	}

	committed, err := v.reachable(ctx, version.CommitID, f)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(committed, func(i, j int) bool {
		if committed[i].Depth != committed[j].Depth {
			return committed[i].Depth < committed[j].Depth
		}
		return committed[i].Seq > committed[j].Seq
	})
	return append(out, committed...), nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SchemaKey != rows[j].SchemaKey {
			return rows[i].SchemaKey < rows[j].SchemaKey
		}
		return rows[i].EntityID < rows[j].EntityID
	})
}
