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

package engine

import (
	"context"

	"lix/internal/graph"
	"lix/internal/state"
	"lix/internal/storage"
)

// Changes returns the change log, oldest first.
func (l *Lix) Changes(ctx context.Context, f storage.ChangeFilter) ([]*storage.Change, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.ListChanges(ctx, f)
}

// Commits returns every commit with its parents, oldest first.
func (l *Lix) Commits(ctx context.Context) ([]*storage.Commit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.ListCommits(ctx)
}

// GetCommit returns one commit.
func (l *Lix) GetCommit(ctx context.Context, id string) (*storage.Commit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.GetCommit(ctx, id)
}

// CommitGraph returns every commit reachable from a version's tip with its
// minimum depth.
func (l *Lix) CommitGraph(ctx context.Context, versionRef string) ([]graph.CommitDepth, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.resolveVersion(ctx, versionRef)
	if err != nil {
		return nil, err
	}
	return l.view.CommitGraph(ctx, v.CommitID)
}

// History lists every change to one entity visible from a version: pending
// changes newest first, then committed changes by depth.
func (l *Lix) History(ctx context.Context, versionRef, schemaKey, entityID string) ([]state.Row, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.resolveVersion(ctx, versionRef)
	if err != nil {
		return nil, err
	}
	return l.view.History(ctx, v.ID, state.Filter{SchemaKey: schemaKey, EntityID: entityID})
}
