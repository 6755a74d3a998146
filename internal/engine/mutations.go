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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/schema"
	"lix/internal/state"
	"lix/internal/storage"
	"lix/internal/validate"
)

// Mutation is one state write.
type Mutation struct {
	SchemaKey string
	// SchemaVersion defaults to the latest registered version.
	SchemaVersion string
	// EntityID defaults to the primary key values of the snapshot, or a new
	// id for schemas without a primary key.
	EntityID  string
	FileID    string
	PluginKey string
	Snapshot  map[string]any
	Metadata  map[string]any
	// Untracked writes version-local state that never enters the change log.
	Untracked bool
}

// Insert adds an entity to the active version.
func (l *Lix) Insert(ctx context.Context, m Mutation) (*state.State, error) {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return l.InsertIn(ctx, versionID, m)
}

// InsertIn adds an entity to versionID.
func (l *Lix) InsertIn(ctx context.Context, versionID string, m Mutation) (*state.State, error) {
	return l.mutate(ctx, versionID, validate.OpInsert, m)
}

// Update replaces an entity's snapshot in the active version.
func (l *Lix) Update(ctx context.Context, m Mutation) (*state.State, error) {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return l.UpdateIn(ctx, versionID, m)
}

// UpdateIn replaces an entity's snapshot in versionID. Updating an entity
// inherited from an ancestor writes the new snapshot to versionID only.
func (l *Lix) UpdateIn(ctx context.Context, versionID string, m Mutation) (*state.State, error) {
	return l.mutate(ctx, versionID, validate.OpUpdate, m)
}

// Delete removes an entity from the active version.
func (l *Lix) Delete(ctx context.Context, m Mutation) error {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return err
	}
	return l.DeleteIn(ctx, versionID, m)
}

// DeleteIn removes an entity from versionID by appending a tombstone.
// Inherited entities are hidden in versionID and stay visible in the
// ancestor.
func (l *Lix) DeleteIn(ctx context.Context, versionID string, m Mutation) error {
	m.Snapshot = nil
	_, err := l.mutate(ctx, versionID, validate.OpDelete, m)
	return err
}

// Get returns an entity of the active version. Deleted and unknown
// entities return common.ErrNotFound.
func (l *Lix) Get(ctx context.Context, schemaKey, entityID string) (*state.State, error) {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return l.GetIn(ctx, versionID, schemaKey, entityID)
}

// GetIn returns an entity of versionID.
func (l *Lix) GetIn(ctx context.Context, versionID, schemaKey, entityID string) (*state.State, error) {
	s, err := l.Materialize(ctx, versionID, schemaKey, entityID)
	if err != nil {
		return nil, err
	}
	if s.IsTombstone() {
		return nil, fmt.Errorf("%s/%s in version %s: %w", schemaKey, entityID, versionID, common.ErrNotFound)
	}
	return s, nil
}

// Materialize returns the resolved state of an entity in versionID,
// including tombstones.
func (l *Lix) Materialize(ctx context.Context, versionID, schemaKey, entityID string) (*state.State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Materialize(ctx, versionID, entityID, schemaKey)
}

// Select returns the visible entities of the active version.
func (l *Lix) Select(ctx context.Context, f state.Filter) ([]state.State, error) {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return l.SelectIn(ctx, versionID, state.Options{Filter: f})
}

// SelectIn returns the visible entities of versionID.
func (l *Lix) SelectIn(ctx context.Context, versionID string, opts state.Options) ([]state.State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.MaterializeAll(ctx, versionID, opts)
}

// normalize round-trips a snapshot through JSON so validation sees the
// same value shapes that are later read back from the store.
func normalize(snapshot map[string]any) (map[string]any, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSnapshot, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSnapshot, err)
	}
	return out, nil
}

func (l *Lix) mutate(ctx context.Context, versionID string, op validate.Operation, m Mutation) (*state.State, error) {
	if schema.IsBuiltin(m.SchemaKey) {
		return nil, fmt.Errorf("%w: %s is managed by the engine", common.ErrInvalidOperation, m.SchemaKey)
	}
	if op != validate.OpDelete && m.Snapshot == nil {
		return nil, fmt.Errorf("%w: %s requires a snapshot", common.ErrInvalidSnapshot, op)
	}
	snapshot, err := normalize(m.Snapshot)
	if err != nil {
		return nil, err
	}
	metadata, err := normalize(m.Metadata)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	req := &validate.Request{
		SchemaKey:     m.SchemaKey,
		SchemaVersion: m.SchemaVersion,
		Snapshot:      snapshot,
		Operation:     op,
		EntityID:      m.EntityID,
		VersionID:     versionID,
		Untracked:     m.Untracked,
	}
	if op == validate.OpInsert && req.EntityID == "" {
		if def, err := l.schemas.Lookup(m.SchemaKey, m.SchemaVersion); err == nil && !def.HasPrimaryKey() {
			req.EntityID = uuid.NewString()
		}
	}
	// Validation reads outside the write transaction. l.mu and the store's
	// writer lock keep what it saw current until the change lands.
	if err := l.validator.Validate(ctx, req); err != nil {
		return nil, err
	}

	c := &storage.Change{
		ID:            uuid.NewString(),
		EntityID:      req.EntityID,
		SchemaKey:     req.SchemaKey,
		SchemaVersion: req.SchemaVersion,
		FileID:        orDefault(m.FileID, DefaultFileID),
		PluginKey:     orDefault(m.PluginKey, DefaultPluginKey),
		Snapshot:      snapshot,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}

	err = l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if m.Untracked {
			if op == validate.OpDelete {
				_, err := l.db.DeleteUntrackedWith(tx, ctx, versionID, c.EntityID, c.SchemaKey)
				return err
			}
			return l.db.UpsertUntrackedWith(tx, ctx, versionID, c)
		}
		if err := l.db.InsertChangeWith(tx, ctx, c); err != nil {
			return err
		}
		return l.db.InsertPendingWith(tx, ctx, versionID, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write %s %s/%s: %w", op, c.SchemaKey, c.EntityID, err)
	}
	log.Debugf("[Engine] %s %s/%s in %s (untracked=%v)", op, c.SchemaKey, c.EntityID, versionID, m.Untracked)

	if op == validate.OpDelete {
		return nil, nil
	}
	s, err := l.state.Materialize(ctx, versionID, c.EntityID, c.SchemaKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return s, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
