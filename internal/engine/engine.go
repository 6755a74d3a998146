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

// Package engine is the query surface of a lix store: versioned entity
// state, schemas, commits and version management on top of the change log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/config"
	"lix/internal/schema"
	"lix/internal/state"
	"lix/internal/storage"
	"lix/internal/validate"
)

// Well-known versions created when a store is first opened.
const (
	GlobalVersionID = "global"
	MainVersionID   = "main"
)

// Defaults for changes written without an explicit file or plugin.
const (
	DefaultFileID    = "lix"
	DefaultPluginKey = "lix_own_entity"
)

// Options configures an engine instance.
type Options struct {
	ReadOnly bool
	// CacheSize bounds the commit graph cache, 0 = default.
	CacheSize int
	// VerifyCommitGraph runs a full cycle check for every new commit edge.
	VerifyCommitGraph bool
	// DefaultAccount is credited on commits when no account is active.
	DefaultAccount string
}

// OptionsFromSettings maps global settings onto engine options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		CacheSize:         s.CacheSize,
		VerifyCommitGraph: s.DebugVerifyCommitGraph,
		DefaultAccount:    s.DefaultAccount,
	}
}

// Lix is an open store. It is safe for concurrent use: mutations and
// commits are serialized, reads run in parallel.
type Lix struct {
	mu sync.RWMutex

	store     *storage.Store
	db        *storage.BunDB
	schemas   *schema.Registry
	view      *state.View
	state     *state.Materializer
	validator *validate.Validator
	hooks     hooks
	opts      Options
}

// Open opens the store at path, creating and bootstrapping it if needed.
func Open(ctx context.Context, path string, opts Options) (*Lix, error) {
	store, err := storage.OpenOrCreate(path, storage.Options{ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, err
	}
	l, err := New(ctx, store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an already opened store. The engine takes ownership of store.
func New(ctx context.Context, store *storage.Store, opts Options) (*Lix, error) {
	db := store.DB()
	view := state.NewView(db, opts.CacheSize)
	materializer := state.NewMaterializer(db, view)
	registry := schema.NewRegistry()
	validator := validate.New(db, registry, materializer)
	validator.VerifyCommitGraph = opts.VerifyCommitGraph

	l := &Lix{
		store:     store,
		db:        db,
		schemas:   registry,
		view:      view,
		state:     materializer,
		validator: validator,
		opts:      opts,
	}
	if err := l.loadSchemas(ctx); err != nil {
		return nil, err
	}
	if !store.ReadOnly() {
		if err := l.bootstrap(ctx); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Close releases the store.
func (l *Lix) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}

// Store returns the underlying store.
func (l *Lix) Store() *storage.Store {
	return l.store
}

// loadSchemas registers persisted schemas. Definitions are retried until no
// more progress is made so that foreign key targets load before the schemas
// referencing them.
func (l *Lix) loadSchemas(ctx context.Context) error {
	stored, err := l.db.ListStoredSchemas(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	pending := make([]*schema.Definition, 0, len(stored))
	for _, s := range stored {
		def, err := schema.Parse([]byte(s.Definition))
		if err != nil {
			return fmt.Errorf("stored schema %s@%s: %w", s.Key, s.Version, err)
		}
		pending = append(pending, def)
	}
	for len(pending) > 0 {
		var retry []*schema.Definition
		var lastErr error
		for _, def := range pending {
			if err := l.schemas.Register(def); err != nil {
				retry = append(retry, def)
				lastErr = err
			}
		}
		if len(retry) == len(pending) {
			return fmt.Errorf("failed to load schemas: %w", lastErr)
		}
		pending = retry
	}
	log.Debugf("[Engine] loaded %d stored schemas", len(stored))
	return nil
}

// bootstrap creates the global and main versions of a fresh store. main
// inherits from global and becomes the active version.
func (l *Lix) bootstrap(ctx context.Context) error {
	versions, err := l.db.ListVersions(ctx)
	if err != nil {
		return err
	}
	if len(versions) > 0 {
		return nil
	}
	err = l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		global := GlobalVersionID
		for _, v := range []*storage.Version{
			{ID: GlobalVersionID, Name: GlobalVersionID},
			{ID: MainVersionID, Name: MainVersionID, InheritsFromVersionID: &global},
		} {
			root, err := l.writeCommit(ctx, tx, nil, nil, "initial commit")
			if err != nil {
				return err
			}
			v.CommitID = root.ID
			if err := l.db.InsertVersionWith(tx, ctx, v); err != nil {
				return err
			}
			if err := l.recordVersion(ctx, tx, v); err != nil {
				return err
			}
		}
		return l.db.SetConfigValueWith(tx, ctx, storage.ConfigActiveVersion, MainVersionID)
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap store: %w", err)
	}
	log.Infof("[Engine] bootstrapped store %s", l.store.Path())
	return nil
}

// builtinChange builds a change for an engine-managed schema.
func builtinChange(schemaKey, entityID string, snapshot map[string]any) *storage.Change {
	return &storage.Change{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		SchemaKey:     schemaKey,
		SchemaVersion: schema.BuiltinVersion,
		FileID:        DefaultFileID,
		PluginKey:     DefaultPluginKey,
		Snapshot:      snapshot,
		CreatedAt:     time.Now(),
	}
}

// recordVersion appends the version row to the change log so that tip
// moves and inheritance changes are auditable.
func (l *Lix) recordVersion(ctx context.Context, idb bun.IDB, v *storage.Version) error {
	var parent any
	if v.InheritsFromVersionID != nil {
		parent = *v.InheritsFromVersionID
	}
	return l.db.InsertChangeWith(idb, ctx, builtinChange(schema.KeyVersion, v.ID, map[string]any{
		"id":                       v.ID,
		"name":                     v.Name,
		"commit_id":                v.CommitID,
		"inherits_from_version_id": parent,
		"hidden":                   v.Hidden,
	}))
}

// resolveVersion looks a version up by id, then by name.
func (l *Lix) resolveVersion(ctx context.Context, ref string) (*storage.Version, error) {
	v, err := l.db.GetVersion(ctx, ref)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	v, err = l.db.GetVersionByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", ref, err)
	}
	return v, nil
}

func (l *Lix) activeVersionID(ctx context.Context) (string, error) {
	id, err := l.db.GetConfigValue(ctx, storage.ConfigActiveVersion)
	if err != nil {
		return "", fmt.Errorf("failed to read active version: %w", err)
	}
	if id == "" {
		return MainVersionID, nil
	}
	return id, nil
}
