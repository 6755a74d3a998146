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

package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
)

// DumpFormat identifies the export blob layout.
const DumpFormat = "lix-dump/1"

// insertBatchSize keeps multi-row inserts under SQLite's bound parameter limit.
const insertBatchSize = 200

// Dump is the full content of a store, as written by Export.
type Dump struct {
	Format            string                  `json:"format"`
	SchemaVersion     string                  `json:"schema_version"`
	Config            []ConfigModel           `json:"config"`
	Changes           []*Change               `json:"changes"`
	ChangeSets        []ChangeSetModel        `json:"change_sets"`
	ChangeSetElements []ChangeSetElementModel `json:"change_set_elements"`
	Commits           []*Commit               `json:"commits"`
	CommitEdges       []CommitEdgeModel       `json:"commit_edges"`
	Versions          []*Version              `json:"versions"`
	PendingChanges    []PendingChangeModel    `json:"pending_changes"`
	StoredSchemas     []StoredSchemaModel     `json:"stored_schemas"`
	Accounts          []AccountModel          `json:"accounts"`
	CommitAuthors     []CommitAuthorModel     `json:"commit_authors"`
	UntrackedState    []UntrackedStateModel   `json:"untracked_state"`
}

// ReadDump loads every table into a Dump.
func (s *Store) ReadDump(ctx context.Context) (*Dump, error) {
	db := s.bunDB
	d := &Dump{Format: DumpFormat, SchemaVersion: SchemaVersion}

	var err error
	if d.Changes, err = db.ListChanges(ctx, ChangeFilter{}); err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	if d.Commits, err = db.ListCommits(ctx); err != nil {
		return nil, fmt.Errorf("failed to read commits: %w", err)
	}
	if d.Versions, err = db.ListVersions(ctx); err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	if d.CommitEdges, err = db.ListCommitEdges(ctx); err != nil {
		return nil, fmt.Errorf("failed to read commit edges: %w", err)
	}

	tables := []struct {
		name  string
		dest  any
		order string
	}{
		{"config", &d.Config, "key ASC"},
		{"change_sets", &d.ChangeSets, "created_at ASC, id ASC"},
		{"change_set_elements", &d.ChangeSetElements, "change_set_id ASC, change_id ASC"},
		{"pending_changes", &d.PendingChanges, "version_id ASC, change_id ASC"},
		{"stored_schemas", &d.StoredSchemas, "key ASC, version ASC"},
		{"accounts", &d.Accounts, "id ASC"},
		{"commit_authors", &d.CommitAuthors, "commit_id ASC, account_id ASC"},
		{"untracked_state", &d.UntrackedState, "version_id ASC, schema_key ASC, entity_id ASC"},
	}
	for _, t := range tables {
		if err := db.NewSelect().Model(t.dest).OrderExpr(t.order).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", t.name, err)
		}
	}
	return d, nil
}

// Export writes the store as a gzip-compressed JSON document.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	d, err := s.ReadDump(ctx)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(d); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode dump: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush dump: %w", err)
	}
	log.Debugf("[Storage] exported %d changes, %d commits, %d versions",
		len(d.Changes), len(d.Commits), len(d.Versions))
	return nil
}

// Import loads a blob written by Export. The store must not contain any
// changes or versions yet.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer gz.Close()

	var d Dump
	if err := json.NewDecoder(gz).Decode(&d); err != nil {
		return fmt.Errorf("failed to decode dump: %w", err)
	}
	if d.Format != DumpFormat {
		return fmt.Errorf("unsupported dump format %q: %w", d.Format, common.ErrInvalidOperation)
	}
	return s.LoadDump(ctx, &d)
}

// LoadDump writes a Dump into an empty store in one transaction.
func (s *Store) LoadDump(ctx context.Context, d *Dump) error {
	empty, err := s.isEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("import into %s: %w", s.path, common.ErrNotEmpty)
	}

	return s.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		changes := make([]ChangeModel, 0, len(d.Changes))
		for _, c := range d.Changes {
			m, err := NewChangeModel(c)
			if err != nil {
				return err
			}
			changes = append(changes, *m)
		}
		commits := make([]CommitModel, 0, len(d.Commits))
		for _, c := range d.Commits {
			commits = append(commits, CommitModel{
				ID:          c.ID,
				ChangeSetID: c.ChangeSetID,
				ChangeID:    NullString(&c.ChangeID),
				Message:     c.Message,
				CreatedAt:   c.CreatedAt.UnixMilli(),
			})
		}
		versions := make([]VersionModel, 0, len(d.Versions))
		for _, v := range d.Versions {
			versions = append(versions, VersionModel{
				ID:                    v.ID,
				Name:                  v.Name,
				CommitID:              v.CommitID,
				InheritsFromVersionID: NullString(v.InheritsFromVersionID),
				Hidden:                v.Hidden,
				CreatedAt:             v.CreatedAt.UnixMilli(),
			})
		}

		// Order follows foreign key dependencies.
		steps := []struct {
			name   string
			insert func() error
		}{
			{"changes", func() error { return insertBatched(ctx, tx, changes) }},
			{"change_sets", func() error { return insertBatched(ctx, tx, d.ChangeSets) }},
			{"change_set_elements", func() error { return insertBatched(ctx, tx, d.ChangeSetElements) }},
			{"commits", func() error { return insertBatched(ctx, tx, commits) }},
			{"commit_edges", func() error { return insertBatched(ctx, tx, d.CommitEdges) }},
			{"versions", func() error { return insertBatched(ctx, tx, versions) }},
			{"pending_changes", func() error { return insertBatched(ctx, tx, d.PendingChanges) }},
			{"stored_schemas", func() error { return insertBatched(ctx, tx, d.StoredSchemas) }},
			{"accounts", func() error { return insertBatched(ctx, tx, d.Accounts) }},
			{"commit_authors", func() error { return insertBatched(ctx, tx, d.CommitAuthors) }},
			{"untracked_state", func() error { return insertBatched(ctx, tx, d.UntrackedState) }},
			{"config", func() error { return insertBatched(ctx, tx, d.Config) }},
		}
		start := time.Now()
		for _, step := range steps {
			if err := step.insert(); err != nil {
				return fmt.Errorf("failed to import %s: %w", step.name, err)
			}
		}
		log.Debugf("[Storage] imported %d changes in %v", len(changes), time.Since(start))
		return nil
	})
}

func insertBatched[T any](ctx context.Context, idb bun.IDB, rows []T) error {
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		batch := rows[start:end]
		if _, err := idb.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) isEmpty(ctx context.Context) (bool, error) {
	for _, model := range []any{(*ChangeModel)(nil), (*VersionModel)(nil)} {
		n, err := s.bunDB.NewSelect().Model(model).Count(ctx)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}
