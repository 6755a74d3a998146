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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Bun ORM models for lix store tables.
// Timestamps are stored as Unix milliseconds.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// ConfigModel represents the config table
type ConfigModel struct {
	bun.BaseModel `bun:"table:config"`

	Key   string `bun:"key,pk" json:"key"`
	Value string `bun:"value,notnull" json:"value"`
}

// ChangeModel represents the changes table. Snapshot is NULL for tombstones.
type ChangeModel struct {
	bun.BaseModel `bun:"table:changes"`

	Seq           int64          `bun:"seq,pk,autoincrement"`
	ID            string         `bun:"id,notnull,unique"`
	EntityID      string         `bun:"entity_id,notnull"`
	SchemaKey     string         `bun:"schema_key,notnull"`
	SchemaVersion string         `bun:"schema_version,notnull"`
	FileID        string         `bun:"file_id,notnull"`
	PluginKey     string         `bun:"plugin_key,notnull"`
	Snapshot      sql.NullString `bun:"snapshot"`
	Metadata      sql.NullString `bun:"metadata"`
	CreatedAt     int64          `bun:"created_at,notnull"`
}

// ChangeSetModel represents the change_sets table
type ChangeSetModel struct {
	bun.BaseModel `bun:"table:change_sets"`

	ID        string `bun:"id,pk" json:"id"`
	CreatedAt int64  `bun:"created_at,notnull" json:"created_at"`
}

// ChangeSetElementModel represents the change_set_elements table
type ChangeSetElementModel struct {
	bun.BaseModel `bun:"table:change_set_elements"`

	ChangeSetID string `bun:"change_set_id,pk" json:"change_set_id"`
	ChangeID    string `bun:"change_id,pk" json:"change_id"`
	EntityID    string `bun:"entity_id,notnull" json:"entity_id"`
	SchemaKey   string `bun:"schema_key,notnull" json:"schema_key"`
	FileID      string `bun:"file_id,notnull" json:"file_id"`
}

// CommitModel represents the commits table. ChangeID points at the
// lix_commit change that records the commit in the change log.
type CommitModel struct {
	bun.BaseModel `bun:"table:commits"`

	ID          string         `bun:"id,pk"`
	ChangeSetID string         `bun:"change_set_id,notnull"`
	ChangeID    sql.NullString `bun:"change_id"`
	Message     string         `bun:"message,notnull"`
	CreatedAt   int64          `bun:"created_at,notnull"`
}

// CommitEdgeModel represents the commit_edges table
type CommitEdgeModel struct {
	bun.BaseModel `bun:"table:commit_edges"`

	ParentID string `bun:"parent_id,pk" json:"parent_id"`
	ChildID  string `bun:"child_id,pk" json:"child_id"`
}

// VersionModel represents the versions table
type VersionModel struct {
	bun.BaseModel `bun:"table:versions"`

	ID                    string         `bun:"id,pk"`
	Name                  string         `bun:"name,notnull,unique"`
	CommitID              string         `bun:"commit_id,notnull"`
	InheritsFromVersionID sql.NullString `bun:"inherits_from_version_id"`
	Hidden                bool           `bun:"hidden,notnull"`
	CreatedAt             int64          `bun:"created_at,notnull"`
}

// PendingChangeModel represents the pending_changes table
type PendingChangeModel struct {
	bun.BaseModel `bun:"table:pending_changes"`

	VersionID string `bun:"version_id,pk" json:"version_id"`
	ChangeID  string `bun:"change_id,pk" json:"change_id"`
	EntityID  string `bun:"entity_id,notnull" json:"entity_id"`
	SchemaKey string `bun:"schema_key,notnull" json:"schema_key"`
}

// StoredSchemaModel represents the stored_schemas table
type StoredSchemaModel struct {
	bun.BaseModel `bun:"table:stored_schemas"`

	Key        string `bun:"key,pk" json:"key"`
	Version    string `bun:"version,pk" json:"version"`
	Definition string `bun:"definition,notnull" json:"definition"`
	CreatedAt  int64  `bun:"created_at,notnull" json:"created_at"`
}

// AccountModel represents the accounts table
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID        string `bun:"id,pk" json:"id"`
	Name      string `bun:"name,notnull" json:"name"`
	CreatedAt int64  `bun:"created_at,notnull" json:"created_at"`
}

// CommitAuthorModel represents the commit_authors table
type CommitAuthorModel struct {
	bun.BaseModel `bun:"table:commit_authors"`

	CommitID  string `bun:"commit_id,pk" json:"commit_id"`
	AccountID string `bun:"account_id,pk" json:"account_id"`
}

// UntrackedStateModel represents the untracked_state table
type UntrackedStateModel struct {
	bun.BaseModel `bun:"table:untracked_state"`

	VersionID     string `bun:"version_id,pk" json:"version_id"`
	EntityID      string `bun:"entity_id,pk" json:"entity_id"`
	SchemaKey     string `bun:"schema_key,pk" json:"schema_key"`
	SchemaVersion string `bun:"schema_version,notnull" json:"schema_version"`
	FileID        string `bun:"file_id,notnull" json:"file_id"`
	PluginKey     string `bun:"plugin_key,notnull" json:"plugin_key"`
	Snapshot      string `bun:"snapshot,notnull" json:"snapshot"`
	UpdatedAt     int64  `bun:"updated_at,notnull" json:"updated_at"`
}

// Change is an immutable entry of the change log.
type Change struct {
	Seq           int64          `json:"seq"`
	ID            string         `json:"id"`
	EntityID      string         `json:"entity_id"`
	SchemaKey     string         `json:"schema_key"`
	SchemaVersion string         `json:"schema_version"`
	FileID        string         `json:"file_id"`
	PluginKey     string         `json:"plugin_key"`
	Snapshot      map[string]any `json:"snapshot"` // nil = tombstone
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// IsTombstone reports whether the change records a deletion.
func (c *Change) IsTombstone() bool {
	return c.Snapshot == nil
}

// Version is a named pointer at a commit tip.
type Version struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	CommitID              string    `json:"commit_id"`
	InheritsFromVersionID *string   `json:"inherits_from_version_id"`
	Hidden                bool      `json:"hidden"`
	CreatedAt             time.Time `json:"created_at"`
}

// Commit is a commit row plus its parents.
type Commit struct {
	ID          string    `json:"id"`
	ChangeSetID string    `json:"change_set_id"`
	ChangeID    string    `json:"change_id,omitempty"`
	Message     string    `json:"message,omitempty"`
	ParentIDs   []string  `json:"parent_commit_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// EncodeJSON marshals a snapshot or metadata object for storage.
// A nil map is stored as NULL.
func EncodeJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// DecodeJSON is the inverse of EncodeJSON.
func DecodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	return v, nil
}

// NewChangeModel converts a Change into its row form.
func NewChangeModel(c *Change) (*ChangeModel, error) {
	snapshot, err := EncodeJSON(c.Snapshot)
	if err != nil {
		return nil, err
	}
	metadata, err := EncodeJSON(c.Metadata)
	if err != nil {
		return nil, err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &ChangeModel{
		Seq:           c.Seq,
		ID:            c.ID,
		EntityID:      c.EntityID,
		SchemaKey:     c.SchemaKey,
		SchemaVersion: c.SchemaVersion,
		FileID:        c.FileID,
		PluginKey:     c.PluginKey,
		Snapshot:      snapshot,
		Metadata:      metadata,
		CreatedAt:     created.UnixMilli(),
	}, nil
}

// ToChange converts a ChangeModel to a Change
func (m *ChangeModel) ToChange() (*Change, error) {
	snapshot, err := DecodeJSON(m.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("change %s snapshot: %w", m.ID, err)
	}
	metadata, err := DecodeJSON(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("change %s metadata: %w", m.ID, err)
	}
	return &Change{
		Seq:           m.Seq,
		ID:            m.ID,
		EntityID:      m.EntityID,
		SchemaKey:     m.SchemaKey,
		SchemaVersion: m.SchemaVersion,
		FileID:        m.FileID,
		PluginKey:     m.PluginKey,
		Snapshot:      snapshot,
		Metadata:      metadata,
		CreatedAt:     time.UnixMilli(m.CreatedAt),
	}, nil
}

// ToVersion converts a VersionModel to a Version
func (m *VersionModel) ToVersion() *Version {
	v := &Version{
		ID:        m.ID,
		Name:      m.Name,
		CommitID:  m.CommitID,
		Hidden:    m.Hidden,
		CreatedAt: time.UnixMilli(m.CreatedAt),
	}
	if m.InheritsFromVersionID.Valid {
		parent := m.InheritsFromVersionID.String
		v.InheritsFromVersionID = &parent
	}
	return v
}

// NullString wraps an optional id for nullable columns.
func NullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
