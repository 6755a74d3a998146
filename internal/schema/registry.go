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

package schema

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"lix/internal/common"
)

// Built-in schema keys managed by the engine.
const (
	KeyCommit     = "lix_commit"
	KeyVersion    = "lix_version"
	KeyCommitEdge = "lix_commit_edge"
	KeyAccount    = "lix_account"
)

// BuiltinVersion is the schema version of all built-in schemas.
const BuiltinVersion = "1.0"

var builtinDefinitions = []string{
	`{
		"x-lix-key": "lix_commit",
		"x-lix-version": "1.0",
		"x-lix-primary-key": ["/id"],
		"x-lix-immutable": true,
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"change_set_id": {"type": "string"},
			"parent_commit_ids": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["id", "change_set_id", "parent_commit_ids"],
		"additionalProperties": false
	}`,
	`{
		"x-lix-key": "lix_version",
		"x-lix-version": "1.0",
		"x-lix-primary-key": ["/id"],
		"x-lix-unique": [["/name"]],
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string"},
			"commit_id": {"type": "string"},
			"inherits_from_version_id": {"type": ["string", "null"]},
			"hidden": {"type": "boolean"}
		},
		"required": ["id", "name", "commit_id"],
		"additionalProperties": false
	}`,
	`{
		"x-lix-key": "lix_commit_edge",
		"x-lix-version": "1.0",
		"type": "object",
		"properties": {
			"parent_id": {"type": "string"},
			"child_id": {"type": "string"}
		},
		"required": ["parent_id", "child_id"],
		"additionalProperties": false
	}`,
	`{
		"x-lix-key": "lix_account",
		"x-lix-version": "1.0",
		"x-lix-primary-key": ["/id"],
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string"}
		},
		"required": ["id", "name"]
	}`,
}

// IsBuiltin reports whether key names an engine-managed schema.
func IsBuiltin(key string) bool {
	switch key {
	case KeyCommit, KeyVersion, KeyCommitEdge, KeyAccount:
		return true
	}
	return false
}

// Capabilities is the flat table of checks a schema participates in.
type Capabilities struct {
	PrimaryKey  bool
	Unique      bool
	ForeignKeys bool
	Immutable   bool
}

// Capabilities derives the check table of a definition.
func (d *Definition) Capabilities() Capabilities {
	return Capabilities{
		PrimaryKey:  len(d.primaryKey) > 0,
		Unique:      len(d.unique) > 0,
		ForeignKeys: len(d.ForeignKeys) > 0,
		Immutable:   d.Immutable,
	}
}

// Referencing is a foreign key of one schema that points at another.
type Referencing struct {
	Definition *Definition
	ForeignKey *ForeignKey
}

// Registry holds registered definitions keyed by schema key and version.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*Definition
}

// NewRegistry returns a registry preloaded with the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]map[string]*Definition)}
	for _, raw := range builtinDefinitions {
		def := MustParse(raw)
		r.schemas[def.Key] = map[string]*Definition{def.Version: def}
	}
	return r
}

// Register adds a definition. Registering an existing (key, version) fails
// with common.ErrExists. Foreign keys must reference a registered schema
// (or the definition itself) through its primary key or a unique group.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if IsBuiltin(def.Key) {
		return fmt.Errorf("%w: %s is a built-in schema", common.ErrInvalidSchema, def.Key)
	}
	if _, ok := r.schemas[def.Key][def.Version]; ok {
		return fmt.Errorf("schema %s@%s: %w", def.Key, def.Version, common.ErrExists)
	}
	for i := range def.ForeignKeys {
		if err := r.checkReferenceLocked(def, &def.ForeignKeys[i]); err != nil {
			return err
		}
	}
	if r.schemas[def.Key] == nil {
		r.schemas[def.Key] = make(map[string]*Definition)
	}
	r.schemas[def.Key][def.Version] = def
	log.Debugf("[Schema] registered %s@%s caps=%+v", def.Key, def.Version, def.Capabilities())
	return nil
}

// Remove drops a registered definition. Built-in schemas cannot be removed.
func (r *Registry) Remove(key, version string) {
	if IsBuiltin(key) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas[key], version)
	if len(r.schemas[key]) == 0 {
		delete(r.schemas, key)
	}
}

func (r *Registry) checkReferenceLocked(def *Definition, fk *ForeignKey) error {
	target := def
	if fk.References.SchemaKey != def.Key {
		versions := r.schemas[fk.References.SchemaKey]
		if len(versions) == 0 {
			return fmt.Errorf("%w: %s references unknown schema %s",
				common.ErrInvalidSchema, def.Key, fk.References.SchemaKey)
		}
		if v := fk.References.SchemaVersion; v != "" {
			if target = versions[v]; target == nil {
				return fmt.Errorf("%w: %s references unknown schema version %s@%s",
					common.ErrInvalidSchema, def.Key, fk.References.SchemaKey, v)
			}
		} else {
			target = latest(versions)
		}
	}

	want := Strings(fk.remote)
	if slices.Equal(want, Strings(target.primaryKey)) {
		return nil
	}
	for _, group := range target.unique {
		if slices.Equal(want, Strings(group)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s foreign key %v must reference the primary key or a unique group of %s",
		common.ErrInvalidSchema, def.Key, want, target.Key)
}

// Lookup returns the definition registered under key and version.
// It distinguishes an unknown key (common.ErrSchemaNotRegistered) from an
// unknown version of a known key (common.ErrSchemaVersionMismatch).
func (r *Registry) Lookup(key, version string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.schemas[key]
	if len(versions) == 0 {
		return nil, common.ErrSchemaNotRegistered
	}
	if version == "" {
		return latest(versions), nil
	}
	def, ok := versions[version]
	if !ok {
		return nil, common.ErrSchemaVersionMismatch
	}
	return def, nil
}

// Latest returns the most recently versioned definition of key.
func (r *Registry) Latest(key string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.schemas[key]
	if len(versions) == 0 {
		return nil, false
	}
	return latest(versions), true
}

// Versions lists the registered versions of key.
func (r *Registry) Versions(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas[key]))
	for v := range r.schemas[key] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// All returns every registered definition ordered by key, then version.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Definition
	for _, versions := range r.schemas {
		for _, def := range versions {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// ReferencingSchemas returns every foreign key of any registered schema
// that references key.
func (r *Registry) ReferencingSchemas(key string) []Referencing {
	var out []Referencing
	for _, def := range r.All() {
		for i := range def.ForeignKeys {
			fk := &def.ForeignKeys[i]
			if fk.References.SchemaKey == key {
				out = append(out, Referencing{Definition: def, ForeignKey: fk})
			}
		}
	}
	return out
}

func latest(versions map[string]*Definition) *Definition {
	var best *Definition
	for _, def := range versions {
		if best == nil || compareVersions(def.Version, best.Version) > 0 {
			best = def
		}
	}
	return best
}

// compareVersions orders dotted numeric versions ("1.10" > "1.9"), falling
// back to string comparison for non-numeric parts.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(x, y string) int {
	xn, xerr := strconv.Atoi(x)
	yn, yerr := strconv.Atoi(y)
	if x == "" {
		xn, xerr = 0, nil
	}
	if y == "" {
		yn, yerr = 0, nil
	}
	if xerr == nil && yerr == nil {
		return cmp.Compare(xn, yn)
	}
	return strings.Compare(x, y)
}
