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

// Package validate checks mutations against schema constraints before they
// are appended to the change log. The validator never writes; every failure
// is a *common.ValidationError.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"lix/internal/common"
	"lix/internal/graph"
	"lix/internal/schema"
	"lix/internal/state"
	"lix/internal/storage"
)

// Operation is the kind of mutation being validated.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Request describes one mutation.
type Request struct {
	SchemaKey     string
	SchemaVersion string
	Snapshot      map[string]any
	Operation     Operation
	EntityID      string
	VersionID     string
	Untracked     bool
}

// Validator runs the ordered constraint checks.
type Validator struct {
	db      *storage.BunDB
	schemas *schema.Registry
	state   *state.Materializer

	// VerifyCommitGraph enables the full cycle check on commit edge inserts.
	VerifyCommitGraph bool
}

// New creates a validator.
func New(db *storage.BunDB, schemas *schema.Registry, m *state.Materializer) *Validator {
	return &Validator{db: db, schemas: schemas, state: m}
}

// run carries what earlier checks resolved to the later ones.
type run struct {
	req     *Request
	def     *schema.Definition
	current *state.State
	visible []state.State
}

type check struct {
	name    string
	applies func(r *run) bool
	fn      func(v *Validator, ctx context.Context, r *run) error
}

func always(*run) bool { return true }

func mutating(r *run) bool { return r.req.Operation != OpDelete }

func isDelete(r *run) bool { return r.req.Operation == OpDelete }

func isEdge(r *run) bool { return r.req.SchemaKey == schema.KeyCommitEdge }

// checks run in order and stop at the first failure. Capability-gated
// entries are skipped for schemas that do not declare the constraint; the
// schema check resolves r.def for every entry after it.
var checks = []check{
	{"version", func(r *run) bool { return !isEdge(r) }, (*Validator).checkVersion},
	{"schema", always, (*Validator).checkSchema},
	{"immutable", func(r *run) bool { return r.req.Operation == OpUpdate && r.def.Capabilities().Immutable }, (*Validator).checkImmutable},
	{"conforms", mutating, (*Validator).checkConforms},
	{"current", func(r *run) bool { return !isEdge(r) }, (*Validator).checkCurrent},
	{"primary key", func(r *run) bool { return mutating(r) && r.def.Capabilities().PrimaryKey }, (*Validator).checkPrimaryKey},
	{"unique", func(r *run) bool { return mutating(r) && r.def.Capabilities().Unique }, (*Validator).checkUnique},
	{"foreign keys", func(r *run) bool { return mutating(r) && r.def.Capabilities().ForeignKeys }, (*Validator).checkForeignKeys},
	{"commit edge", func(r *run) bool { return mutating(r) && isEdge(r) }, (*Validator).checkCommitEdge},
	{"referenced on delete", isDelete, (*Validator).checkReferencedOnDelete},
}

// Validate runs every applicable check for req. When the schema declares a
// primary key and req.EntityID is empty, the derived entity id is written
// back to req.
func (v *Validator) Validate(ctx context.Context, req *Request) error {
	r := &run{req: req}
	for _, c := range checks {
		if !c.applies(r) {
			continue
		}
		if err := c.fn(v, ctx, r); err != nil {
			log.Debugf("[Validate] %s %s/%s rejected by %s check: %v",
				req.Operation, req.SchemaKey, req.EntityID, c.name, err)
			return err
		}
	}
	return nil
}

func (r *run) fail(kind common.ErrorKind, msg string) *common.ValidationError {
	ve := &common.ValidationError{
		Kind:      kind,
		SchemaKey: r.req.SchemaKey,
		EntityID:  r.req.EntityID,
		VersionID: r.req.VersionID,
		Message:   msg,
	}
	if r.def != nil {
		ve.SchemaVersion = r.def.Version
	} else {
		ve.SchemaVersion = r.req.SchemaVersion
	}
	return ve
}

func (v *Validator) checkVersion(ctx context.Context, r *run) error {
	if _, err := v.db.GetVersion(ctx, r.req.VersionID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return r.fail(common.KindVersionNotFound, fmt.Sprintf("version %q does not exist", r.req.VersionID))
		}
		return err
	}
	return nil
}

func (v *Validator) checkSchema(_ context.Context, r *run) error {
	def, err := v.schemas.Lookup(r.req.SchemaKey, r.req.SchemaVersion)
	switch {
	case errors.Is(err, common.ErrSchemaNotRegistered):
		return r.fail(common.KindSchemaNotRegistered, fmt.Sprintf("schema %q is not registered", r.req.SchemaKey))
	case errors.Is(err, common.ErrSchemaVersionMismatch):
		ve := r.fail(common.KindSchemaVersionMismatch, "payload schema version does not match a stored version")
		ve.Values = []any{r.req.SchemaVersion}
		return ve
	case err != nil:
		return err
	}
	r.def = def
	if r.req.SchemaVersion == "" {
		r.req.SchemaVersion = def.Version
	}
	return nil
}

func (v *Validator) checkImmutable(_ context.Context, r *run) error {
	return r.fail(common.KindImmutableSchemaViolation, "entities of an immutable schema cannot be updated")
}

func (v *Validator) checkConforms(_ context.Context, r *run) error {
	if err := r.def.Conforms(r.req.Snapshot); err != nil {
		ve := r.fail(common.KindSchemaValidationFailed, "snapshot does not conform to the schema")
		ve.Err = err
		return ve
	}
	if r.req.EntityID == "" {
		if id, ok := r.def.EntityID(r.req.Snapshot); ok {
			r.req.EntityID = id
		}
	}
	return nil
}

// checkCurrent resolves the entity's visible state. Deletes require a
// visible, non-deleted entity, which may be inherited: the delete is written
// as a tombstone in the target version and never touches the ancestor.
// Inserts never replace a visible entity, inherited or local.
func (v *Validator) checkCurrent(ctx context.Context, r *run) error {
	if r.req.EntityID == "" {
		switch r.req.Operation {
		case OpInsert:
			// A null primary key is reported by the primary key check.
			return nil
		case OpDelete:
			return r.fail(common.KindEntityNotFoundForDelete, "entity id is required")
		default:
			return fmt.Errorf("entity id is required: %w", common.ErrInvalidOperation)
		}
	}
	s, err := v.state.Materialize(ctx, r.req.VersionID, r.req.EntityID, r.req.SchemaKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if s != nil && !s.IsTombstone() {
		r.current = s
	}

	switch r.req.Operation {
	case OpDelete:
		if r.current == nil {
			return r.fail(common.KindEntityNotFoundForDelete, "entity is not visible in this version")
		}
		if r.req.Untracked != r.current.Untracked {
			return r.fail(common.KindEntityNotFoundForDelete, "entity tracking mode does not match")
		}
	case OpUpdate:
		if r.current == nil {
			return fmt.Errorf("%s/%s in version %s: %w", r.req.SchemaKey, r.req.EntityID, r.req.VersionID, common.ErrNotFound)
		}
	case OpInsert:
		if r.current == nil {
			break
		}
		if !r.def.HasPrimaryKey() {
			return fmt.Errorf("%s/%s in version %s: %w", r.req.SchemaKey, r.req.EntityID, r.req.VersionID, common.ErrExists)
		}
		pointers := r.def.PrimaryKeyPointers()
		ve := r.fail(common.KindPrimaryKeyViolation, "an entity with this id already exists")
		ve.Fields = schema.Strings(pointers)
		ve.Values = schema.Values(r.current.Snapshot, pointers)
		ve.ConflictingEntityIDs = []string{r.req.EntityID}
		return ve
	}
	return nil
}

// visibleRows returns the materialized state of the request's schema in the
// target version, loaded once per validation.
func (v *Validator) visibleRows(ctx context.Context, r *run) ([]state.State, error) {
	if r.visible != nil {
		return r.visible, nil
	}
	rows, err := v.state.MaterializeAll(ctx, r.req.VersionID, state.Options{
		Filter: state.Filter{SchemaKey: r.req.SchemaKey},
	})
	if err != nil {
		return nil, err
	}
	r.visible = rows
	if r.visible == nil {
		r.visible = []state.State{}
	}
	return r.visible, nil
}

func (v *Validator) checkPrimaryKey(ctx context.Context, r *run) error {
	pointers := r.def.PrimaryKeyPointers()
	values := schema.Values(r.req.Snapshot, pointers)
	if schema.HasNull(values) {
		ve := r.fail(common.KindPrimaryKeyViolation, "primary key values must not be null")
		ve.Fields = schema.Strings(pointers)
		ve.Values = values
		return ve
	}
	if r.req.Operation == OpUpdate && r.current != nil {
		if keyOf(values) != keyOf(schema.Values(r.current.Snapshot, pointers)) {
			ve := r.fail(common.KindPrimaryKeyViolation, "primary key values cannot change on update")
			ve.Fields = schema.Strings(pointers)
			ve.Values = values
			return ve
		}
	}

	rows, err := v.visibleRows(ctx, r)
	if err != nil {
		return err
	}
	if conflicts := collisions(rows, r, pointers, values); len(conflicts) > 0 {
		ve := r.fail(common.KindPrimaryKeyViolation, "an entity with the same primary key already exists")
		ve.Fields = schema.Strings(pointers)
		ve.Values = values
		ve.ConflictingEntityIDs = conflicts
		return ve
	}
	// An explicit id must be the one the key derives.
	if r.req.Operation == OpInsert {
		if id, _ := r.def.EntityID(r.req.Snapshot); id != r.req.EntityID {
			ve := r.fail(common.KindPrimaryKeyViolation, fmt.Sprintf("entity id does not match the primary key (expected %q)", id))
			ve.Fields = schema.Strings(pointers)
			ve.Values = values
			return ve
		}
	}
	return nil
}

func (v *Validator) checkUnique(ctx context.Context, r *run) error {
	for _, group := range r.def.UniquePointers() {
		values := schema.Values(r.req.Snapshot, group)
		if schema.HasNull(values) {
			continue
		}
		rows, err := v.visibleRows(ctx, r)
		if err != nil {
			return err
		}
		if conflicts := collisions(rows, r, group, values); len(conflicts) > 0 {
			ve := r.fail(common.KindUniqueConstraintViolation, "unique values are already used")
			ve.Fields = schema.Strings(group)
			ve.Values = values
			ve.ConflictingEntityIDs = conflicts
			return ve
		}
	}
	return nil
}

// collisions returns the ids of visible entities, other than the one being
// updated, whose values at pointers equal values.
func collisions(rows []state.State, r *run, pointers []*schema.Pointer, values []any) []string {
	want := keyOf(values)
	var out []string
	for _, row := range rows {
		if r.req.Operation == OpUpdate && row.EntityID == r.req.EntityID {
			continue
		}
		if keyOf(schema.Values(row.Snapshot, pointers)) == want {
			out = append(out, row.EntityID)
		}
	}
	return out
}

// keyOf renders values canonically so that equal JSON values compare equal.
func keyOf(values []any) string {
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Sprint(values)
	}
	return string(b)
}

func (v *Validator) checkForeignKeys(ctx context.Context, r *run) error {
	for i := range r.def.ForeignKeys {
		fk := &r.def.ForeignKeys[i]
		if fk.Mode != schema.ModeImmediate {
			continue
		}
		values := schema.Values(r.req.Snapshot, fk.Local())
		if schema.HasNull(values) {
			continue
		}
		want := keyOf(values)
		ref := fk.References.SchemaKey

		// A row may reference itself.
		if ref == r.req.SchemaKey && keyOf(schema.Values(r.req.Snapshot, fk.Remote())) == want {
			continue
		}

		// A tracked row satisfies the key even when an untracked overlay
		// shadows it.
		tracked, err := v.referenced(ctx, r, fk, want, true)
		if err != nil {
			return err
		}
		if tracked {
			continue
		}
		untracked, err := v.referenced(ctx, r, fk, want, false)
		if err != nil {
			return err
		}
		switch {
		case untracked && r.req.Untracked:
			continue
		case untracked:
			ve := r.fail(common.KindUntrackedReferenceViolation, fmt.Sprintf("referenced %s row is untracked", ref))
			ve.Fields = fk.Properties
			ve.Values = values
			return ve
		default:
			ve := r.fail(common.KindForeignKeyViolation, fmt.Sprintf("no %s row matches the foreign key", ref))
			ve.Fields = fk.Properties
			ve.Values = values
			return ve
		}
	}
	return nil
}

// referenced reports whether a visible row of the referenced schema has the
// remote key values want.
func (v *Validator) referenced(ctx context.Context, r *run, fk *schema.ForeignKey, want string, trackedOnly bool) (bool, error) {
	targets, err := v.state.MaterializeAll(ctx, r.req.VersionID, state.Options{
		Filter: state.Filter{SchemaKey: fk.References.SchemaKey, TrackedOnly: trackedOnly},
	})
	if err != nil {
		return false, err
	}
	for _, t := range targets {
		if keyOf(schema.Values(t.Snapshot, fk.Remote())) == want {
			return true, nil
		}
	}
	return false, nil
}

func (v *Validator) checkCommitEdge(ctx context.Context, r *run) error {
	parent, _ := r.req.Snapshot["parent_id"].(string)
	child, _ := r.req.Snapshot["child_id"].(string)
	if parent == child {
		ve := r.fail(common.KindSelfReferencingEdge, "a commit cannot be its own parent")
		ve.Values = []any{parent}
		return ve
	}
	if !v.VerifyCommitGraph {
		return nil
	}
	edges, err := v.state.View().LoadEdges(ctx)
	if err != nil {
		return err
	}
	if graph.WouldCreateCycle(edges, parent, child) {
		ve := r.fail(common.KindCommitGraphCycleDetected, "edge would create a cycle in the commit graph")
		ve.Values = []any{parent, child}
		return ve
	}
	return nil
}

// checkReferencedOnDelete enforces materialized-mode foreign keys: no
// visible row of a referencing schema may still point at the deleted
// entity's key values.
func (v *Validator) checkReferencedOnDelete(ctx context.Context, r *run) error {
	if r.current == nil {
		return nil
	}
	for _, ref := range v.schemas.ReferencingSchemas(r.req.SchemaKey) {
		fk := ref.ForeignKey
		if fk.Mode != schema.ModeMaterialized {
			continue
		}
		values := schema.Values(r.current.Snapshot, fk.Remote())
		if schema.HasNull(values) {
			continue
		}
		want := keyOf(values)
		rows, err := v.state.MaterializeAll(ctx, r.req.VersionID, state.Options{
			Filter: state.Filter{SchemaKey: ref.Definition.Key},
		})
		if err != nil {
			return err
		}
		var referencing []string
		for _, row := range rows {
			if row.SchemaKey == r.req.SchemaKey && row.EntityID == r.req.EntityID {
				continue
			}
			if keyOf(schema.Values(row.Snapshot, fk.Local())) == want {
				referencing = append(referencing, row.EntityID)
			}
		}
		if len(referencing) > 0 {
			ve := r.fail(common.KindForeignKeyReferencedOnDelete,
				fmt.Sprintf("entity is referenced by %s", ref.Definition.Key))
			ve.Fields = fk.Properties
			ve.Values = values
			ve.ConflictingEntityIDs = referencing
			return ve
		}
	}
	return nil
}

// ValidateInheritance checks that versionID may inherit from parentID.
// A nil parent clears inheritance and always passes.
func (v *Validator) ValidateInheritance(ctx context.Context, versionID string, parentID *string) error {
	versions, err := v.db.ListVersions(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(versions))
	parents := make(map[string]string, len(versions))
	for _, ver := range versions {
		known[ver.ID] = true
		if ver.InheritsFromVersionID != nil {
			parents[ver.ID] = *ver.InheritsFromVersionID
		}
	}
	if !known[versionID] {
		return &common.ValidationError{Kind: common.KindVersionNotFound, VersionID: versionID,
			Message: fmt.Sprintf("version %q does not exist", versionID)}
	}
	if parentID == nil {
		return nil
	}
	if !known[*parentID] {
		return &common.ValidationError{Kind: common.KindVersionNotFound, VersionID: *parentID,
			Message: fmt.Sprintf("parent version %q does not exist", *parentID)}
	}
	if graph.WouldCreateInheritanceCycle(parents, versionID, *parentID) {
		return &common.ValidationError{
			Kind:      common.KindVersionInheritanceCycle,
			VersionID: versionID,
			Values:    []any{*parentID},
			Message:   "inheriting from this version would create a cycle",
		}
	}
	return nil
}
