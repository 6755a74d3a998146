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

package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a rejected mutation.
type ErrorKind string

const (
	KindVersionNotFound              ErrorKind = "VersionNotFound"
	KindSchemaNotRegistered          ErrorKind = "SchemaNotRegistered"
	KindSchemaVersionMismatch        ErrorKind = "SchemaVersionMismatch"
	KindSchemaValidationFailed       ErrorKind = "SchemaValidationFailed"
	KindImmutableSchemaViolation     ErrorKind = "ImmutableSchemaViolation"
	KindEntityNotFoundForDelete      ErrorKind = "EntityNotFoundForDelete"
	KindPrimaryKeyViolation          ErrorKind = "PrimaryKeyViolation"
	KindUniqueConstraintViolation    ErrorKind = "UniqueConstraintViolation"
	KindForeignKeyViolation          ErrorKind = "ForeignKeyViolation"
	KindForeignKeyReferencedOnDelete ErrorKind = "ForeignKeyReferencedOnDelete"
	KindUntrackedReferenceViolation  ErrorKind = "UntrackedReferenceViolation"
	KindSelfReferencingEdge          ErrorKind = "SelfReferencingEdge"
	KindCommitGraphCycleDetected     ErrorKind = "CommitGraphCycleDetected"
	KindVersionInheritanceCycle      ErrorKind = "VersionInheritanceCycle"
)

// Sentinels matched by errors.Is against a *ValidationError of the same kind.
var (
	ErrVersionNotFound              = errors.New("version not found")
	ErrSchemaNotRegistered          = errors.New("schema not registered")
	ErrSchemaVersionMismatch        = errors.New("schema version mismatch")
	ErrSchemaValidationFailed       = errors.New("snapshot does not conform to schema")
	ErrImmutableSchemaViolation     = errors.New("schema is immutable")
	ErrEntityNotFoundForDelete      = errors.New("entity not found for delete")
	ErrPrimaryKeyViolation          = errors.New("primary key violation")
	ErrUniqueConstraintViolation    = errors.New("unique constraint violation")
	ErrForeignKeyViolation          = errors.New("foreign key violation")
	ErrForeignKeyReferencedOnDelete = errors.New("entity is still referenced")
	ErrUntrackedReferenceViolation  = errors.New("tracked entity references untracked entity")
	ErrSelfReferencingEdge          = errors.New("commit edge references itself")
	ErrCommitGraphCycleDetected     = errors.New("commit graph cycle detected")
	ErrVersionInheritanceCycle      = errors.New("version inheritance cycle")
)

var kindSentinels = map[ErrorKind]error{
	KindVersionNotFound:              ErrVersionNotFound,
	KindSchemaNotRegistered:          ErrSchemaNotRegistered,
	KindSchemaVersionMismatch:        ErrSchemaVersionMismatch,
	KindSchemaValidationFailed:       ErrSchemaValidationFailed,
	KindImmutableSchemaViolation:     ErrImmutableSchemaViolation,
	KindEntityNotFoundForDelete:      ErrEntityNotFoundForDelete,
	KindPrimaryKeyViolation:          ErrPrimaryKeyViolation,
	KindUniqueConstraintViolation:    ErrUniqueConstraintViolation,
	KindForeignKeyViolation:          ErrForeignKeyViolation,
	KindForeignKeyReferencedOnDelete: ErrForeignKeyReferencedOnDelete,
	KindUntrackedReferenceViolation:  ErrUntrackedReferenceViolation,
	KindSelfReferencingEdge:          ErrSelfReferencingEdge,
	KindCommitGraphCycleDetected:     ErrCommitGraphCycleDetected,
	KindVersionInheritanceCycle:      ErrVersionInheritanceCycle,
}

// Sentinel returns the sentinel error for kind, or nil for an unknown kind.
func (k ErrorKind) Sentinel() error {
	return kindSentinels[k]
}

// ValidationError is returned when a mutation is rejected. It carries enough
// detail for callers to build a user-facing message without parsing strings.
type ValidationError struct {
	Kind          ErrorKind
	SchemaKey     string
	SchemaVersion string
	EntityID      string
	VersionID     string

	// Fields are the pointer paths involved (primary key, unique group, foreign key properties).
	Fields []string
	// Values are the offending values in the same order as Fields.
	Values []any
	// ConflictingEntityIDs lists existing entities that collide with or reference the mutation.
	ConflictingEntityIDs []string

	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.SchemaKey != "" {
		fmt.Fprintf(&b, " (schema=%s", e.SchemaKey)
		if e.SchemaVersion != "" {
			fmt.Fprintf(&b, "@%s", e.SchemaVersion)
		}
		b.WriteString(")")
	}
	if e.EntityID != "" {
		fmt.Fprintf(&b, " entity=%s", e.EntityID)
	}
	if e.VersionID != "" {
		fmt.Fprintf(&b, " version=%s", e.VersionID)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " fields=%v", e.Fields)
	}
	if len(e.Values) > 0 {
		fmt.Fprintf(&b, " values=%v", e.Values)
	}
	if len(e.ConflictingEntityIDs) > 0 {
		fmt.Fprintf(&b, " conflicts=%v", e.ConflictingEntityIDs)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ValidationError) Is(target error) bool {
	s := kindSentinels[e.Kind]
	return s != nil && s == target
}

// KindOf extracts the ErrorKind from err if it wraps a *ValidationError.
func KindOf(err error) (ErrorKind, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind, true
	}
	return "", false
}
