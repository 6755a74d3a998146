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
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/graph"
	"lix/internal/storage"
)

// CreateVersionOptions configures CreateVersion.
type CreateVersionOptions struct {
	// ID defaults to a new uuid.
	ID string
	// Name defaults to the id.
	Name string
	// InheritsFrom names the parent version (id or name). Nil inherits from
	// the global version unless Standalone is set.
	InheritsFrom *string
	Standalone   bool
	// FromCommitID branches from an existing commit. When empty the version
	// starts at a new empty root commit.
	FromCommitID string
	Hidden       bool
}

// CreateVersion adds a version. Versions are never deleted.
func (l *Lix) CreateVersion(ctx context.Context, opts CreateVersionOptions) (*storage.Version, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := &storage.Version{ID: opts.ID, Name: opts.Name, Hidden: opts.Hidden}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Name == "" {
		v.Name = v.ID
	}

	switch {
	case opts.InheritsFrom != nil:
		parent, err := l.resolveVersion(ctx, *opts.InheritsFrom)
		if err != nil {
			return nil, versionNotFound(*opts.InheritsFrom, err)
		}
		v.InheritsFromVersionID = &parent.ID
	case !opts.Standalone && v.ID != GlobalVersionID:
		global := GlobalVersionID
		v.InheritsFromVersionID = &global
	}

	err := l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if opts.FromCommitID != "" {
			ok, err := l.db.CommitExistsWith(tx, ctx, opts.FromCommitID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("commit %s: %w", opts.FromCommitID, common.ErrNotFound)
			}
			v.CommitID = opts.FromCommitID
		} else {
			root, err := l.writeCommit(ctx, tx, nil, nil, "")
			if err != nil {
				return err
			}
			v.CommitID = root.ID
		}
		if err := l.db.InsertVersionWith(tx, ctx, v); err != nil {
			return err
		}
		return l.recordVersion(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Engine] created version %s (%s) at %s", v.Name, v.ID, v.CommitID)
	return l.db.GetVersion(ctx, v.ID)
}

// Versions lists every version.
func (l *Lix) Versions(ctx context.Context) ([]*storage.Version, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.ListVersions(ctx)
}

// Version returns a version by id or name.
func (l *Lix) Version(ctx context.Context, ref string) (*storage.Version, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolveVersion(ctx, ref)
}

// ActiveVersion returns the version targeted by Insert, Update, Delete,
// Get and Select.
func (l *Lix) ActiveVersion(ctx context.Context) (*storage.Version, error) {
	id, err := l.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return l.Version(ctx, id)
}

// SwitchVersion makes ref (id or name) the active version.
func (l *Lix) SwitchVersion(ctx context.Context, ref string) (*storage.Version, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.resolveVersion(ctx, ref)
	if err != nil {
		return nil, versionNotFound(ref, err)
	}
	err = l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return l.db.SetConfigValueWith(tx, ctx, storage.ConfigActiveVersion, v.ID)
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("[Engine] switched to version %s", v.Name)
	return v, nil
}

// SetInheritance changes the parent of versionID. A nil parent detaches
// the version. Changes that would form an inheritance cycle are rejected
// with a VersionInheritanceCycle validation error.
func (l *Lix) SetInheritance(ctx context.Context, versionRef string, parentRef *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.resolveVersion(ctx, versionRef)
	if err != nil {
		return versionNotFound(versionRef, err)
	}
	var parentID *string
	if parentRef != nil {
		parent, err := l.resolveVersion(ctx, *parentRef)
		if err != nil {
			return versionNotFound(*parentRef, err)
		}
		parentID = &parent.ID
	}
	if err := l.validator.ValidateInheritance(ctx, v.ID, parentID); err != nil {
		return err
	}
	v.InheritsFromVersionID = parentID
	return l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := l.db.UpdateVersionInheritanceWith(tx, ctx, v.ID, parentID); err != nil {
			return err
		}
		return l.recordVersion(ctx, tx, v)
	})
}

// VersionAncestry returns the inheritance chain of a version, self first.
func (l *Lix) VersionAncestry(ctx context.Context, ref string) ([]graph.AncestorDepth, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.resolveVersion(ctx, ref)
	if err != nil {
		return nil, err
	}
	return l.state.Ancestry(ctx, v.ID)
}

func versionNotFound(ref string, err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return &common.ValidationError{
			Kind:      common.KindVersionNotFound,
			VersionID: ref,
			Message:   fmt.Sprintf("version %q does not exist", ref),
			Err:       err,
		}
	}
	return err
}
