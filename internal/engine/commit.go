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
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/schema"
	"lix/internal/storage"
	"lix/internal/validate"
)

// CommitOptions configures Commit.
type CommitOptions struct {
	// Parents are extra parents besides the version's current tip.
	Parents []string
	Message string
}

// Commit flushes the pending changes of versionID into a new commit whose
// parents are the prior tip followed by opts.Parents, and advances the tip.
// The change set, commit, edges, author links, tip update and pending
// cleanup happen in one transaction. Returns common.ErrNothingToCommit when
// there is nothing pending and no extra parent.
func (l *Lix) Commit(ctx context.Context, versionID string, opts CommitOptions) (string, error) {
	l.mu.Lock()
	event, err := l.commitLocked(ctx, versionID, opts)
	l.mu.Unlock()
	if err != nil {
		return "", err
	}
	l.hooks.fire(*event)
	return event.CommitID, nil
}

// Checkpoint commits the active version.
func (l *Lix) Checkpoint(ctx context.Context, message string) (string, error) {
	versionID, err := l.activeVersionID(ctx)
	if err != nil {
		return "", err
	}
	return l.Commit(ctx, versionID, CommitOptions{Message: message})
}

// Merge commits target with the tip of source as an additional parent. The
// merged state resolves by commit depth like any other commit graph.
func (l *Lix) Merge(ctx context.Context, targetID, sourceID string) (string, error) {
	source, err := l.resolveVersion(ctx, sourceID)
	if err != nil {
		return "", err
	}
	target, err := l.resolveVersion(ctx, targetID)
	if err != nil {
		return "", err
	}
	return l.Commit(ctx, target.ID, CommitOptions{
		Parents: []string{source.CommitID},
		Message: fmt.Sprintf("merge %s into %s", source.Name, target.Name),
	})
}

func (l *Lix) commitLocked(ctx context.Context, versionRef string, opts CommitOptions) (*CommitEvent, error) {
	version, err := l.resolveVersion(ctx, versionRef)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, &common.ValidationError{Kind: common.KindVersionNotFound, VersionID: versionRef, Err: err}
		}
		return nil, err
	}

	parents := []string{version.CommitID}
	for _, p := range opts.Parents {
		if p != "" && !slices.Contains(parents, p) {
			parents = append(parents, p)
		}
	}

	var event *CommitEvent
	err = l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		// Re-read inside the transaction: the tip may have moved.
		version, err := l.db.GetVersionWith(tx, ctx, version.ID)
		if err != nil {
			return err
		}
		parents[0] = version.CommitID
		for _, p := range parents[1:] {
			ok, err := l.db.CommitExistsWith(tx, ctx, p)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("parent commit %s: %w", p, common.ErrNotFound)
			}
		}

		pending, err := l.db.ListPendingWith(tx, ctx, version.ID, storage.ChangeFilter{})
		if err != nil {
			return err
		}
		changes := collapse(pending)
		if len(changes) == 0 && len(parents) == 1 {
			return common.ErrNothingToCommit
		}

		commit, err := l.writeCommit(ctx, tx, changes, parents, opts.Message)
		if err != nil {
			return err
		}
		version.CommitID = commit.ID
		if err := l.db.UpdateVersionTipWith(tx, ctx, version.ID, commit.ID); err != nil {
			return err
		}
		if err := l.recordVersion(ctx, tx, version); err != nil {
			return err
		}
		if err := l.db.ClearPendingWith(tx, ctx, version.ID); err != nil {
			return err
		}

		event = &CommitEvent{
			CommitID:  commit.ID,
			VersionID: version.ID,
			ParentIDs: commit.ParentIDs,
			ChangeIDs: make([]string, 0, len(changes)),
			Message:   opts.Message,
		}
		for _, c := range changes {
			event.ChangeIDs = append(event.ChangeIDs, c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Engine] commit %s on %s (%d changes, parents=%v)",
		event.CommitID, event.VersionID, len(event.ChangeIDs), event.ParentIDs)
	return event, nil
}

// collapse keeps the latest pending change per (entity, schema). pending is
// in seq order and so is the result.
func collapse(pending []*storage.Change) []*storage.Change {
	type key struct{ entity, schema string }
	last := make(map[key]int, len(pending))
	for i, c := range pending {
		last[key{c.EntityID, c.SchemaKey}] = i
	}
	out := make([]*storage.Change, 0, len(last))
	for i, c := range pending {
		if last[key{c.EntityID, c.SchemaKey}] == i {
			out = append(out, c)
		}
	}
	return out
}

// writeCommit creates the change set for changes, records the commit in
// the change log and the commits table, links its parents and credits the
// active account.
func (l *Lix) writeCommit(ctx context.Context, idb bun.IDB, changes []*storage.Change, parents []string, message string) (*storage.Commit, error) {
	commitID := uuid.NewString()
	for _, p := range parents {
		if err := l.validator.Validate(ctx, &validate.Request{
			SchemaKey: schema.KeyCommitEdge,
			Operation: validate.OpInsert,
			Snapshot:  map[string]any{"parent_id": p, "child_id": commitID},
		}); err != nil {
			return nil, err
		}
	}

	changeSetID := uuid.NewString()
	if err := l.db.InsertChangeSetWith(idb, ctx, changeSetID, changes); err != nil {
		return nil, err
	}

	parentIDs := make([]any, len(parents))
	for i, p := range parents {
		parentIDs[i] = p
	}
	record := builtinChange(schema.KeyCommit, commitID, map[string]any{
		"id":                commitID,
		"change_set_id":     changeSetID,
		"parent_commit_ids": parentIDs,
	})
	if err := l.db.InsertChangeWith(idb, ctx, record); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := l.db.InsertCommitWith(idb, ctx, &storage.CommitModel{
		ID:          commitID,
		ChangeSetID: changeSetID,
		ChangeID:    sql.NullString{String: record.ID, Valid: true},
		Message:     message,
		CreatedAt:   now.UnixMilli(),
	}, parents); err != nil {
		return nil, err
	}

	author, err := l.commitAuthor(ctx, idb)
	if err != nil {
		return nil, err
	}
	if author != "" {
		if err := l.db.InsertCommitAuthorWith(idb, ctx, commitID, author); err != nil {
			return nil, fmt.Errorf("failed to link commit author: %w", err)
		}
	}

	if parents == nil {
		parents = []string{}
	}
	return &storage.Commit{
		ID:          commitID,
		ChangeSetID: changeSetID,
		ChangeID:    record.ID,
		Message:     message,
		ParentIDs:   parents,
		CreatedAt:   now,
	}, nil
}
