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
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/schema"
	"lix/internal/storage"
)

// Account is a commit author.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func accountFromModel(m *storage.AccountModel) *Account {
	return &Account{ID: m.ID, Name: m.Name, CreatedAt: time.UnixMilli(m.CreatedAt)}
}

// CreateAccount adds an account. The account is recorded in the change log
// as a lix_account change.
func (l *Lix) CreateAccount(ctx context.Context, name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name is required: %w", common.ErrInvalidOperation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := l.db.InsertAccountWith(tx, ctx, id, name); err != nil {
			return err
		}
		return l.db.InsertChangeWith(tx, ctx, builtinChange(schema.KeyAccount, id, map[string]any{
			"id":   id,
			"name": name,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	m, err := l.db.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return accountFromModel(m), nil
}

// Accounts lists all accounts.
func (l *Lix) Accounts(ctx context.Context) ([]*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	models, err := l.db.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(models))
	for i := range models {
		out = append(out, accountFromModel(&models[i]))
	}
	return out, nil
}

// SetActiveAccount makes id the author of subsequent commits.
func (l *Lix) SetActiveAccount(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.GetAccount(ctx, id); err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	return l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return l.db.SetConfigValueWith(tx, ctx, storage.ConfigActiveAccount, id)
	})
}

// ActiveAccount returns the account credited on commits, or nil.
func (l *Lix) ActiveAccount(ctx context.Context) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, err := l.commitAuthor(ctx, l.db.DB)
	if err != nil || id == "" {
		return nil, err
	}
	m, err := l.db.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return accountFromModel(m), nil
}

// CommitAuthors returns the accounts credited on a commit.
func (l *Lix) CommitAuthors(ctx context.Context, commitID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.ListCommitAuthors(ctx, commitID)
}

// commitAuthor returns the active account id, falling back to the
// configured default account. Unknown ids are ignored.
func (l *Lix) commitAuthor(ctx context.Context, idb bun.IDB) (string, error) {
	id, err := l.db.GetConfigValueWith(idb, ctx, storage.ConfigActiveAccount)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = l.opts.DefaultAccount
	}
	if id == "" {
		return "", nil
	}
	if _, err := l.db.GetAccount(ctx, id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Warnf("[Engine] commit author %s does not exist, commit is unattributed", id)
			return "", nil
		}
		return "", err
	}
	return id, nil
}
