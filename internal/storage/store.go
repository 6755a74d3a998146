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
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"

	"lix/internal/common"
	"lix/internal/util"
)

// Options controls how a store is opened.
type Options struct {
	// ReadOnly skips the writer lock. Writes through a read-only store fail with common.ErrReadOnly.
	ReadOnly bool
}

// Store is a SQLite-backed lix store file.
// Writable stores hold an advisory lock on <path>.lock for their lifetime,
// which makes the opening process the single writer.
type Store struct {
	path     string
	db       *sql.DB
	bunDB    *BunDB
	lock     *flock.Flock
	readOnly bool
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first so journal_mode=WAL waits for locks instead of failing.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return nil
}

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, common.ErrStoreLocked)
	}
	return lock, nil
}

// Create creates a new store file. The parent directory is created if needed.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store %s: %w", path, common.ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	fail := func(err error) (*Store, error) {
		db.Close()
		os.Remove(path)
		lock.Unlock()
		return nil, err
	}

	if err := applyPragmas(db); err != nil {
		return fail(err)
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, storeSchema); err != nil {
		return fail(fmt.Errorf("failed to create schema: %w", err))
	}
	if err := execStatements(db, initStore, SchemaVersion, StoreType); err != nil {
		return fail(fmt.Errorf("failed to initialize store: %w", err))
	}

	log.Debugf("[Storage] created store %s", path)
	return &Store{
		path:  path,
		db:    db,
		bunDB: NewBunDB(db),
		lock:  lock,
	}, nil
}

// Open opens an existing store file.
func Open(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("store %s: %w", path, common.ErrNotFound)
	}

	var lock *flock.Flock
	if !opts.ReadOnly {
		var err error
		if lock, err = acquireLock(path); err != nil {
			return nil, err
		}
	}
	unlock := func() {
		if lock != nil {
			lock.Unlock()
		}
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		unlock()
		return nil, err
	}

	bunDB := NewBunDB(db)
	storeType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		unlock()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if storeType != StoreType {
		db.Close()
		unlock()
		return nil, fmt.Errorf("%s (type=%q): %w", path, storeType, common.ErrNotLixStore)
	}

	log.Debugf("[Storage] opened store %s (read-only=%v)", path, opts.ReadOnly)
	return &Store{
		path:     path,
		db:       db,
		bunDB:    bunDB,
		lock:     lock,
		readOnly: opts.ReadOnly,
	}, nil
}

// OpenOrCreate opens path, creating the store first if it does not exist.
func OpenOrCreate(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if opts.ReadOnly {
			return nil, fmt.Errorf("store %s: %w", path, common.ErrNotFound)
		}
		return Create(path)
	}
	return Open(path, opts)
}

// Close checkpoints the WAL, closes the database and releases the writer lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if !s.readOnly {
		// PRAGMA wal_checkpoint returns rows, so Query() not Exec()
		if err := execPragma(s.db, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Warnf("[Storage] WAL checkpoint failed: %v", err)
		}
	}

	err := s.db.Close()
	s.db = nil
	if s.lock != nil {
		s.lock.Unlock()
		s.lock = nil
	}
	return err
}

// Path returns the store file path
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether the store was opened without the writer lock.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// DB returns the typed query layer.
func (s *Store) DB() *BunDB {
	return s.bunDB
}

// RunInTx wraps fn in a single SQLite transaction, retrying the whole
// transaction on transient lock contention. fn may run more than once.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	if s.readOnly {
		return common.ErrReadOnly
	}
	return util.Retry(ctx, func() error {
		return s.bunDB.RunInTx(ctx, nil, fn)
	})
}
