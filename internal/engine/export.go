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
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"lix/internal/common"
	"lix/internal/storage"
)

// Export writes the whole store as a compressed blob.
func (l *Lix) Export(ctx context.Context, w io.Writer) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Export(ctx, w)
}

// OpenFromBlob creates a new store at path from an exported blob and opens
// it. path must not exist.
func OpenFromBlob(ctx context.Context, path string, r io.Reader, opts Options) (*Lix, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store %s: %w", path, common.ErrExists)
	}
	store, err := storage.Create(path)
	if err != nil {
		return nil, err
	}
	if err := store.Import(ctx, r); err != nil {
		store.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to import: %w", err)
	}
	log.Infof("[Engine] imported store into %s", path)
	l, err := New(ctx, store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}
