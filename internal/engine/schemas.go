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

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"lix/internal/schema"
)

// RegisterSchema parses, registers and persists a schema definition.
func (l *Lix) RegisterSchema(ctx context.Context, data []byte) (*schema.Definition, error) {
	def, err := schema.Parse(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.schemas.Register(def); err != nil {
		return nil, err
	}
	err = l.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return l.db.InsertStoredSchemaWith(tx, ctx, def.Key, def.Version, string(def.Raw()))
	})
	if err != nil {
		l.schemas.Remove(def.Key, def.Version)
		return nil, fmt.Errorf("failed to store schema %s@%s: %w", def.Key, def.Version, err)
	}
	log.Infof("[Engine] registered schema %s@%s", def.Key, def.Version)
	return def, nil
}

// Schema returns a registered definition. An empty version selects the
// latest one.
func (l *Lix) Schema(key, version string) (*schema.Definition, error) {
	return l.schemas.Lookup(key, version)
}

// Schemas returns every registered definition, built-in ones included.
func (l *Lix) Schemas() []*schema.Definition {
	return l.schemas.All()
}
