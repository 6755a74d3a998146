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

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("already exists")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrInvalidSchema    = errors.New("invalid schema definition")
	ErrStoreLocked      = errors.New("store is locked by another writer")
	ErrReadOnly         = errors.New("read-only store")
	ErrNotEmpty         = errors.New("store not empty")
	ErrNothingToCommit  = errors.New("nothing to commit")
	ErrNotLixStore      = errors.New("not a lix store")
	ErrInvalidOperation = errors.New("invalid operation")
)
