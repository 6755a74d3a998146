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
	"sync"

	log "github.com/sirupsen/logrus"
)

// CommitEvent describes a commit that has been durably written.
type CommitEvent struct {
	CommitID  string
	VersionID string
	ParentIDs []string
	ChangeIDs []string
	Message   string
}

type hooks struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(CommitEvent)
}

// OnCommit registers fn to run after every successful commit, outside the
// engine lock. The returned function unregisters it.
func (l *Lix) OnCommit(fn func(CommitEvent)) (unsubscribe func()) {
	return l.hooks.add(fn)
}

func (h *hooks) add(fn func(CommitEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(CommitEvent))
	}
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

func (h *hooks) fire(e CommitEvent) {
	h.mu.Lock()
	fns := make([]func(CommitEvent), 0, len(h.fns))
	for id := 0; id < h.next; id++ {
		if fn, ok := h.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("[Engine] commit hook panicked: %v", r)
				}
			}()
			fn(e)
		}()
	}
}
