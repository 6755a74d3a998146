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

package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a size-bounded, goroutine-safe cache with hit/miss counters.
type LRU[K comparable, V any] struct {
	inner  *lru.Cache[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
	Len    int
}

// NewLRU creates a cache holding at most size entries. size <= 0 uses DefaultSize.
func NewLRU[K comparable, V any](size int) *LRU[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	inner, err := lru.New[K, V](size)
	if err != nil {
		// lru.New only fails for non-positive sizes
		panic(err)
	}
	return &LRU[K, V]{inner: inner}
}

// Get returns the cached value for key.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if Disabled {
		var zero V
		c.misses.Add(1)
		return zero, false
	}
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Add stores value under key, evicting the least recently used entry if full.
func (c *LRU[K, V]) Add(key K, value V) {
	if Disabled {
		return
	}
	c.inner.Add(key, value)
}

// Remove drops a single key.
func (c *LRU[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// Invalidate clears all entries from the cache.
func (c *LRU[K, V]) Invalidate() {
	c.inner.Purge()
}

// Stats returns a snapshot of the counters.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.inner.Len(),
	}
}

var _ Invalidator = (*LRU[string, int])(nil)
