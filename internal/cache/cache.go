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

// Package cache provides the in-process caches used by the state view.
//
// Only immutable derivations are cached. A resolved commit graph depends on
// nothing but its tip commit id, because commits and their parent edges are
// never rewritten, so entries never go stale and are only evicted for size.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via LIX_CACHE=0 environment variable.
// When true:
// - LRU.Get() always misses
// - LRU.Add() is a no-op
//
// This is useful for testing and debugging to verify logic works correctly
// without caching, and to isolate cache-related bugs.
var Disabled = os.Getenv("LIX_CACHE") == "0"

// DefaultSize is the number of entries kept when no size is configured.
const DefaultSize = 256

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
