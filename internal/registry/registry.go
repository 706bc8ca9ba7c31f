/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package registry provides a small generic, concurrency-safe keyed map
// used as the storage primitive for connection records and subscriber
// records. It wraps sync.Map rather than a mutex+map pair: both owners
// (scheduler, hub) do far more reads/deletes than full-table iteration,
// which is exactly sync.Map's favorable case.
package registry

import "sync"

// Registry is a concurrency-safe map from K to V. The zero value is not
// usable; construct with New.
type Registry[K comparable, V any] struct {
	m sync.Map
	n int64
	c sync.Mutex // guards n for an exact, non-racy count
}

// New returns an empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

// Load returns the value stored for key, if any.
func (r *Registry[K, V]) Load(key K) (V, bool) {
	v, ok := r.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store inserts or overwrites the value for key.
func (r *Registry[K, V]) Store(key K, val V) {
	r.c.Lock()
	if _, loaded := r.m.Load(key); !loaded {
		r.n++
	}
	r.m.Store(key, val)
	r.c.Unlock()
}

// LoadOrStore returns the existing value for key if present, otherwise
// stores and returns val.
func (r *Registry[K, V]) LoadOrStore(key K, val V) (actual V, loaded bool) {
	r.c.Lock()
	defer r.c.Unlock()

	a, loaded := r.m.LoadOrStore(key, val)
	if !loaded {
		r.n++
	}
	return a.(V), loaded
}

// Delete removes key, reporting whether it was present.
func (r *Registry[K, V]) Delete(key K) bool {
	r.c.Lock()
	defer r.c.Unlock()

	if _, ok := r.m.Load(key); !ok {
		return false
	}
	r.m.Delete(key)
	r.n--
	return true
}

// Len returns the current number of entries.
func (r *Registry[K, V]) Len() int {
	r.c.Lock()
	defer r.c.Unlock()
	return int(r.n)
}

// Walk calls fn for every entry, in no particular order, until fn
// returns false or entries are exhausted. Mutating the Registry from
// within fn (other than deleting the current key) has undefined effect
// on the in-progress walk, matching sync.Map.Range's own contract.
func (r *Registry[K, V]) Walk(fn func(key K, val V) bool) {
	r.m.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

// Snapshot returns a copy of every key currently stored, suitable for a
// caller that must iterate without holding up concurrent Store/Delete
// calls for the whole pass (the idle-timeout monitor uses this so a
// handler can still exit and clean up its own record mid-sweep).
func (r *Registry[K, V]) Snapshot() []K {
	keys := make([]K, 0, r.Len())
	r.m.Range(func(k, _ any) bool {
		keys = append(keys, k.(K))
		return true
	})
	return keys
}
