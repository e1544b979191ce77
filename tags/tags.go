// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tags implements the persistent tag / ephemeral temp-tag
// registry that defines a store's GC root set: named, user-visible
// persistent tags plus a process-local, reference-counted multiset of
// temp-tags that let in-flight operations (imports, downloads) protect a
// blob before it has (or ever gets) a name.
package tags

import (
	"context"
	"fmt"
	"sync"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
)

// MaxNameLength bounds a persistent tag name. The source Rust store
// leaves this unspecified beyond "bounded UTF-8 string"; this module
// picks a concrete bound a reviewer can reason about rather than leaving
// names unbounded.
const MaxNameLength = 256

// Tag is one persistent name-to-root mapping.
type Tag struct {
	Name   string
	Target hash.HashAndFormat
}

// Backend is the persistent half of the registry: a durable mapping from
// tag name to target. The default in-process implementation is
// MemBackend in memory.go; storage/sqlite and storage/mysql provide
// database-backed alternatives with the same linearizability contract.
type Backend interface {
	// SetTag upserts name->*target, or deletes name if target is nil.
	SetTag(ctx context.Context, name string, target *hash.HashAndFormat) error
	// Tags enumerates all persistent tags.
	Tags(ctx context.Context) ([]Tag, error)
	// Get returns the target for name, if any.
	Get(ctx context.Context, name string) (hash.HashAndFormat, bool, error)
}

func validateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: tag name must not be empty", baoerr.InvalidArgument)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: tag name exceeds %d bytes", baoerr.InvalidArgument, MaxNameLength)
	}
	return nil
}

// Registry combines a persistent Backend with the in-memory temp-tag
// multiset. Reads and writes against the same name are linearizable
// because every operation here (including the ones delegated to
// Backend) executes under a single mutex; a database-backed Backend's
// own transaction isolation is what then makes cross-process callers
// linearizable too.
type Registry struct {
	backend Backend

	mu       sync.Mutex
	nextSeq  uint64
	tempTags map[hash.HashAndFormat]int
}

// New builds a Registry over the given persistent Backend.
func New(backend Backend) *Registry {
	return &Registry{backend: backend, tempTags: make(map[hash.HashAndFormat]int)}
}

// SetTag upserts name to point at target, or deletes it when target is
// nil.
func (r *Registry) SetTag(ctx context.Context, name string, target *hash.HashAndFormat) error {
	if err := validateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.SetTag(ctx, name, target)
}

// CreateTag allocates a fresh, unique name for target and returns it.
// Name collisions are retried internally; AlreadyExists is only
// surfaced if retries are exhausted, matching the error table's
// "create_tag race" entry.
func (r *Registry) CreateTag(ctx context.Context, target hash.HashAndFormat) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r.nextSeq++
		name := fmt.Sprintf("tag-%s-%d", target.Hash.String()[:8], r.nextSeq)
		if _, ok, err := r.backend.Get(ctx, name); err != nil {
			return "", err
		} else if ok {
			continue
		}
		if err := r.backend.SetTag(ctx, name, &target); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: create_tag: exhausted %d naming attempts", baoerr.AlreadyExists, maxAttempts)
}

// Tags enumerates all persistent tags.
func (r *Registry) Tags(ctx context.Context) ([]Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.Tags(ctx)
}

// TempTag pins target in memory for as long as the returned handle is
// held. The target is included in the live set computed by a GC mark
// that starts after this call returns. Release must be called (extra
// calls are no-ops); Go has no destructors, so unlike the source Rust TempTag's Drop
// impl, releasing is the caller's explicit responsibility (typically via
// defer).
func (r *Registry) TempTag(target hash.HashAndFormat) *TempTag {
	r.mu.Lock()
	r.tempTags[target]++
	r.mu.Unlock()
	return &TempTag{registry: r, target: target}
}

// TempTags enumerates the currently-pinned targets, duplicates
// collapsed (a target held by three TempTag handles appears once).
func (r *Registry) TempTags() []hash.HashAndFormat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hash.HashAndFormat, 0, len(r.tempTags))
	for haf, n := range r.tempTags {
		if n > 0 {
			out = append(out, haf)
		}
	}
	return out
}

func (r *Registry) release(target hash.HashAndFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.tempTags[target]; ok {
		if n <= 1 {
			delete(r.tempTags, target)
		} else {
			r.tempTags[target] = n - 1
		}
	}
}

// TempTag is a held reference-counted pin on a HashAndFormat. The zero
// value is not usable; obtain one from Registry.TempTag.
type TempTag struct {
	registry *Registry
	target   hash.HashAndFormat
	once     sync.Once
}

// HashAndFormat returns the pinned target.
func (t *TempTag) HashAndFormat() hash.HashAndFormat { return t.target }

// Release decrements the pin's reference count. Safe to call more than
// once; only the first call has an effect.
func (t *TempTag) Release() {
	t.once.Do(func() { t.registry.release(t.target) })
}
