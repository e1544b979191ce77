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

package tags

import (
	"context"
	"sort"
	"sync"

	"github.com/n0-computer/baostore/hash"
)

// MemBackend is an in-memory Backend, used by tests and as the default
// for stores that don't need persistent tags to survive a restart.
type MemBackend struct {
	mu   sync.Mutex
	tags map[string]hash.HashAndFormat
}

var _ Backend = (*MemBackend)(nil)

// NewMemBackend builds an empty in-memory tag backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{tags: make(map[string]hash.HashAndFormat)}
}

func (b *MemBackend) SetTag(ctx context.Context, name string, target *hash.HashAndFormat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target == nil {
		delete(b.tags, name)
		return nil
	}
	b.tags[name] = *target
	return nil
}

func (b *MemBackend) Get(ctx context.Context, name string) (hash.HashAndFormat, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	haf, ok := b.tags[name]
	return haf, ok, nil
}

func (b *MemBackend) Tags(ctx context.Context) ([]Tag, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Tag, 0, len(b.tags))
	for name, haf := range b.tags {
		out = append(out, Tag{Name: name, Target: haf})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
