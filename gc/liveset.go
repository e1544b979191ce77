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

// Package gc implements the mark/sweep garbage collector over a
// store.Store: mark computes the set of hashes reachable from persistent
// tags, held temp-tags, and caller-supplied extra roots; sweep deletes
// everything else.
package gc

import (
	"sync"

	"github.com/n0-computer/baostore/hash"
)

// LiveSet is the mark phase's output and the sweep phase's input. It is
// correctness-critical (a wrongly-absent entry means sweep deletes
// reachable data), so unlike a cache it must never evict entries on its
// own; a bounded/LRU structure would be the wrong tool here even though
// this module uses one elsewhere (storage/sqlite's tag lookup cache).
type LiveSet interface {
	// ClearLive empties the set, starting a new mark cycle.
	ClearLive()
	// AddLive marks h as reachable.
	AddLive(h hash.Hash)
	// IsLive reports whether h was marked in the current cycle.
	IsLive(h hash.Hash) bool
}

// MemLiveSet is the default LiveSet: an in-memory set guarded by a
// mutex, adequate for a single store process.
type MemLiveSet struct {
	mu   sync.Mutex
	live map[hash.Hash]struct{}
}

// NewMemLiveSet builds an empty live set.
func NewMemLiveSet() *MemLiveSet {
	return &MemLiveSet{live: make(map[hash.Hash]struct{})}
}

var _ LiveSet = (*MemLiveSet)(nil)

func (s *MemLiveSet) ClearLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = make(map[hash.Hash]struct{})
}

func (s *MemLiveSet) AddLive(h hash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[h] = struct{}{}
}

func (s *MemLiveSet) IsLive(h hash.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[h]
	return ok
}
