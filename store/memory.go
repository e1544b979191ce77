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

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

// MemStore is a fully in-memory Store, used by tests and as a reference
// implementation of the capability interfaces every backend must satisfy.
type MemStore struct {
	hasher hash.Hasher
	opt    config.Options

	mu       sync.Mutex
	complete map[hash.Hash]*memComplete
	partial  map[hash.Hash]*memPartial
}

// NewMemStore builds an empty in-memory store.
func NewMemStore(hasher hash.Hasher, opt config.Options) *MemStore {
	return &MemStore{
		hasher:   hasher,
		opt:      opt,
		complete: make(map[hash.Hash]*memComplete),
		partial:  make(map[hash.Hash]*memPartial),
	}
}

var _ Store = (*MemStore)(nil)

type memComplete struct {
	hash   hash.Hash
	data   []byte
	nodes  map[outboard.NodeID]outboard.Pair
	leaves uint64
}

type memPartial struct {
	mu     sync.Mutex
	hash   hash.Hash
	size   uint64
	data   []byte
	nodes  map[outboard.NodeID]outboard.Pair
	ranges ChunkRanges
}

func (s *MemStore) Get(h hash.Hash) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.complete[h]; ok {
		return &memCompleteEntry{c}, true, nil
	}
	if p, ok := s.partial[h]; ok {
		return &memPartialEntry{s: s, p: p}, true, nil
	}
	return nil, false, nil
}

func (s *MemStore) EntryStatus(h hash.Hash) (EntryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.complete[h]; ok {
		return Complete, nil
	}
	if _, ok := s.partial[h]; ok {
		return Partial, nil
	}
	return NotFound, nil
}

func (s *MemStore) GetPossiblyPartial(h hash.Hash) (PossiblyPartial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.complete[h]; ok {
		return PossiblyPartial{Status: Complete, Complete: &memCompleteEntry{c}}, nil
	}
	if p, ok := s.partial[h]; ok {
		return PossiblyPartial{Status: Partial, Partial: &memPartialEntry{s: s, p: p}}, nil
	}
	return PossiblyPartial{Status: NotFound}, nil
}

func (s *MemStore) GetOrCreatePartial(ctx context.Context, h hash.Hash, size uint64) (PartialEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.complete[h]; ok {
		return nil, fmt.Errorf("%w: %s is already complete", baoerr.AlreadyExists, h)
	}
	if p, ok := s.partial[h]; ok {
		if p.size != size {
			return nil, fmt.Errorf("%w: %s already has a partial entry declaring size %d, got %d", baoerr.InvalidArgument, h, p.size, size)
		}
		return &memPartialEntry{s: s, p: p}, nil
	}
	p := &memPartial{
		hash:  h,
		size:  size,
		data:  make([]byte, size),
		nodes: make(map[outboard.NodeID]outboard.Pair),
	}
	s.partial[h] = p
	return &memPartialEntry{s: s, p: p}, nil
}

func (s *MemStore) InsertComplete(ctx context.Context, partial PartialEntry) error {
	p, ok := partial.(*memPartialEntry)
	if !ok {
		return fmt.Errorf("%w: InsertComplete requires a *memPartialEntry from the same store", baoerr.InvalidArgument)
	}
	p.p.mu.Lock()
	if !p.p.ranges.Covers(0, outboard.LeafCount(p.p.size, s.opt)) {
		p.p.mu.Unlock()
		return fmt.Errorf("%w: %s is not fully written yet", baoerr.InvalidArgument, p.p.hash)
	}
	data := append([]byte(nil), p.p.data...)
	nodes := make(map[outboard.NodeID]outboard.Pair, len(p.p.nodes))
	for k, v := range p.p.nodes {
		nodes[k] = v
	}
	p.p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partial, p.p.hash)
	s.complete[p.p.hash] = &memComplete{
		hash:   p.p.hash,
		data:   data,
		nodes:  nodes,
		leaves: outboard.LeafCount(uint64(len(data)), s.opt),
	}
	return nil
}

func (s *MemStore) Blobs(ctx context.Context) ([]hash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hash.Hash, 0, len(s.complete))
	for h := range s.complete {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemStore) PartialBlobs(ctx context.Context) ([]hash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hash.Hash, 0, len(s.partial))
	for h := range s.partial {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, hashes []hash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		delete(s.complete, h)
		delete(s.partial, h)
	}
	return nil
}

// memCompleteEntry

type memCompleteEntry struct{ c *memComplete }

var _ Entry = (*memCompleteEntry)(nil)

func (e *memCompleteEntry) Hash() hash.Hash  { return e.c.hash }
func (e *memCompleteEntry) Size() uint64     { return uint64(len(e.c.data)) }
func (e *memCompleteEntry) IsComplete() bool { return true }

func (e *memCompleteEntry) AvailableRanges(ctx context.Context) (ChunkRanges, error) {
	var r ChunkRanges
	r.Add(0, e.c.leaves)
	return r, nil
}

func (e *memCompleteEntry) Outboard(ctx context.Context) (OutboardReader, error) {
	return &memOutboardReader{size: uint64(len(e.c.data)), nodes: e.c.nodes}, nil
}

func (e *memCompleteEntry) DataReader(ctx context.Context) (Reader, error) {
	return &memReader{data: e.c.data}, nil
}

// memPartialEntry

type memPartialEntry struct {
	s *MemStore
	p *memPartial
}

var _ PartialEntry = (*memPartialEntry)(nil)

func (e *memPartialEntry) Hash() hash.Hash  { return e.p.hash }
func (e *memPartialEntry) Size() uint64     { return e.p.size }
func (e *memPartialEntry) IsComplete() bool { return false }

func (e *memPartialEntry) AvailableRanges(ctx context.Context) (ChunkRanges, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.ranges.Clone(), nil
}

func (e *memPartialEntry) Outboard(ctx context.Context) (OutboardReader, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	nodes := make(map[outboard.NodeID]outboard.Pair, len(e.p.nodes))
	for k, v := range e.p.nodes {
		nodes[k] = v
	}
	return &memOutboardReader{size: e.p.size, nodes: nodes}, nil
}

func (e *memPartialEntry) DataReader(ctx context.Context) (Reader, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	data := append([]byte(nil), e.p.data...)
	return &memReader{data: data}, nil
}

func (e *memPartialEntry) BatchWriter(ctx context.Context) (BatchWriter, error) {
	p := e.p
	raw := &memCombinedWriter{p: p}
	return &VerifyingBatchWriter{
		Inner:  raw,
		Hasher: e.s.hasher,
		Opt:    e.s.opt,
		Root:   p.hash,
		Persisted: func(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			pair, ok := p.nodes[id]
			return pair, ok, nil
		},
		OnVerified: func(begin, end uint64) {
			p.mu.Lock()
			p.ranges.Add(begin, end)
			p.mu.Unlock()
		},
	}, nil
}

type memCombinedWriter struct{ p *memPartial }

func (w *memCombinedWriter) WriteBatch(ctx context.Context, size uint64, batch []BaoContentItem) error {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	for _, item := range batch {
		switch {
		case item.Parent != nil:
			w.p.nodes[item.Parent.Node] = item.Parent.Pair
		case item.Leaf != nil:
			copy(w.p.data[item.Leaf.Offset:], item.Leaf.Data)
		default:
			return fmt.Errorf("%w: content item has neither parent nor leaf set", baoerr.Internal)
		}
	}
	return nil
}

func (w *memCombinedWriter) Sync(ctx context.Context) error { return nil }

// memOutboardReader / memReader

type memOutboardReader struct {
	size  uint64
	nodes map[outboard.NodeID]outboard.Pair
}

func (o *memOutboardReader) Size() uint64 { return o.size }

func (o *memOutboardReader) Lookup(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error) {
	p, ok := o.nodes[id]
	return p, ok, nil
}

type memReader struct{ data []byte }

func (r *memReader) ReadAt(ctx context.Context, offset uint64, length int) ([]byte, error) {
	if offset > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %d beyond length %d", baoerr.InvalidArgument, offset, len(r.data))
	}
	end := offset + uint64(length)
	if end > uint64(len(r.data)) {
		end = uint64(len(r.data))
	}
	return r.data[offset:end], nil
}
