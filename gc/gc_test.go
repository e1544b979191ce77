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

package gc

import (
	"context"
	"testing"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/hashseq"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
	"github.com/n0-computer/baostore/tags"
)

// importBlob writes data into s as a single complete entry and returns
// its root hash, without going through a real batch-write protocol
// exchange (tested elsewhere); it exercises the full verify-then-promote
// path all the same.
func importBlob(t *testing.T, ctx context.Context, s *store.MemStore, hasher hash.Hasher, opt config.Options, data []byte) hash.Hash {
	t.Helper()
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }
	root, nodes, err := outboard.Encode(hasher, opt, uint64(len(data)), at)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pe, err := s.GetOrCreatePartial(ctx, root, uint64(len(data)))
	if err != nil {
		t.Fatalf("GetOrCreatePartial: %v", err)
	}
	bw, err := pe.BatchWriter(ctx)
	if err != nil {
		t.Fatalf("BatchWriter: %v", err)
	}
	leaves := outboard.LeafCount(uint64(len(data)), opt)
	g := opt.GroupBytes()
	for li := uint64(0); li < leaves; li++ {
		offset := li * g
		length := g
		if offset+length > uint64(len(data)) {
			length = uint64(len(data)) - offset
		}
		chain, err := outboard.AncestorChain(li, leaves)
		if err != nil {
			t.Fatalf("AncestorChain: %v", err)
		}
		var batch []store.BaoContentItem
		for _, a := range chain {
			if p, ok := nodes[a.Node]; ok {
				batch = append(batch, store.BaoContentItem{Parent: &store.ParentItem{Node: a.Node, Pair: p}})
			}
		}
		batch = append(batch, store.BaoContentItem{Leaf: &store.Leaf{Offset: offset, Data: data[offset : offset+length]}})
		if err := bw.WriteBatch(ctx, uint64(len(data)), batch); err != nil {
			t.Fatalf("WriteBatch(leaf=%d): %v", li, err)
		}
	}
	if err := s.InsertComplete(ctx, pe); err != nil {
		t.Fatalf("InsertComplete: %v", err)
	}
	return root
}

func drainMark(ch <-chan MarkEvent) []MarkEvent {
	var out []MarkEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func drainSweep(ch <-chan SweepEvent) []SweepEvent {
	var out []SweepEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestMarkSweepKeepsTaggedAndPinsTempTagged(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()
	s := store.NewMemStore(hasher, opt)
	reg := tags.New(tags.NewMemBackend())

	a := importBlob(t, ctx, s, hasher, opt, []byte("blob a"))
	b := importBlob(t, ctx, s, hasher, opt, []byte("blob b"))
	c := importBlob(t, ctx, s, hasher, opt, []byte("blob c"))

	aHaf := hash.HashAndFormat{Hash: a, Format: hash.Raw}
	if err := reg.SetTag(ctx, "keep", &aHaf); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	bHaf := hash.HashAndFormat{Hash: b, Format: hash.Raw}
	tt := reg.TempTag(bHaf)
	defer tt.Release()

	live := NewMemLiveSet()
	for _, ev := range drainMark(Mark(ctx, s, reg, nil, live, 4)) {
		if ev.Err != nil {
			t.Fatalf("Mark: %v", ev.Err)
		}
	}
	if !live.IsLive(a) || !live.IsLive(b) {
		t.Fatalf("expected a and b live after mark")
	}
	if live.IsLive(c) {
		t.Fatalf("c should not be live")
	}

	for _, ev := range drainSweep(Sweep(ctx, s, live, config.DefaultGCSweepBatchSize)) {
		if ev.Err != nil {
			t.Fatalf("Sweep: %v", ev.Err)
		}
	}

	if status, _ := s.EntryStatus(a); status != store.Complete {
		t.Fatalf("a should survive sweep, status=%v", status)
	}
	if status, _ := s.EntryStatus(b); status != store.Complete {
		t.Fatalf("b should survive sweep, status=%v", status)
	}
	if status, _ := s.EntryStatus(c); status != store.NotFound {
		t.Fatalf("c should be swept, status=%v", status)
	}
}

func TestMarkTraversesHashSeqOneLevel(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()
	s := store.NewMemStore(hasher, opt)
	reg := tags.New(tags.NewMemBackend())

	x := importBlob(t, ctx, s, hasher, opt, []byte("x"))
	y := importBlob(t, ctx, s, hasher, opt, []byte("y"))
	seqBlob := hashseq.Encode([]hash.Hash{x, y})
	seqRoot := importBlob(t, ctx, s, hasher, opt, seqBlob)

	seqHaf := hash.HashAndFormat{Hash: seqRoot, Format: hash.HashSeq}
	if err := reg.SetTag(ctx, "collection", &seqHaf); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	live := NewMemLiveSet()
	for _, ev := range drainMark(Mark(ctx, s, reg, nil, live, 2)) {
		if ev.Err != nil {
			t.Fatalf("Mark: %v", ev.Err)
		}
	}
	if !live.IsLive(seqRoot) || !live.IsLive(x) || !live.IsLive(y) {
		t.Fatalf("expected seqRoot, x and y all live")
	}

	for _, ev := range drainSweep(Sweep(ctx, s, live, config.DefaultGCSweepBatchSize)) {
		if ev.Err != nil {
			t.Fatalf("Sweep: %v", ev.Err)
		}
	}
	for _, h := range []hash.Hash{seqRoot, x, y} {
		if status, _ := s.EntryStatus(h); status != store.Complete {
			t.Fatalf("%s should survive sweep, status=%v", h, status)
		}
	}
}

func TestSweepBatchBoundary(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()
	s := store.NewMemStore(hasher, opt)
	reg := tags.New(tags.NewMemBackend())

	const n = 101
	for i := 0; i < n; i++ {
		importBlob(t, ctx, s, hasher, opt, []byte{byte(i), byte(i >> 8), 0xAA})
	}

	live := NewMemLiveSet()
	for _, ev := range drainMark(Mark(ctx, s, reg, nil, live, 4)) {
		if ev.Err != nil {
			t.Fatalf("Mark: %v", ev.Err)
		}
	}

	var deleted int
	for _, ev := range drainSweep(Sweep(ctx, s, live, config.DefaultGCSweepBatchSize)) {
		if ev.Err != nil {
			t.Fatalf("Sweep: %v", ev.Err)
		}
		deleted++
	}
	if deleted != n {
		t.Fatalf("deleted %d hashes, want %d", deleted, n)
	}
	blobs, err := s.Blobs(ctx)
	if err != nil {
		t.Fatalf("Blobs: %v", err)
	}
	if len(blobs) != 0 {
		t.Fatalf("expected all blobs swept, got %d remaining", len(blobs))
	}
}
