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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

func buildFixture(t *testing.T, opt config.Options, data []byte) (hash.Hash, map[outboard.NodeID]outboard.Pair) {
	t.Helper()
	hasher := hash.NewBlake3Hasher()
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }
	root, nodes, err := outboard.Encode(hasher, opt, uint64(len(data)), at)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return root, nodes
}

func leafBatch(opt config.Options, size uint64, nodes map[outboard.NodeID]outboard.Pair, data []byte, li uint64) []BaoContentItem {
	g := opt.GroupBytes()
	offset := li * g
	length := g
	if offset+length > size {
		length = size - offset
	}
	var batch []BaoContentItem
	chain, _ := outboard.AncestorChain(li, outboard.LeafCount(size, opt))
	for _, a := range chain {
		if p, ok := nodes[a.Node]; ok {
			batch = append(batch, BaoContentItem{Parent: &ParentItem{Node: a.Node, Pair: p}})
		}
	}
	batch = append(batch, BaoContentItem{Leaf: &Leaf{Offset: offset, Data: data[offset : offset+length]}})
	return batch
}

func TestMemStoreRoundTripAndPromote(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	data := make([]byte, 1024*3+5)
	for i := range data {
		data[i] = byte(i * 7)
	}
	root, nodes := buildFixture(t, opt, data)

	s := NewMemStore(hash.NewBlake3Hasher(), opt)
	pe, err := s.GetOrCreatePartial(ctx, root, uint64(len(data)))
	if err != nil {
		t.Fatalf("GetOrCreatePartial: %v", err)
	}
	bw, err := pe.BatchWriter(ctx)
	if err != nil {
		t.Fatalf("BatchWriter: %v", err)
	}

	leaves := outboard.LeafCount(uint64(len(data)), opt)
	// Write leaves out of order to exercise the partial-write path.
	order := []uint64{2, 0, 3, 1}
	for _, li := range order[:leaves] {
		batch := leafBatch(opt, uint64(len(data)), nodes, data, li)
		if err := bw.WriteBatch(ctx, uint64(len(data)), batch); err != nil {
			t.Fatalf("WriteBatch(leaf=%d): %v", li, err)
		}
	}

	ranges, err := pe.AvailableRanges(ctx)
	if err != nil {
		t.Fatalf("AvailableRanges: %v", err)
	}
	if !ranges.Covers(0, leaves) {
		t.Fatalf("expected full coverage after writing all leaves, got %+v", ranges.Intervals())
	}

	if err := s.InsertComplete(ctx, pe); err != nil {
		t.Fatalf("InsertComplete: %v", err)
	}

	status, err := s.EntryStatus(root)
	if err != nil {
		t.Fatalf("EntryStatus: %v", err)
	}
	if status != Complete {
		t.Fatalf("EntryStatus = %v, want Complete", status)
	}

	entry, ok, err := s.Get(root)
	if err != nil || !ok {
		t.Fatalf("Get after promote: ok=%v err=%v", ok, err)
	}
	r, err := entry.DataReader(ctx)
	if err != nil {
		t.Fatalf("DataReader: %v", err)
	}
	got, err := r.ReadAt(ctx, 0, len(data))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped data mismatch")
	}
}

func TestMemStoreRejectsCorruptLeafWithoutPartialCorruption(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	data := make([]byte, 1024*4)
	for i := range data {
		data[i] = byte(i)
	}
	root, nodes := buildFixture(t, opt, data)

	s := NewMemStore(hash.NewBlake3Hasher(), opt)
	pe, err := s.GetOrCreatePartial(ctx, root, uint64(len(data)))
	if err != nil {
		t.Fatalf("GetOrCreatePartial: %v", err)
	}
	bw, err := pe.BatchWriter(ctx)
	if err != nil {
		t.Fatalf("BatchWriter: %v", err)
	}

	good := leafBatch(opt, uint64(len(data)), nodes, data, 0)
	if err := bw.WriteBatch(ctx, uint64(len(data)), good); err != nil {
		t.Fatalf("writing leaf 0: %v", err)
	}

	corrupted := append([]byte(nil), data...)
	corrupted[1024] ^= 0xff
	bad := leafBatch(opt, uint64(len(data)), nodes, corrupted, 1)
	if err := bw.WriteBatch(ctx, uint64(len(data)), bad); !errors.Is(err, baoerr.InvalidData) {
		t.Fatalf("expected baoerr.InvalidData for corrupted leaf, got %v", err)
	}

	ranges, err := pe.AvailableRanges(ctx)
	if err != nil {
		t.Fatalf("AvailableRanges: %v", err)
	}
	if ranges.Covers(1, 2) {
		t.Fatal("rejected batch must not advance available ranges")
	}
	if !ranges.Covers(0, 1) {
		t.Fatal("earlier accepted leaf 0 must remain available")
	}

	if err := s.InsertComplete(ctx, pe); !errors.Is(err, baoerr.InvalidArgument) {
		t.Fatalf("InsertComplete on incomplete entry: expected InvalidArgument, got %v", err)
	}
}

func TestMemStoreGetOrCreatePartialSizeMismatch(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve()
	s := NewMemStore(hash.NewBlake3Hasher(), opt)
	h, _ := hash.FromBytes(bytes.Repeat([]byte{0x11}, hash.Size))

	if _, err := s.GetOrCreatePartial(ctx, h, 100); err != nil {
		t.Fatalf("first GetOrCreatePartial: %v", err)
	}
	if _, err := s.GetOrCreatePartial(ctx, h, 200); !errors.Is(err, baoerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument on size mismatch, got %v", err)
	}
}
