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

package posix

import (
	"bytes"
	"context"
	"testing"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
)

func TestPosixStoreRoundTripAndPromote(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()

	data := make([]byte, 1024*3+5)
	for i := range data {
		data[i] = byte(i * 3)
	}
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }
	root, nodes, err := outboard.Encode(hasher, opt, uint64(len(data)), at)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	s, err := New(t.TempDir(), hasher, opt)
	if err != nil {
		t.Fatalf("New: %v", err)
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

	ranges, err := pe.AvailableRanges(ctx)
	if err != nil {
		t.Fatalf("AvailableRanges: %v", err)
	}
	if !ranges.Covers(0, leaves) {
		t.Fatalf("expected full coverage, got %+v", ranges.Intervals())
	}

	if err := s.InsertComplete(ctx, pe); err != nil {
		t.Fatalf("InsertComplete: %v", err)
	}

	status, err := s.EntryStatus(root)
	if err != nil {
		t.Fatalf("EntryStatus: %v", err)
	}
	if status != store.Complete {
		t.Fatalf("EntryStatus = %v, want Complete", status)
	}

	e, ok, err := s.Get(root)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	r, err := e.DataReader(ctx)
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

	ob, err := e.Outboard(ctx)
	if err != nil {
		t.Fatalf("Outboard: %v", err)
	}
	if ob.Size() != uint64(len(data)) {
		t.Fatalf("Outboard.Size() = %d, want %d", ob.Size(), len(data))
	}
}

func TestPosixStoreBlobsAndDelete(t *testing.T) {
	ctx := context.Background()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()
	s, err := New(t.TempDir(), hasher, opt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := []byte("hello world")
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
	var batch []store.BaoContentItem
	for id, p := range nodes {
		batch = append(batch, store.BaoContentItem{Parent: &store.ParentItem{Node: id, Pair: p}})
	}
	batch = append(batch, store.BaoContentItem{Leaf: &store.Leaf{Offset: 0, Data: data}})
	if err := bw.WriteBatch(ctx, uint64(len(data)), batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.InsertComplete(ctx, pe); err != nil {
		t.Fatalf("InsertComplete: %v", err)
	}

	blobs, err := s.Blobs(ctx)
	if err != nil {
		t.Fatalf("Blobs: %v", err)
	}
	if len(blobs) != 1 || blobs[0] != root {
		t.Fatalf("Blobs = %v, want [%v]", blobs, root)
	}

	if err := s.Delete(ctx, []hash.Hash{root}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	status, err := s.EntryStatus(root)
	if err != nil {
		t.Fatalf("EntryStatus after delete: %v", err)
	}
	if status != store.NotFound {
		t.Fatalf("EntryStatus after delete = %v, want NotFound", status)
	}
}
