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

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

// PersistedLookup resolves an already-persisted outboard node, prior to
// the batch currently being verified.
type PersistedLookup func(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error)

// MarkRange records that [begin, end) chunk-group indices have now been
// verified and persisted.
type MarkRange func(begin, end uint64)

// VerifyingBatchWriter is the generic core of the partial-write engine
// (spec.md section 4.2): it wraps a backend's raw BatchWriter, and before
// delegating a batch, verifies every leaf in it chains to the entry's
// declared root hash using a combination of previously-persisted parents
// and the parents newly arriving in this same batch. A verification
// failure aborts the whole batch without calling through to inner, so no
// partial state from a rejected batch is retained.
type VerifyingBatchWriter struct {
	Inner      BatchWriter
	Hasher     hash.Hasher
	Opt        config.Options
	Root       hash.Hash
	Persisted  PersistedLookup
	OnVerified MarkRange

	// declaredSize is set by the first batch and compared against every
	// subsequent one.
	declaredSize *uint64
}

var _ BatchWriter = (*VerifyingBatchWriter)(nil)

func (w *VerifyingBatchWriter) WriteBatch(ctx context.Context, size uint64, batch []BaoContentItem) error {
	if w.declaredSize == nil {
		s := size
		w.declaredSize = &s
	} else if *w.declaredSize != size {
		return fmt.Errorf("%w: declared size changed from %d to %d for the same partial entry", baoerr.InvalidArgument, *w.declaredSize, size)
	}

	pending := make(map[outboard.NodeID]outboard.Pair)
	for _, item := range batch {
		if item.Parent != nil {
			pending[item.Parent.Node] = item.Parent.Pair
		}
	}
	lookup := func(id outboard.NodeID) (outboard.Pair, bool, error) {
		if p, ok := pending[id]; ok {
			return p, true, nil
		}
		return w.Persisted(ctx, id)
	}

	g := w.Opt.GroupBytes()
	for _, item := range batch {
		leaf := item.Leaf
		if leaf == nil {
			continue
		}
		if leaf.Offset+uint64(len(leaf.Data)) > size {
			return fmt.Errorf("%w: leaf at offset %d len %d exceeds declared size %d", baoerr.InvalidArgument, leaf.Offset, len(leaf.Data), size)
		}
		if leaf.Offset%g != 0 {
			return fmt.Errorf("%w: leaf offset %d is not chunk-group aligned", baoerr.InvalidArgument, leaf.Offset)
		}
		leafIndex := leaf.Offset / g

		wrapLookup := func(id outboard.NodeID) (outboard.Pair, bool) {
			p, ok, err := lookup(id)
			if err != nil || !ok {
				return outboard.Pair{}, false
			}
			return p, true
		}
		if err := outboard.VerifyLeaf(w.Hasher, w.Opt, size, w.Root, leafIndex, leaf.Data, wrapLookup); err != nil {
			return err
		}
	}

	if err := w.Inner.WriteBatch(ctx, size, batch); err != nil {
		return err
	}

	for _, item := range batch {
		if item.Leaf == nil {
			continue
		}
		leafIndex := item.Leaf.Offset / g
		if w.OnVerified != nil {
			w.OnVerified(leafIndex, leafIndex+1)
		}
	}
	return nil
}

func (w *VerifyingBatchWriter) Sync(ctx context.Context) error {
	return w.Inner.Sync(ctx)
}
