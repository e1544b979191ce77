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
	"github.com/n0-computer/baostore/outboard"
)

// Leaf is a chunk-group of raw bytes at a byte offset.
type Leaf struct {
	Offset uint64
	Data   []byte
}

// ParentItem is one internal outboard node's hash pair.
type ParentItem struct {
	Node outboard.NodeID
	Pair outboard.Pair
}

// BaoContentItem is either a Parent or a Leaf. Exactly one field is set.
// A batch of these is sorted in Merkle pre-order: parents precede their
// descendants, and leaves appear in increasing byte offset.
type BaoContentItem struct {
	Parent *ParentItem
	Leaf   *Leaf
}

// BatchWriter accepts batches of verified content items for a single
// partial entry.
type BatchWriter interface {
	// WriteBatch persists a pre-order-sorted batch. size is the
	// declared total blob size; it is guaranteed consistent with every
	// leaf in this batch (leaf.Offset+len(leaf.Data) <= size) but is not
	// itself cryptographically bound, so implementations must reject a
	// size that differs from a previously-accepted size for the same
	// entry with baoerr.InvalidArgument.
	WriteBatch(ctx context.Context, size uint64, batch []BaoContentItem) error

	// Sync flushes durable state. Readers of the same partial entry
	// observe writes immediately regardless of Sync; Sync only affects
	// the durability promise across process restarts.
	Sync(ctx context.Context) error
}

// DataWriter is the byte-region half of a split (combined) storage
// layout.
type DataWriter interface {
	WriteAt(ctx context.Context, offset uint64, data []byte) error
	Sync(ctx context.Context) error
}

// OutboardMutator is the outboard-region half of a split (combined)
// storage layout.
type OutboardMutator interface {
	SaveParent(ctx context.Context, item ParentItem) error
	Sync(ctx context.Context) error
}

// CombinedBatchWriter composes a DataWriter and an OutboardMutator into a
// single BatchWriter, for backends that keep data and outboard in
// separate regions (e.g. two files). This mirrors the teacher's own
// split between tile storage and entry-bundle storage in
// storage/posix/files.go, generalized from "the log's tiles" to "one
// entry's outboard".
type CombinedBatchWriter struct {
	Data     DataWriter
	Outboard OutboardMutator
}

var _ BatchWriter = (*CombinedBatchWriter)(nil)

func (w *CombinedBatchWriter) WriteBatch(ctx context.Context, size uint64, batch []BaoContentItem) error {
	for _, item := range batch {
		switch {
		case item.Parent != nil:
			if err := w.Outboard.SaveParent(ctx, *item.Parent); err != nil {
				return err
			}
		case item.Leaf != nil:
			if item.Leaf.Offset+uint64(len(item.Leaf.Data)) > size {
				return fmt.Errorf("%w: leaf at offset %d len %d exceeds declared size %d", baoerr.InvalidArgument, item.Leaf.Offset, len(item.Leaf.Data), size)
			}
			if err := w.Data.WriteAt(ctx, item.Leaf.Offset, item.Leaf.Data); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: content item has neither parent nor leaf set", baoerr.Internal)
		}
	}
	return nil
}

func (w *CombinedBatchWriter) Sync(ctx context.Context) error {
	if err := w.Data.Sync(ctx); err != nil {
		return err
	}
	return w.Outboard.Sync(ctx)
}

// ProgressFunc is called once per accepted batch, with the first leaf's
// offset and length. Returning an error aborts further writes.
type ProgressFunc func(offset uint64, length int) error

// ProgressBatchWriter decorates a BatchWriter with a progress callback
// invoked once per batch, matching the teacher's wrapping style for
// cross-cutting concerns (see FallibleProgressBatchWriter in the
// original source this was distilled from).
type ProgressBatchWriter struct {
	Inner   BatchWriter
	OnWrite ProgressFunc
}

var _ BatchWriter = (*ProgressBatchWriter)(nil)

func (w *ProgressBatchWriter) WriteBatch(ctx context.Context, size uint64, batch []BaoContentItem) error {
	var offset uint64
	var length int
	found := false
	for _, item := range batch {
		if item.Leaf != nil && !found {
			offset, length = item.Leaf.Offset, len(item.Leaf.Data)
			found = true
		}
	}
	if err := w.Inner.WriteBatch(ctx, size, batch); err != nil {
		return err
	}
	if found && w.OnWrite != nil {
		return w.OnWrite(offset, length)
	}
	return nil
}

func (w *ProgressBatchWriter) Sync(ctx context.Context) error {
	return w.Inner.Sync(ctx)
}
