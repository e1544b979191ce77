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

// Package store defines the entry store and partial-write engine: the
// capability interfaces a backend (in-memory, POSIX files) must
// implement, and the batch-write protocol used to admit verified chunks
// out of order.
package store

import (
	"context"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

// EntryStatus classifies where (if anywhere) a hash lives in a store.
type EntryStatus int

const (
	NotFound EntryStatus = iota
	Complete
	Partial
)

func (s EntryStatus) String() string {
	switch s {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	default:
		return "not-found"
	}
}

// Reader is an async random-access reader: ReadAt returns up to length
// bytes starting at offset, returning fewer only at EOF.
type Reader interface {
	ReadAt(ctx context.Context, offset uint64, length int) ([]byte, error)
}

// OutboardReader gives random access to a persisted outboard's internal
// nodes.
type OutboardReader interface {
	// Size is the declared total blob size this outboard was built for.
	Size() uint64
	// Lookup returns the Pair stored for id, or ok=false if id has not
	// been written yet (only possible for a partial entry).
	Lookup(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error)
}

// Entry is a cheaply-clonable handle for one hash in the store. Opening
// readers is deferred and may itself be async and fallible (e.g. a file
// open); separate calls to DataReader/Outboard yield independent reader
// instances that need not be safe to share across goroutines.
type Entry interface {
	Hash() hash.Hash
	Size() uint64
	IsComplete() bool

	// AvailableRanges is a best-effort snapshot of persisted, verified
	// chunk groups; concurrent writers may enlarge it immediately after
	// this call returns.
	AvailableRanges(ctx context.Context) (ChunkRanges, error)

	Outboard(ctx context.Context) (OutboardReader, error)
	DataReader(ctx context.Context) (Reader, error)
}

// PartialEntry is an Entry that is still being written.
type PartialEntry interface {
	Entry
	// BatchWriter returns a writer which accepts verified content-item
	// batches for this entry.
	BatchWriter(ctx context.Context) (BatchWriter, error)
}

// PossiblyPartial is the sum-type result of GetPossiblyPartial: exactly
// one of Complete/Partial is non-nil, matching Status.
type PossiblyPartial struct {
	Status   EntryStatus
	Complete Entry
	Partial  PartialEntry
}

// Store is the full read/write surface over complete and partial
// entries. Implementations must be cheap to clone and safe for
// concurrent use. MemStore holds the partial/complete classification
// in memory, so its lookups do no I/O; storage/posix.Store keeps no
// in-memory index and answers lookups by stat-ing entry directories.
type Store interface {
	// Get looks up hash, returning the entry handle (complete or
	// partial) if present. Whether it touches disk depends on the
	// backend (see Store).
	Get(hash hash.Hash) (Entry, bool, error)

	// EntryStatus is the classification-only variant of Get.
	EntryStatus(hash hash.Hash) (EntryStatus, error)

	// GetPossiblyPartial returns the richer sum of Get plus
	// EntryStatus.
	GetPossiblyPartial(hash hash.Hash) (PossiblyPartial, error)

	// GetOrCreatePartial returns the existing partial entry for hash,
	// or creates a new one declaring the given size. A second call
	// with a different size for the same hash fails with
	// baoerr.InvalidArgument.
	GetOrCreatePartial(ctx context.Context, h hash.Hash, size uint64) (PartialEntry, error)

	// InsertComplete promotes a partial entry to complete. Promotion is
	// atomic from the perspective of Get: concurrent readers observe
	// either the prior partial view or the new complete view, never a
	// mix.
	InsertComplete(ctx context.Context, partial PartialEntry) error

	// Blobs iterates all complete blob hashes.
	Blobs(ctx context.Context) ([]hash.Hash, error)

	// PartialBlobs iterates all partial blob hashes.
	PartialBlobs(ctx context.Context) ([]hash.Hash, error)

	// Delete physically removes the given hashes (complete or
	// partial). Used exclusively by the GC sweep phase.
	Delete(ctx context.Context, hashes []hash.Hash) error
}
