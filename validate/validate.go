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

// Package validate re-verifies every complete entry in a store against
// its own outboard, streaming progress the same way gc reports mark and
// sweep: a channel of events terminated by either AllDone or Abort.
package validate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
)

// Kind distinguishes the events of the validate progress sequence from
// spec.md section 4.8: Starting, then per entry Entry -> Progress* ->
// Done, terminated by AllDone or Abort.
type Kind int

const (
	Starting Kind = iota
	EntryStart
	Progress
	Done
	AllDone
	Abort
)

// Event is one notification in the validate stream.
type Event struct {
	Kind Kind
	ID   uint64
	Hash hash.Hash
	Size uint64
	// Offset is set on Progress events: how many bytes of this entry
	// have now been re-verified.
	Offset uint64
	// Total is set only on the Starting event: how many complete
	// entries will be checked.
	Total int
	// Err is set on Done (a mismatch or I/O failure for this entry) and
	// on the terminal Abort event (a fatal error that stopped the run
	// before every entry was checked).
	Err error
}

// Run walks every complete entry in st, recomputing each leaf's path to
// the root from the entry's own persisted outboard and comparing the
// result to the entry's hash; a mismatch or I/O failure is reported as
// Done{Err: ...} for that entry without aborting the others. Work is
// spread across workers goroutines pulling hashes off an internal
// channel, the same bounded-pool-over-a-channel shape gc.Mark uses.
//
// Not draining the returned channel to AllDone/Abort risks missing
// entries that were still queued.
func Run(ctx context.Context, st store.Store, hasher hash.Hasher, opt config.Options, workers int) <-chan Event {
	out := make(chan Event)
	if workers < 1 {
		workers = 1
	}
	go func() {
		defer close(out)

		hashes, err := st.Blobs(ctx)
		if err != nil {
			out <- Event{Kind: Abort, Err: fmt.Errorf("validate: listing blobs: %w", err)}
			return
		}
		out <- Event{Kind: Starting, Total: len(hashes)}

		jobs := make(chan jobItem)
		var nextID atomic.Uint64
		eg, egCtx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			eg.Go(validateWorker(egCtx, st, hasher, opt, jobs, out))
		}

	sendLoop:
		for _, h := range hashes {
			id := nextID.Add(1)
			select {
			case jobs <- jobItem{id: id, h: h}:
			case <-egCtx.Done():
				break sendLoop
			}
		}
		close(jobs)

		if err := eg.Wait(); err != nil {
			out <- Event{Kind: Abort, Err: err}
			return
		}
		out <- Event{Kind: AllDone}
	}()
	return out
}

type jobItem struct {
	id uint64
	h  hash.Hash
}

func validateWorker(ctx context.Context, st store.Store, hasher hash.Hasher, opt config.Options, jobs <-chan jobItem, out chan<- Event) func() error {
	return func() error {
		for job := range jobs {
			e, ok, err := st.Get(job.h)
			if err != nil {
				return fmt.Errorf("validate: looking up %s: %w", job.h, err)
			}
			if !ok {
				out <- Event{Kind: Done, ID: job.id, Hash: job.h, Err: fmt.Errorf("%w: %s", baoerr.NotFound, job.h)}
				continue
			}
			size := e.Size()
			out <- Event{Kind: EntryStart, ID: job.id, Hash: job.h, Size: size}

			verr := validateOne(ctx, hasher, opt, job.id, e, out)
			out <- Event{Kind: Done, ID: job.id, Hash: job.h, Err: verr}
		}
		return nil
	}
}

func validateOne(ctx context.Context, hasher hash.Hasher, opt config.Options, id uint64, e store.Entry, out chan<- Event) error {
	ob, err := e.Outboard(ctx)
	if err != nil {
		return fmt.Errorf("%w: validate: opening outboard: %v", baoerr.Io, err)
	}
	r, err := e.DataReader(ctx)
	if err != nil {
		return fmt.Errorf("%w: validate: opening data: %v", baoerr.Io, err)
	}

	size := e.Size()
	leaves := outboard.LeafCount(size, opt)
	g := opt.GroupBytes()
	lookup := func(id outboard.NodeID) (outboard.Pair, bool) {
		p, ok, err := ob.Lookup(ctx, id)
		if err != nil || !ok {
			return outboard.Pair{}, false
		}
		return p, true
	}

	for li := uint64(0); li < leaves; li++ {
		offset := li * g
		length := g
		if offset+length > size {
			length = size - offset
		}
		data, err := r.ReadAt(ctx, offset, int(length))
		if err != nil {
			return fmt.Errorf("%w: validate: reading chunk group %d: %v", baoerr.Io, li, err)
		}
		if uint64(len(data)) != length {
			return fmt.Errorf("%w: validate: chunk group %d: short read (want %d, got %d)", baoerr.Io, li, length, len(data))
		}
		if err := outboard.VerifyLeaf(hasher, opt, size, e.Hash(), li, data, lookup); err != nil {
			return err
		}
		out <- Event{Kind: Progress, ID: id, Hash: e.Hash(), Offset: offset + length}
	}
	return nil
}
