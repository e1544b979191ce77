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
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/hashseq"
	"github.com/n0-computer/baostore/store"
	"github.com/n0-computer/baostore/tags"
)

// MarkEvent reports progress of a single root's traversal during Mark,
// mirroring the source store's GcMarkEvent stream.
type MarkEvent struct {
	Root hash.HashAndFormat
	Err  error
}

// Mark computes the root set (every persistent tag target, every
// currently-held temp-tag target, and extraRoots), marks each root and,
// for HashSeq roots, its immediate children (one level only: the mark
// traversal does not recurse into a HashSeq blob that itself lists other
// HashSeq blobs — a documented limitation carried over unchanged from the
// store this was modeled on) as live in live, which is cleared first.
//
// Traversal work fans out across workers goroutines pulling roots off an
// internal channel, the same bounded-worker-pool-over-a-channel shape
// used by this module's on-disk fsck-style integrity checker.
func Mark(ctx context.Context, st store.Store, registry *tags.Registry, extraRoots []hash.HashAndFormat, live LiveSet, workers int) <-chan MarkEvent {
	out := make(chan MarkEvent)
	go func() {
		defer close(out)
		live.ClearLive()

		roots, err := collectRoots(ctx, registry, extraRoots)
		if err != nil {
			out <- MarkEvent{Err: err}
			return
		}

		jobs := make(chan hash.HashAndFormat)
		var workerID atomic.Uint32
		eg, egCtx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			eg.Go(markWorker(egCtx, st, live, jobs, out, &workerID))
		}

	sendLoop:
		for _, r := range roots {
			select {
			case jobs <- r:
			case <-egCtx.Done():
				break sendLoop
			}
		}
		close(jobs)

		if err := eg.Wait(); err != nil {
			out <- MarkEvent{Err: err}
		}
	}()
	return out
}

func collectRoots(ctx context.Context, registry *tags.Registry, extraRoots []hash.HashAndFormat) ([]hash.HashAndFormat, error) {
	seen := make(map[hash.HashAndFormat]struct{})
	var roots []hash.HashAndFormat
	add := func(haf hash.HashAndFormat) {
		if _, ok := seen[haf]; ok {
			return
		}
		seen[haf] = struct{}{}
		roots = append(roots, haf)
	}

	persisted, err := registry.Tags(ctx)
	if err != nil {
		return nil, fmt.Errorf("gc mark: listing tags: %w", err)
	}
	for _, t := range persisted {
		add(t.Target)
	}
	for _, haf := range registry.TempTags() {
		add(haf)
	}
	for _, haf := range extraRoots {
		add(haf)
	}
	return roots, nil
}

func markWorker(ctx context.Context, st store.Store, live LiveSet, jobs <-chan hash.HashAndFormat, out chan<- MarkEvent, workerID *atomic.Uint32) func() error {
	id := workerID.Add(1)
	return func() error {
		for root := range jobs {
			if err := markOne(ctx, st, live, root); err != nil {
				out <- MarkEvent{Root: root, Err: err}
				return err
			}
			out <- MarkEvent{Root: root}
			klog.V(2).Infof("gc-mark-worker-%d: marked %s live", id, root)
		}
		return nil
	}
}

func markOne(ctx context.Context, st store.Store, live LiveSet, root hash.HashAndFormat) error {
	live.AddLive(root.Hash)
	if root.Format.IsRaw() {
		return nil
	}

	e, ok, err := st.Get(root.Hash)
	if err != nil {
		return fmt.Errorf("gc mark: looking up hash-seq root %s: %w", root.Hash, err)
	}
	if !ok || !e.IsComplete() {
		// A tagged HashSeq root that isn't (yet, or any longer) a
		// complete entry has no children to traverse; the root hash
		// itself is still marked live above.
		return nil
	}
	r, err := e.DataReader(ctx)
	if err != nil {
		return fmt.Errorf("gc mark: opening hash-seq root %s: %w", root.Hash, err)
	}
	seq, err := hashseq.NewReader(ctx, r)
	if err != nil {
		return fmt.Errorf("gc mark: parsing hash-seq root %s: %w", root.Hash, err)
	}
	for {
		h, ok, err := seq.Next(ctx)
		if err != nil {
			return fmt.Errorf("gc mark: reading hash-seq root %s: %w", root.Hash, err)
		}
		if !ok {
			return nil
		}
		live.AddLive(h)
	}
}
