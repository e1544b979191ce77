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

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/store"
)

// SweepEvent reports one deleted hash, or a terminal error, mirroring
// the source store's GcSweepEvent stream.
type SweepEvent struct {
	Deleted hash.Hash
	Err     error
}

// Sweep deletes every complete or partial blob not present in live,
// issuing Delete calls in batches of at most batchSize hashes (spec's
// 100-hash sweep batch boundary: 101 non-live blobs sweep in two calls).
func Sweep(ctx context.Context, st store.Store, live LiveSet, batchSize int) <-chan SweepEvent {
	out := make(chan SweepEvent)
	go func() {
		defer close(out)
		if batchSize <= 0 {
			batchSize = 1
		}

		var nonLive []hash.Hash
		complete, err := st.Blobs(ctx)
		if err != nil {
			out <- SweepEvent{Err: fmt.Errorf("gc sweep: listing blobs: %w", err)}
			return
		}
		partial, err := st.PartialBlobs(ctx)
		if err != nil {
			out <- SweepEvent{Err: fmt.Errorf("gc sweep: listing partial blobs: %w", err)}
			return
		}
		for _, h := range complete {
			if !live.IsLive(h) {
				nonLive = append(nonLive, h)
			}
		}
		for _, h := range partial {
			if !live.IsLive(h) {
				nonLive = append(nonLive, h)
			}
		}

		for start := 0; start < len(nonLive); start += batchSize {
			end := start + batchSize
			if end > len(nonLive) {
				end = len(nonLive)
			}
			batch := nonLive[start:end]
			if err := st.Delete(ctx, batch); err != nil {
				out <- SweepEvent{Err: fmt.Errorf("gc sweep: deleting batch: %w", err)}
				return
			}
			for _, h := range batch {
				out <- SweepEvent{Deleted: h}
			}
		}
	}()
	return out
}
