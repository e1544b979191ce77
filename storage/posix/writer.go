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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
)

// rawWriter is the un-verified persistence layer for one partial entry's
// directory: it is wrapped by a store.VerifyingBatchWriter, which is what
// actually enforces that every accepted leaf chains to the entry's
// declared hash. knownNodes mirrors nodes.log in memory so repeated
// Persisted lookups within a BatchWriter's lifetime don't re-read the
// file from disk.
type rawWriter struct {
	dir string

	mu         sync.Mutex
	knownNodes map[outboard.NodeID]outboard.Pair
}

var _ store.BatchWriter = (*rawWriter)(nil)

func (w *rawWriter) WriteBatch(ctx context.Context, size uint64, batch []store.BaoContentItem) error {
	unlock, err := acquireLock(filepath.Join(w.dir, lockFile))
	if err != nil {
		return fmt.Errorf("posix: locking partial entry for write: %w", err)
	}
	defer unlock()

	var dataFd *os.File
	for _, item := range batch {
		switch {
		case item.Parent != nil:
			f, err := os.OpenFile(filepath.Join(w.dir, nodesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
			if err != nil {
				return fmt.Errorf("posix: opening node log: %w", err)
			}
			err = appendNodeRecord(f, item.Parent.Node, item.Parent.Pair)
			f.Close()
			if err != nil {
				return fmt.Errorf("posix: appending node record: %w", err)
			}
			w.mu.Lock()
			w.knownNodes[item.Parent.Node] = item.Parent.Pair
			w.mu.Unlock()
		case item.Leaf != nil:
			if item.Leaf.Offset+uint64(len(item.Leaf.Data)) > size {
				return fmt.Errorf("%w: leaf at offset %d len %d exceeds declared size %d", baoerr.InvalidArgument, item.Leaf.Offset, len(item.Leaf.Data), size)
			}
			if dataFd == nil {
				f, err := os.OpenFile(filepath.Join(w.dir, dataFile), os.O_WRONLY, filePerm)
				if err != nil {
					return fmt.Errorf("posix: opening data file: %w", err)
				}
				defer f.Close()
				dataFd = f
			}
			if _, err := dataFd.WriteAt(item.Leaf.Data, int64(item.Leaf.Offset)); err != nil {
				return fmt.Errorf("posix: writing leaf data: %w", err)
			}
		default:
			return fmt.Errorf("%w: content item has neither parent nor leaf set", baoerr.Internal)
		}
	}
	return nil
}

func (w *rawWriter) Sync(ctx context.Context) error {
	for _, name := range []string{dataFile, nodesFile} {
		f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_RDWR, filePerm)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		err = f.Sync()
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
