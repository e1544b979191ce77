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

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
)

// entry is the posix.Store's implementation of both store.Entry and
// store.PartialEntry; complete distinguishes which.
type entry struct {
	s        *Store
	h        hash.Hash
	dir      string
	complete bool
}

var (
	_ store.Entry        = (*entry)(nil)
	_ store.PartialEntry = (*entry)(nil)
)

func (e *entry) Hash() hash.Hash  { return e.h }
func (e *entry) IsComplete() bool { return e.complete }

func (e *entry) Size() uint64 {
	st, err := os.Stat(filepath.Join(e.dir, dataFile))
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

func (e *entry) AvailableRanges(ctx context.Context) (store.ChunkRanges, error) {
	if e.complete {
		var r store.ChunkRanges
		r.Add(0, outboard.LeafCount(e.Size(), e.s.opt))
		return r, nil
	}
	return readRangeLog(filepath.Join(e.dir, rangesFile))
}

func (e *entry) Outboard(ctx context.Context) (store.OutboardReader, error) {
	size := e.Size()
	if e.complete {
		raw, err := os.ReadFile(filepath.Join(e.dir, obaoFile))
		if err != nil {
			return nil, fmt.Errorf("posix: reading outboard: %w", err)
		}
		_, nodes, err := outboard.Unmarshal(e.s.opt, raw)
		if err != nil {
			return nil, fmt.Errorf("posix: parsing outboard: %w", err)
		}
		return &outboardReader{size: size, nodes: nodes}, nil
	}
	nodes, err := readNodeLog(filepath.Join(e.dir, nodesFile))
	if err != nil {
		return nil, fmt.Errorf("posix: reading partial node log: %w", err)
	}
	return &outboardReader{size: size, nodes: nodes}, nil
}

func (e *entry) DataReader(ctx context.Context) (store.Reader, error) {
	f, err := os.Open(filepath.Join(e.dir, dataFile))
	if err != nil {
		return nil, fmt.Errorf("posix: opening data file: %w", err)
	}
	return &fileReader{f: f}, nil
}

func (e *entry) BatchWriter(ctx context.Context) (store.BatchWriter, error) {
	if e.complete {
		return nil, fmt.Errorf("posix: entry %s is already complete", e.h)
	}
	nodes, err := readNodeLog(filepath.Join(e.dir, nodesFile))
	if err != nil {
		return nil, fmt.Errorf("posix: reading partial node log: %w", err)
	}
	raw := &rawWriter{dir: e.dir, knownNodes: nodes}
	return &store.VerifyingBatchWriter{
		Inner:  raw,
		Hasher: e.s.hasher,
		Opt:    e.s.opt,
		Root:   e.h,
		Persisted: func(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error) {
			raw.mu.Lock()
			defer raw.mu.Unlock()
			p, ok := raw.knownNodes[id]
			return p, ok, nil
		},
		OnVerified: func(begin, end uint64) {
			f, err := os.OpenFile(filepath.Join(e.dir, rangesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
			if err != nil {
				klog.Warningf("posix: recording verified range [%d,%d) for %s: %v", begin, end, e.h, err)
				return
			}
			defer f.Close()
			if err := appendRangeRecord(f, begin, end); err != nil {
				klog.Warningf("posix: appending range record for %s: %v", e.h, err)
			}
		},
	}, nil
}

// outboardReader

type outboardReader struct {
	size  uint64
	nodes map[outboard.NodeID]outboard.Pair
}

func (o *outboardReader) Size() uint64 { return o.size }

func (o *outboardReader) Lookup(ctx context.Context, id outboard.NodeID) (outboard.Pair, bool, error) {
	p, ok := o.nodes[id]
	return p, ok, nil
}

// fileReader

type fileReader struct{ f *os.File }

func (r *fileReader) ReadAt(ctx context.Context, offset uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}
