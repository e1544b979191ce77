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

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
)

// Store is a store.Store backed by a directory tree on local disk.
type Store struct {
	root        string
	hasher      hash.Hasher
	opt         config.Options
	completeDir string
	partialDir  string
}

var _ store.Store = (*Store)(nil)

// New opens (and if necessary initializes) a posix-backed store rooted
// at path.
func New(path string, hasher hash.Hasher, opt config.Options) (*Store, error) {
	s := &Store{
		root:        path,
		hasher:      hasher,
		opt:         opt,
		completeDir: filepath.Join(path, completeSubdir),
		partialDir:  filepath.Join(path, partialSubdir),
	}
	for _, d := range []string{s.completeDir, s.partialDir} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return nil, fmt.Errorf("posix: creating %s: %w", d, err)
		}
	}
	return s, nil
}

func (s *Store) Get(h hash.Hash) (store.Entry, bool, error) {
	if fi, err := os.Stat(shardDir(s.completeDir, h)); err == nil && fi.IsDir() {
		return &entry{s: s, h: h, dir: shardDir(s.completeDir, h), complete: true}, true, nil
	}
	if fi, err := os.Stat(shardDir(s.partialDir, h)); err == nil && fi.IsDir() {
		return &entry{s: s, h: h, dir: shardDir(s.partialDir, h), complete: false}, true, nil
	}
	return nil, false, nil
}

func (s *Store) EntryStatus(h hash.Hash) (store.EntryStatus, error) {
	if fi, err := os.Stat(shardDir(s.completeDir, h)); err == nil && fi.IsDir() {
		return store.Complete, nil
	}
	if fi, err := os.Stat(shardDir(s.partialDir, h)); err == nil && fi.IsDir() {
		return store.Partial, nil
	}
	return store.NotFound, nil
}

func (s *Store) GetPossiblyPartial(h hash.Hash) (store.PossiblyPartial, error) {
	e, ok, err := s.Get(h)
	if err != nil || !ok {
		return store.PossiblyPartial{Status: store.NotFound}, err
	}
	en := e.(*entry)
	if en.complete {
		return store.PossiblyPartial{Status: store.Complete, Complete: en}, nil
	}
	return store.PossiblyPartial{Status: store.Partial, Partial: en}, nil
}

func (s *Store) GetOrCreatePartial(ctx context.Context, h hash.Hash, size uint64) (store.PartialEntry, error) {
	if fi, err := os.Stat(shardDir(s.completeDir, h)); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is already complete", baoerr.AlreadyExists, h)
	}
	dir := shardDir(s.partialDir, h)
	dataPath := filepath.Join(dir, dataFile)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		st, err := os.Stat(dataPath)
		if err != nil {
			return nil, fmt.Errorf("posix: stat existing partial data file: %w", err)
		}
		if uint64(st.Size()) != size {
			return nil, fmt.Errorf("%w: %s already has a partial entry declaring size %d, got %d", baoerr.InvalidArgument, h, st.Size(), size)
		}
		return &entry{s: s, h: h, dir: dir, complete: false}, nil
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("posix: creating partial dir: %w", err)
	}
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return nil, fmt.Errorf("posix: creating partial data file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("posix: truncating partial data file to declared size: %w", err)
	}
	return &entry{s: s, h: h, dir: dir, complete: false}, nil
}

func (s *Store) InsertComplete(ctx context.Context, partial store.PartialEntry) error {
	en, ok := partial.(*entry)
	if !ok || en.complete {
		return fmt.Errorf("%w: InsertComplete requires a partial entry from the same posix store", baoerr.InvalidArgument)
	}
	unlock, err := acquireLock(filepath.Join(en.dir, lockFile))
	if err != nil {
		return fmt.Errorf("posix: locking partial entry: %w", err)
	}
	defer unlock()

	size := uint64(0)
	if st, err := os.Stat(filepath.Join(en.dir, dataFile)); err == nil {
		size = uint64(st.Size())
	}
	ranges, err := readRangeLog(filepath.Join(en.dir, rangesFile))
	if err != nil {
		return fmt.Errorf("posix: reading range log: %w", err)
	}
	if !ranges.Covers(0, outboard.LeafCount(size, s.opt)) {
		return fmt.Errorf("%w: %s is not fully written yet", baoerr.InvalidArgument, en.h)
	}
	nodes, err := readNodeLog(filepath.Join(en.dir, nodesFile))
	if err != nil {
		return fmt.Errorf("posix: reading node log: %w", err)
	}
	obao, err := outboard.Marshal(s.opt, size, nodes)
	if err != nil {
		return fmt.Errorf("posix: marshaling final outboard: %w", err)
	}
	if err := createExclusive(filepath.Join(en.dir, obaoFile), obao); err != nil {
		return fmt.Errorf("posix: writing final outboard: %w", err)
	}
	// The sparse logs and lock file are no longer needed once complete;
	// best-effort cleanup, not load-bearing for correctness.
	_ = os.Remove(filepath.Join(en.dir, nodesFile))
	_ = os.Remove(filepath.Join(en.dir, rangesFile))
	_ = os.Remove(filepath.Join(en.dir, lockFile))

	completeDir := shardDir(s.completeDir, en.h)
	if err := os.MkdirAll(filepath.Dir(completeDir), dirPerm); err != nil {
		return fmt.Errorf("posix: creating complete shard dir: %w", err)
	}
	if err := os.Rename(en.dir, completeDir); err != nil {
		return fmt.Errorf("posix: promoting partial entry to complete: %w", err)
	}
	return nil
}

func (s *Store) Blobs(ctx context.Context) ([]hash.Hash, error) {
	return s.listHashes(s.completeDir)
}

func (s *Store) PartialBlobs(ctx context.Context) ([]hash.Hash, error) {
	return s.listHashes(s.partialDir)
}

func (s *Store) listHashes(base string) ([]hash.Hash, error) {
	shards, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []hash.Hash
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(base, shard.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			h, err := hashFromShardDir(e.Name())
			if err != nil {
				klog.Warningf("posix: skipping unparseable entry dir %q: %v", e.Name(), err)
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, hashes []hash.Hash) error {
	for _, h := range hashes {
		if err := os.RemoveAll(shardDir(s.completeDir, h)); err != nil {
			return err
		}
		if err := os.RemoveAll(shardDir(s.partialDir, h)); err != nil {
			return err
		}
	}
	return nil
}
