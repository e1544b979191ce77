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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

// ImportReference adopts srcPath as a complete entry's data file via a
// hard link instead of copying its bytes through the ordinary
// partial-write batch protocol, implementing importer.ReferenceImporter
// for a TryReference import. The caller has already hashed srcPath's
// contents (root, nodes were built from it), so this only needs to place
// the bytes and the derived outboard; no further verification happens
// here.
//
// ok is false whenever the link can't be made (most commonly srcPath and
// the store root living on different filesystems, syscall.EXDEV); the
// importer then falls back to the ordinary copy path. A false return
// with a nil error is the expected, silent downgrade the spec calls for,
// not a failure.
func (s *Store) ImportReference(ctx context.Context, root hash.Hash, size uint64, srcPath string, nodes map[outboard.NodeID]outboard.Pair) (bool, error) {
	if fi, err := os.Stat(shardDir(s.completeDir, root)); err == nil && fi.IsDir() {
		return true, nil
	}

	dir := shardDir(s.completeDir, root)
	if err := os.MkdirAll(filepath.Dir(dir), dirPerm); err != nil {
		return false, fmt.Errorf("posix: creating complete shard dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(dir), ".import-*")
	if err != nil {
		return false, fmt.Errorf("posix: creating staging dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := os.Link(srcPath, filepath.Join(tmpDir, dataFile)); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			klog.V(1).Infof("posix: ImportReference(%s): cross-device link, downgrading to copy", root)
			return false, nil
		}
		klog.V(1).Infof("posix: ImportReference(%s): link failed (%v), downgrading to copy", root, err)
		return false, nil
	}

	obao, err := outboard.Marshal(s.opt, size, nodes)
	if err != nil {
		return false, fmt.Errorf("posix: marshaling outboard for reference import: %w", err)
	}
	if err := createExclusive(filepath.Join(tmpDir, obaoFile), obao); err != nil {
		return false, fmt.Errorf("posix: writing outboard for reference import: %w", err)
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		return false, fmt.Errorf("posix: placing reference-imported entry: %w", err)
	}
	cleanup = false
	return true, nil
}
