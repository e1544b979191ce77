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

// Package posix is an on-disk Store backend laid out as one directory per
// hash, sharded by the first two hex characters to keep any single
// directory from growing unbounded. A complete entry's directory and a
// partial entry's directory are mutually exclusive and promotion between
// them is a single os.Rename, giving InsertComplete the atomicity the
// store.Store contract requires for free from the filesystem.
package posix

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/n0-computer/baostore/hash"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	completeSubdir = "complete"
	partialSubdir  = "partial"

	dataFile   = "data"
	obaoFile   = "obao"
	nodesFile  = "nodes.log"
	rangesFile = "ranges.log"
	lockFile   = ".lock"
)

// shardDir returns the directory holding h's files under base
// (root/complete or root/partial): base/<first two hex chars>/<full hex>.
func shardDir(base string, h hash.Hash) string {
	s := h.String()
	return filepath.Join(base, s[:2], s)
}

// hashFromShardDir parses the hash out of a shardDir leaf component.
func hashFromShardDir(name string) (hash.Hash, error) {
	return hash.ParseString(name)
}

// createExclusive atomically writes d to f: it writes to a temp file in
// the same directory, then renames over f. Rename is atomic on a single
// filesystem, so a crash never leaves a partially-written f behind.
func createExclusive(f string, d []byte) error {
	tmpName := f + ".tmp"
	if err := os.WriteFile(tmpName, d, filePerm); err != nil {
		return fmt.Errorf("unable to write data to temporary file: %w", err)
	}
	if err := os.Rename(tmpName, f); err != nil {
		return err
	}
	return nil
}

// acquireLock creates/opens a lock file at p and flocks it for exclusive
// access, returning a function which releases it. Advisory only: see the
// caveats on *any* Close from this PID breaking the lock, same as the
// teacher's own lockFile helper for log state directories.
func acquireLock(p string) (func() error, error) {
	f, err := os.OpenFile(p, syscall.O_CREAT|syscall.O_RDWR|syscall.O_CLOEXEC, filePerm)
	if err != nil {
		return nil, err
	}
	flockT := syscall.Flock_t{
		Type:   syscall.F_WRLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    0,
	}
	for {
		if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLKW, &flockT); err != syscall.EINTR {
			return f.Close, err
		}
	}
}
