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

package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/store"
)

// ReferenceExporter is implemented by backends that can adopt a complete
// entry's data file directly (e.g. via a hard link) instead of copying it
// through DataReader; storage/posix.Store implements it.
type ReferenceExporter interface {
	ExportReference(ctx context.Context, h hash.Hash, destPath string) (ok bool, err error)
}

// ExportKind distinguishes the three events of the export progress
// sequence described in spec.md section 4.7: Start -> Progress* -> Done.
type ExportKind int

const (
	ExportStart ExportKind = iota
	ExportProgress
	ExportDone
)

// ExportEvent is one notification in an export's progress sequence.
type ExportEvent struct {
	Kind   ExportKind
	Hash   hash.Hash
	Offset uint64
	Err    error
}

// exportChunk is the unit size exportCopy streams through at a time. It
// has no bearing on the outboard's chunk-group size; it only bounds how
// much of a large blob is held in memory at once while writing a
// destination file.
const exportChunk = 1 << 20

// Export writes the complete entry named by h to destPath. mode ==
// TryReference attempts the backend's ReferenceExporter (a hard link),
// falling back to Copy transparently if the backend doesn't support it
// or the link can't be made (e.g. crossing a filesystem boundary). An
// entry that isn't complete is rejected with baoerr.InvalidArgument in
// either mode.
func (im *Importer) Export(ctx context.Context, h hash.Hash, destPath string, mode Mode, progress chan<- ExportEvent) error {
	emitExport(progress, ExportEvent{Kind: ExportStart, Hash: h})

	e, ok, err := im.Store.Get(h)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: export: %s", baoerr.NotFound, h)
	}
	if !e.IsComplete() {
		return fmt.Errorf("%w: export: %s is not a complete entry", baoerr.InvalidArgument, h)
	}

	if mode == TryReference {
		if ref, ok := im.Store.(ReferenceExporter); ok {
			linked, err := ref.ExportReference(ctx, h, destPath)
			if err != nil {
				return fmt.Errorf("export: reference export of %s: %w", h, err)
			}
			if linked {
				emitExport(progress, ExportEvent{Kind: ExportDone, Hash: h})
				return nil
			}
			klog.V(1).Infof("importer: export %s: reference export declined, falling back to copy", h)
		}
	}

	if err := exportCopy(ctx, e, destPath, progress); err != nil {
		return err
	}
	emitExport(progress, ExportEvent{Kind: ExportDone, Hash: h})
	return nil
}

func exportCopy(ctx context.Context, e store.Entry, destPath string, progress chan<- ExportEvent) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: export: creating parent dir: %v", baoerr.Io, err)
	}
	tmp := destPath + ".export-tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			_ = os.Remove(tmp)
			f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		}
		if err != nil {
			return fmt.Errorf("%w: export: creating %s: %v", baoerr.Io, tmp, err)
		}
	}
	cleanup := true
	defer func() {
		f.Close()
		if cleanup {
			_ = os.Remove(tmp)
		}
	}()

	r, err := e.DataReader(ctx)
	if err != nil {
		return fmt.Errorf("%w: export: opening reader: %v", baoerr.Io, err)
	}

	size := e.Size()
	for offset := uint64(0); offset < size; {
		length := exportChunk
		if remaining := size - offset; remaining < uint64(length) {
			length = int(remaining)
		}
		data, err := r.ReadAt(ctx, offset, length)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: export: reading at %d: %v", baoerr.Io, offset, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("%w: export: writing %s: %v", baoerr.Io, tmp, err)
		}
		offset += uint64(len(data))
		emitExport(progress, ExportEvent{Kind: ExportProgress, Hash: e.Hash(), Offset: offset})
		if len(data) == 0 {
			break
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: export: syncing %s: %v", baoerr.Io, tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: export: closing %s: %v", baoerr.Io, tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("%w: export: renaming into place: %v", baoerr.Io, err)
	}
	cleanup = false
	return nil
}

func emitExport(progress chan<- ExportEvent, ev ExportEvent) {
	if progress == nil {
		return
	}
	progress <- ev
}
