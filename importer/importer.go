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

// Package importer ingests bytes, readers and files into a store.Store,
// computing the outboard as it goes and returning a temp-tag pinning the
// result so the caller can upgrade it to a persistent tag (or let it be
// swept once released). It also exports a complete entry back out to a
// file.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
	"github.com/n0-computer/baostore/store"
	"github.com/n0-computer/baostore/tags"
)

// Mode selects how import/export moves bytes into or out of the store.
type Mode int

const (
	// Copy always copies bytes, immune to the source being mutated or
	// removed afterward. The safe default.
	Copy Mode = iota
	// TryReference may hard-link or otherwise adopt the source/target
	// path directly. Implementations are free to silently downgrade to
	// Copy (small inputs, a cross-device link, or a backend with no
	// ReferenceImporter/ReferenceExporter support).
	TryReference
)

// ReferenceImporter is implemented by backends that can adopt an
// already-hashed local file directly (e.g. via a hard link) instead of
// copying its bytes through the ordinary batch-write protocol. It is
// consulted only for TryReference imports from a file path;
// storage/posix.Store is the only backend in this module that
// implements it today.
type ReferenceImporter interface {
	ImportReference(ctx context.Context, root hash.Hash, size uint64, srcPath string, nodes map[outboard.NodeID]outboard.Pair) (ok bool, err error)
}

// EventKind distinguishes the variants of the per-import progress
// sequence: Found -> CopyProgress* -> Size -> OutboardProgress* ->
// OutboardDone.
type EventKind int

const (
	Found EventKind = iota
	CopyProgress
	Size
	OutboardProgress
	OutboardDone
)

// Event is one progress notification for a single import, identified by
// ID (unique per call, monotonically assigned).
type Event struct {
	Kind   EventKind
	ID     uint64
	Name   string
	Offset uint64
	Length int
	Total  uint64
	Hash   hash.Hash
	Err    error
}

var nextID atomic.Uint64

func newID() uint64 { return nextID.Add(1) }

// Result is what a successful import returns: a temp-tag pinning the
// imported root against GC, and the blob's size.
type Result struct {
	Tag  *tags.TempTag
	Size uint64
}

// Importer ingests content into a store and registry, streaming progress
// over an optional channel.
type Importer struct {
	Store    store.Store
	Registry *tags.Registry
	Hasher   hash.Hasher
	Opt      config.Options
}

// New builds an Importer over the given store, registry and hasher/config.
func New(st store.Store, registry *tags.Registry, hasher hash.Hasher, opt config.Options) *Importer {
	return &Importer{Store: st, Registry: registry, Hasher: hasher, Opt: opt}
}

// ImportBytes ingests data directly, always by copy (there is no source
// path to reference).
func (im *Importer) ImportBytes(ctx context.Context, data []byte, format hash.BlobFormat) (Result, error) {
	return im.ImportBytesProgress(ctx, data, format, nil)
}

// ImportBytesProgress is ImportBytes with an optional progress channel.
func (im *Importer) ImportBytesProgress(ctx context.Context, data []byte, format hash.BlobFormat, progress chan<- Event) (Result, error) {
	id := newID()
	emit(progress, Event{Kind: Found, ID: id, Name: "bytes"})
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }
	return im.ingest(ctx, id, uint64(len(data)), at, format, progress)
}

// ImportReader is sugar over ImportStream using an io.Reader with no
// progress reporting.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader, format hash.BlobFormat) (Result, error) {
	return im.ImportStream(ctx, r, format, nil)
}

// ImportStream reads r to completion, then imports the buffered bytes.
// The outboard's tree shape is fixed by the blob's total size (see
// outboard.Encode), so an arbitrary-length stream must be fully drained
// before the tree can be built; this module does not support a bounded-
// memory streaming import.
func (im *Importer) ImportStream(ctx context.Context, r io.Reader, format hash.BlobFormat, progress chan<- Event) (Result, error) {
	id := newID()
	emit(progress, Event{Kind: Found, ID: id, Name: "stream"})
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("%w: importer: reading stream: %v", baoerr.Io, err)
	}
	emit(progress, Event{Kind: CopyProgress, ID: id, Length: len(data)})
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }
	return im.ingest(ctx, id, uint64(len(data)), at, format, progress)
}

// ImportFile ingests the file at path. mode == TryReference attempts a
// hard-link-based adoption via the backend's ReferenceImporter, falling
// back to Copy transparently if the backend doesn't support it or the
// link can't be made (e.g. crossing a filesystem boundary).
func (im *Importer) ImportFile(ctx context.Context, path string, mode Mode, format hash.BlobFormat, progress chan<- Event) (Result, error) {
	id := newID()
	emit(progress, Event{Kind: Found, ID: id, Name: path})

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: importer: opening %s: %v", baoerr.Io, path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("%w: importer: stat %s: %v", baoerr.Io, path, err)
	}
	size := uint64(fi.Size())
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return Result{}, fmt.Errorf("%w: importer: reading %s: %v", baoerr.Io, path, err)
	}
	emit(progress, Event{Kind: CopyProgress, ID: id, Length: len(data)})
	at := func(offset, length uint64) ([]byte, error) { return data[offset : offset+length], nil }

	if mode == TryReference && format.IsRaw() {
		if ref, ok := im.Store.(ReferenceImporter); ok {
			res, handled, err := im.tryReferenceImport(ctx, id, size, path, at, ref, progress)
			if err != nil {
				return Result{}, err
			}
			if handled {
				return res, nil
			}
			klog.V(1).Infof("importer: %s: reference import declined, falling back to copy", path)
		}
	}
	return im.ingest(ctx, id, size, at, format, progress)
}

func (im *Importer) tryReferenceImport(ctx context.Context, id uint64, size uint64, path string, at func(uint64, uint64) ([]byte, error), ref ReferenceImporter, progress chan<- Event) (Result, bool, error) {
	root, nodes, err := outboard.Encode(im.Hasher, im.Opt, size, at)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: importer: encoding outboard for %s: %v", baoerr.InvalidData, path, err)
	}
	emit(progress, Event{Kind: Size, ID: id, Total: size})

	ok, err := ref.ImportReference(ctx, root, size, path, nodes)
	if err != nil {
		return Result{}, false, fmt.Errorf("importer: reference import of %s: %w", path, err)
	}
	if !ok {
		return Result{}, false, nil
	}
	emit(progress, Event{Kind: OutboardDone, ID: id, Hash: root})

	haf := hash.HashAndFormat{Hash: root, Format: hash.Raw}
	return Result{Tag: im.Registry.TempTag(haf), Size: size}, true, nil
}

// ingest runs the common compute-outboard -> create-partial -> write
// batches -> promote -> temp-tag sequence shared by every import entry
// point.
func (im *Importer) ingest(ctx context.Context, id uint64, size uint64, at func(offset, length uint64) ([]byte, error), format hash.BlobFormat, progress chan<- Event) (Result, error) {
	root, nodes, err := outboard.Encode(im.Hasher, im.Opt, size, at)
	if err != nil {
		return Result{}, fmt.Errorf("%w: importer: encoding outboard: %v", baoerr.InvalidData, err)
	}
	emit(progress, Event{Kind: Size, ID: id, Total: size})

	pe, err := im.Store.GetOrCreatePartial(ctx, root, size)
	if err != nil {
		return Result{}, err
	}
	bw, err := pe.BatchWriter(ctx)
	if err != nil {
		return Result{}, err
	}

	leaves := outboard.LeafCount(size, im.Opt)
	g := im.Opt.GroupBytes()
	for li := uint64(0); li < leaves; li++ {
		offset := li * g
		length := g
		if offset+length > size {
			length = size - offset
		}
		data, err := at(offset, length)
		if err != nil {
			return Result{}, fmt.Errorf("%w: importer: reading leaf %d: %v", baoerr.Io, li, err)
		}
		chain, err := outboard.AncestorChain(li, leaves)
		if err != nil {
			return Result{}, err
		}
		var batch []store.BaoContentItem
		for _, a := range chain {
			if p, ok := nodes[a.Node]; ok {
				batch = append(batch, store.BaoContentItem{Parent: &store.ParentItem{Node: a.Node, Pair: p}})
			}
		}
		batch = append(batch, store.BaoContentItem{Leaf: &store.Leaf{Offset: offset, Data: data}})
		if err := bw.WriteBatch(ctx, size, batch); err != nil {
			return Result{}, err
		}
		emit(progress, Event{Kind: OutboardProgress, ID: id, Offset: offset, Length: len(data)})
	}
	if err := bw.Sync(ctx); err != nil {
		return Result{}, err
	}
	if err := im.Store.InsertComplete(ctx, pe); err != nil {
		return Result{}, err
	}
	emit(progress, Event{Kind: OutboardDone, ID: id, Hash: root})

	haf := hash.HashAndFormat{Hash: root, Format: format}
	return Result{Tag: im.Registry.TempTag(haf), Size: size}, nil
}

func emit(progress chan<- Event, ev Event) {
	if progress == nil {
		return
	}
	progress <- ev
}
