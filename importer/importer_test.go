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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/store"
	"github.com/n0-computer/baostore/tags"
)

func newImporter(t *testing.T) *Importer {
	t.Helper()
	opt := config.Resolve(config.WithChunkGroupLog2(0))
	hasher := hash.NewBlake3Hasher()
	st := store.NewMemStore(hasher, opt)
	reg := tags.New(tags.NewMemBackend())
	return New(st, reg, hasher, opt)
}

func TestImportBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	im := newImporter(t)

	want := []byte("hello world")
	res, err := im.ImportBytes(ctx, want, hash.Raw)
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}
	defer res.Tag.Release()

	h := res.Tag.HashAndFormat().Hash
	e, ok, err := im.Store.Get(h)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", h, ok, err)
	}
	if !e.IsComplete() {
		t.Fatalf("imported entry is not complete")
	}
	r, err := e.DataReader(ctx)
	if err != nil {
		t.Fatalf("DataReader: %v", err)
	}
	got, err := r.ReadAt(ctx, 0, len(want))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip: got %q want %q", got, want)
	}
}

func TestImportFileExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	im := newImporter(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	want := bytes.Repeat([]byte("x"), 5000)
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := im.ImportFile(ctx, src, Copy, hash.Raw, nil)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	defer res.Tag.Release()
	if res.Size != uint64(len(want)) {
		t.Fatalf("Size = %d, want %d", res.Size, len(want))
	}

	dest := filepath.Join(dir, "out.bin")
	if err := im.Export(ctx, res.Tag.HashAndFormat().Hash, dest, Copy, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("export round trip mismatch: got %d bytes want %d", len(got), len(want))
	}
}

func TestImportBytesProgressEvents(t *testing.T) {
	ctx := context.Background()
	im := newImporter(t)
	progress := make(chan Event, 64)

	res, err := im.ImportBytesProgress(ctx, []byte("progress check"), hash.Raw, progress)
	if err != nil {
		t.Fatalf("ImportBytesProgress: %v", err)
	}
	defer res.Tag.Release()
	close(progress)

	var kinds []EventKind
	for ev := range progress {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) == 0 || kinds[0] != Found {
		t.Fatalf("expected first event Found, got %v", kinds)
	}
	if kinds[len(kinds)-1] != OutboardDone {
		t.Fatalf("expected last event OutboardDone, got %v", kinds)
	}
}

func TestExportNotFound(t *testing.T) {
	ctx := context.Background()
	im := newImporter(t)
	dir := t.TempDir()
	var h hash.Hash
	if err := im.Export(ctx, h, filepath.Join(dir, "nope"), Copy, nil); err == nil {
		t.Fatalf("expected error exporting missing hash")
	}
}
