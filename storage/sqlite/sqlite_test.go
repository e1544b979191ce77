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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/tags"
)

func mkHAF(b byte) hash.HashAndFormat {
	var h hash.Hash
	for i := range h {
		h[i] = b
	}
	return hash.HashAndFormat{Hash: h, Format: hash.Raw}
}

func TestBackendSetGetDeleteAndCachePersists(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "tags.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	b, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	target := mkHAF(7)
	if err := b.SetTag(ctx, "release", &target); err != nil {
		t.Fatalf("SetTag: %v", err)
	}

	got, ok, err := b.Get(ctx, "release")
	if err != nil || !ok || got != target {
		t.Fatalf("Get after set = %+v, %v, %v", got, ok, err)
	}

	// A fresh Backend over the same db must see the row even though it
	// has never populated its own cache for this name.
	b2, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got2, ok2, err := b2.Get(ctx, "release")
	if err != nil || !ok2 || got2 != target {
		t.Fatalf("Get on fresh Backend = %+v, %v, %v", got2, ok2, err)
	}

	if err := b.SetTag(ctx, "release", nil); err != nil {
		t.Fatalf("SetTag delete: %v", err)
	}
	if _, ok, err := b.Get(ctx, "release"); err != nil || ok {
		t.Fatalf("Get after delete = ok=%v, err=%v", ok, err)
	}
}

func TestBackendTagsEnumeratesSorted(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "tags.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	b, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, n := range []string{"zeta", "alpha", "mid"} {
		target := mkHAF(1)
		if err := b.SetTag(ctx, n, &target); err != nil {
			t.Fatalf("SetTag(%s): %v", n, err)
		}
	}
	list, err := b.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zeta" {
		t.Fatalf("Tags = %+v, want alpha,mid,zeta order", list)
	}
}

func TestBackendSatisfiesRegistry(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "tags.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	b, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := tags.New(b)
	target := mkHAF(9)
	name, err := r.CreateTag(ctx, target)
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	list, err := r.Tags(ctx)
	if err != nil || len(list) != 1 || list[0].Name != name {
		t.Fatalf("Tags = %+v, err=%v", list, err)
	}
}
