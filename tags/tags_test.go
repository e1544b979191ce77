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

package tags

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
)

func mkHAF(b byte) hash.HashAndFormat {
	var h hash.Hash
	for i := range h {
		h[i] = b
	}
	return hash.HashAndFormat{Hash: h, Format: hash.Raw}
}

func TestSetTagUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemBackend())
	target := mkHAF(1)

	if err := r.SetTag(ctx, "keep", &target); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	list, err := r.Tags(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "keep" || list[0].Target != target {
		t.Fatalf("Tags after set = %+v, err=%v", list, err)
	}

	if err := r.SetTag(ctx, "keep", nil); err != nil {
		t.Fatalf("SetTag delete: %v", err)
	}
	list, err = r.Tags(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("Tags after delete = %+v, err=%v", list, err)
	}
}

func TestSetTagRejectsEmptyAndOverlongNames(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemBackend())
	target := mkHAF(2)

	if err := r.SetTag(ctx, "", &target); !errors.Is(err, baoerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for empty name, got %v", err)
	}
	tooLong := strings.Repeat("a", MaxNameLength+1)
	if err := r.SetTag(ctx, tooLong, &target); !errors.Is(err, baoerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for overlong name, got %v", err)
	}
	maxLen := strings.Repeat("a", MaxNameLength)
	if err := r.SetTag(ctx, maxLen, &target); err != nil {
		t.Fatalf("max-length name should be accepted: %v", err)
	}
}

func TestCreateTagAllocatesUniqueNames(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemBackend())
	target := mkHAF(3)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		name, err := r.CreateTag(ctx, target)
		if err != nil {
			t.Fatalf("CreateTag: %v", err)
		}
		if seen[name] {
			t.Fatalf("CreateTag returned duplicate name %q", name)
		}
		seen[name] = true
	}
}

func TestTempTagRefcounting(t *testing.T) {
	r := New(NewMemBackend())
	target := mkHAF(4)

	t1 := r.TempTag(target)
	t2 := r.TempTag(target)

	pinned := r.TempTags()
	if len(pinned) != 1 || pinned[0] != target {
		t.Fatalf("TempTags = %+v, want single entry %+v", pinned, target)
	}

	t1.Release()
	pinned = r.TempTags()
	if len(pinned) != 1 {
		t.Fatalf("releasing one of two holders should keep target pinned, got %+v", pinned)
	}

	t2.Release()
	pinned = r.TempTags()
	if len(pinned) != 0 {
		t.Fatalf("releasing the last holder should unpin, got %+v", pinned)
	}

	// Releasing again must not underflow below zero or panic.
	t2.Release()
	if pinned := r.TempTags(); len(pinned) != 0 {
		t.Fatalf("double release should be a no-op, got %+v", pinned)
	}
}
