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

// Package sqlite provides a SQLite-backed tags.Backend, for stores that
// want persistent tags to survive a process restart without pulling in a
// separate database service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/tags"
)

const (
	selectTagSQL   = "SELECT `hash`, `format` FROM `Tag` WHERE `name` = ?"
	selectAllTagsSQL = "SELECT `name`, `hash`, `format` FROM `Tag` ORDER BY `name`"
	replaceTagSQL  = "REPLACE INTO `Tag` (`name`, `hash`, `format`) VALUES (?, ?, ?)"
	deleteTagSQL   = "DELETE FROM `Tag` WHERE `name` = ?"

	defaultLRUSize = 4096
)

var dbSchema = `
CREATE TABLE IF NOT EXISTS "Tag" (
  name   TEXT NOT NULL,
  hash   BLOB NOT NULL,
  format INTEGER NOT NULL,
  PRIMARY KEY(name)
);

PRAGMA busy_timeout = 1000;
`

// Open opens (creating if necessary) a SQLite database at path and
// ensures the Tag table exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=wal")
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(dbSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage/sqlite: init schema: %w", err)
	}
	return db, nil
}

// Backend is a SQLite-based tags.Backend. Lookups are fronted by a
// bounded LRU cache: unlike the GC mark/sweep live set (which must never
// evict, since eviction there would make sweep delete reachable data),
// a stale tag-name cache entry only costs an extra round trip to the
// database on the next Get after an invalidating SetTag, so bounding it
// is safe.
type Backend struct {
	db *sql.DB

	mu    sync.Mutex
	cache *lru.Cache[string, hash.HashAndFormat]
}

var _ tags.Backend = (*Backend)(nil)

// New builds a Backend over db, which must already have had Open called
// on it (or an equivalent schema applied).
func New(db *sql.DB) (*Backend, error) {
	cache, err := lru.New[string, hash.HashAndFormat](defaultLRUSize)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: building lru cache: %w", err)
	}
	return &Backend{db: db, cache: cache}, nil
}

func (b *Backend) SetTag(ctx context.Context, name string, target *hash.HashAndFormat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target == nil {
		if _, err := b.db.ExecContext(ctx, deleteTagSQL, name); err != nil {
			return fmt.Errorf("storage/sqlite: delete tag %q: %w", name, err)
		}
		b.cache.Remove(name)
		return nil
	}
	if _, err := b.db.ExecContext(ctx, replaceTagSQL, name, target.Hash[:], uint8(target.Format)); err != nil {
		return fmt.Errorf("storage/sqlite: set tag %q: %w", name, err)
	}
	b.cache.Add(name, *target)
	return nil
}

func (b *Backend) Get(ctx context.Context, name string) (hash.HashAndFormat, bool, error) {
	b.mu.Lock()
	if haf, ok := b.cache.Get(name); ok {
		b.mu.Unlock()
		return haf, true, nil
	}
	b.mu.Unlock()

	row := b.db.QueryRowContext(ctx, selectTagSQL, name)
	var rawHash []byte
	var format uint8
	if err := row.Scan(&rawHash, &format); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return hash.HashAndFormat{}, false, nil
		}
		return hash.HashAndFormat{}, false, fmt.Errorf("storage/sqlite: get tag %q: %w", name, err)
	}
	h, err := hash.FromBytes(rawHash)
	if err != nil {
		return hash.HashAndFormat{}, false, fmt.Errorf("storage/sqlite: corrupt tag %q: %w", name, err)
	}
	haf := hash.HashAndFormat{Hash: h, Format: hash.BlobFormat(format)}

	b.mu.Lock()
	b.cache.Add(name, haf)
	b.mu.Unlock()
	return haf, true, nil
}

func (b *Backend) Tags(ctx context.Context) ([]tags.Tag, error) {
	rows, err := b.db.QueryContext(ctx, selectAllTagsSQL)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list tags: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			klog.Warningf("storage/sqlite: closing tag rows: %v", err)
		}
	}()

	var out []tags.Tag
	for rows.Next() {
		var name string
		var rawHash []byte
		var format uint8
		if err := rows.Scan(&name, &rawHash, &format); err != nil {
			return nil, fmt.Errorf("storage/sqlite: scan tag row: %w", err)
		}
		h, err := hash.FromBytes(rawHash)
		if err != nil {
			return nil, fmt.Errorf("storage/sqlite: corrupt tag %q: %w", name, err)
		}
		out = append(out, tags.Tag{Name: name, Target: hash.HashAndFormat{Hash: h, Format: hash.BlobFormat(format)}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/sqlite: iterating tag rows: %w", err)
	}
	return out, nil
}
