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

// Package mysql provides a MySQL-backed tags.Backend, for deployments
// that already run a shared MySQL instance and want every store process
// to see the same tag namespace.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/tags"
)

const (
	selectTagSQL     = "SELECT `hash`, `format` FROM `Tag` WHERE `name` = ?"
	selectAllTagsSQL = "SELECT `name`, `hash`, `format` FROM `Tag` ORDER BY `name`"
	replaceTagSQL    = "REPLACE INTO `Tag` (`name`, `hash`, `format`) VALUES (?, ?, ?)"
	deleteTagSQL     = "DELETE FROM `Tag` WHERE `name` = ?"

	dbSchema = "CREATE TABLE IF NOT EXISTS `Tag` (" +
		"`name` VARCHAR(256) NOT NULL, " +
		"`hash` BINARY(32) NOT NULL, " +
		"`format` TINYINT UNSIGNED NOT NULL, " +
		"PRIMARY KEY (`name`)" +
		") ENGINE=InnoDB"
)

// EnsureSchema creates the Tag table if it doesn't already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, dbSchema); err != nil {
		return fmt.Errorf("storage/mysql: init schema: %w", err)
	}
	return nil
}

// Backend is a MySQL-based tags.Backend. Every call round-trips to the
// database: unlike storage/sqlite, which fronts lookups with a local
// LRU cache, a MySQL backend is typically shared by several store
// processes and a process-local cache would let them disagree about a
// tag's current target, so none is used here.
type Backend struct {
	db *sql.DB
}

var _ tags.Backend = (*Backend)(nil)

// New builds a Backend over db. Callers should call EnsureSchema once
// before first use.
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) SetTag(ctx context.Context, name string, target *hash.HashAndFormat) error {
	if target == nil {
		if _, err := b.db.ExecContext(ctx, deleteTagSQL, name); err != nil {
			return fmt.Errorf("storage/mysql: delete tag %q: %w", name, err)
		}
		return nil
	}
	if _, err := b.db.ExecContext(ctx, replaceTagSQL, name, target.Hash[:], uint8(target.Format)); err != nil {
		return fmt.Errorf("storage/mysql: set tag %q: %w", name, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, name string) (hash.HashAndFormat, bool, error) {
	row := b.db.QueryRowContext(ctx, selectTagSQL, name)
	var rawHash []byte
	var format uint8
	if err := row.Scan(&rawHash, &format); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return hash.HashAndFormat{}, false, nil
		}
		return hash.HashAndFormat{}, false, fmt.Errorf("storage/mysql: get tag %q: %w", name, err)
	}
	h, err := hash.FromBytes(rawHash)
	if err != nil {
		return hash.HashAndFormat{}, false, fmt.Errorf("storage/mysql: corrupt tag %q: %w", name, err)
	}
	return hash.HashAndFormat{Hash: h, Format: hash.BlobFormat(format)}, true, nil
}

func (b *Backend) Tags(ctx context.Context) ([]tags.Tag, error) {
	rows, err := b.db.QueryContext(ctx, selectAllTagsSQL)
	if err != nil {
		return nil, fmt.Errorf("storage/mysql: list tags: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			klog.Warningf("storage/mysql: closing tag rows: %v", err)
		}
	}()

	var out []tags.Tag
	for rows.Next() {
		var name string
		var rawHash []byte
		var format uint8
		if err := rows.Scan(&name, &rawHash, &format); err != nil {
			return nil, fmt.Errorf("storage/mysql: scan tag row: %w", err)
		}
		h, err := hash.FromBytes(rawHash)
		if err != nil {
			return nil, fmt.Errorf("storage/mysql: corrupt tag %q: %w", name, err)
		}
		out = append(out, tags.Tag{Name: name, Target: hash.HashAndFormat{Hash: h, Format: hash.BlobFormat(format)}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/mysql: iterating tag rows: %w", err)
	}
	return out, nil
}
