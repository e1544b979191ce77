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

// Package hashseq decodes and encodes blobs whose content is itself a
// sequence of hashes: a little-endian uint64 count followed by that many
// 32-byte hashes. A store.Entry tagged hash.HashSeq holds one of these,
// used to name a collection of child blobs with a single root hash.
package hashseq

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/store"
)

const countLen = 8

// Encode serializes hashes into the wire format: count(LE uint64) followed
// by each hash in order.
func Encode(hashes []hash.Hash) []byte {
	out := make([]byte, countLen+len(hashes)*hash.Size)
	binary.LittleEndian.PutUint64(out[:countLen], uint64(len(hashes)))
	for i, h := range hashes {
		copy(out[countLen+i*hash.Size:], h[:])
	}
	return out
}

// DecodeAll parses the whole wire format at once, for callers that
// already hold the complete blob in memory.
func DecodeAll(raw []byte) ([]hash.Hash, error) {
	if len(raw) < countLen {
		return nil, fmt.Errorf("%w: hashseq: truncated count header", baoerr.InvalidData)
	}
	count := binary.LittleEndian.Uint64(raw[:countLen])
	want := countLen + count*uint64(hash.Size)
	if uint64(len(raw)) != want {
		return nil, fmt.Errorf("%w: hashseq: declares %d hashes, wants %d bytes, got %d", baoerr.InvalidData, count, want, len(raw))
	}
	out := make([]hash.Hash, count)
	for i := range out {
		off := countLen + i*hash.Size
		h, err := hash.FromBytes(raw[off : off+hash.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: hashseq: %v", baoerr.InvalidData, err)
		}
		out[i] = h
	}
	return out, nil
}

// Reader is a lazy, forward-only sequence of hashes read out of a
// store.Reader, matching the "io::Result<Hash> iterator, not restartable"
// shape spec.md section 5 describes for the original Rust HashSeq type:
// the total count is known up front, but hashes are only decoded from
// storage as Next is called.
type Reader struct {
	r     store.Reader
	count uint64
	next  uint64
}

// NewReader opens a HashSeq reader over r, which must hold exactly
// count(LE uint64) || hash_1 || ... || hash_n.
func NewReader(ctx context.Context, r store.Reader) (*Reader, error) {
	hdr, err := r.ReadAt(ctx, 0, countLen)
	if err != nil {
		return nil, fmt.Errorf("hashseq: reading count header: %w", err)
	}
	if len(hdr) != countLen {
		return nil, fmt.Errorf("%w: hashseq: truncated count header", baoerr.InvalidData)
	}
	count := binary.LittleEndian.Uint64(hdr)
	return &Reader{r: r, count: count}, nil
}

// Count is the total number of hashes in the sequence, known without
// reading any of them.
func (s *Reader) Count() uint64 { return s.count }

// Next returns the next hash in the sequence, or ok=false once the
// sequence is exhausted. The sequence cannot be rewound.
func (s *Reader) Next(ctx context.Context) (h hash.Hash, ok bool, err error) {
	if s.next >= s.count {
		return hash.Hash{}, false, nil
	}
	off := countLen + s.next*uint64(hash.Size)
	raw, err := s.r.ReadAt(ctx, off, hash.Size)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("hashseq: reading hash %d: %w", s.next, err)
	}
	h, err = hash.FromBytes(raw)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("%w: hashseq: %v", baoerr.InvalidData, err)
	}
	s.next++
	return h, true, nil
}
