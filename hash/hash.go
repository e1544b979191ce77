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

// Package hash defines the opaque 32-byte content fingerprint used
// throughout the store, along with the blob-format tagging used to
// distinguish raw blobs from hash-sequence collections.
package hash

import (
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is an opaque 32-byte identifier for a blob's content. Hashes
// compare by byte value and order bytewise.
type Hash [Size]byte

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less reports whether h sorts before o under bytewise comparison.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// FromBytes copies b into a Hash. b must be exactly Size bytes.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("hash: want %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseString decodes a lowercase hex string into a Hash.
func ParseString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash: %w", err)
	}
	return FromBytes(b)
}

// BlobFormat distinguishes a raw byte blob from one whose bytes decode as
// a sequence of child hashes.
type BlobFormat uint8

const (
	// Raw is an ordinary opaque blob.
	Raw BlobFormat = iota
	// HashSeq is a blob whose content is count || hash_1 || ... || hash_n.
	HashSeq
)

func (f BlobFormat) String() string {
	switch f {
	case Raw:
		return "raw"
	case HashSeq:
		return "hashseq"
	default:
		return fmt.Sprintf("BlobFormat(%d)", uint8(f))
	}
}

// IsRaw reports whether f is the Raw format.
func (f BlobFormat) IsRaw() bool { return f == Raw }

// HashAndFormat pairs a hash with the interpretation of its bytes. GC
// roots, tags and temp-tags all pin a HashAndFormat rather than a bare
// Hash, since whether a root's children need traversing depends on
// format.
type HashAndFormat struct {
	Hash   Hash
	Format BlobFormat
}

func (h HashAndFormat) String() string {
	return fmt.Sprintf("%s:%s", h.Hash, h.Format)
}

// Hasher computes the opaque 32-byte digest used to identify blob
// content. The store treats hashing as an injected capability so that
// alternative digest functions can be substituted without touching the
// outboard codec or entry store; NewBlake3Hasher returns the default BLAKE3-backed
// implementation.
type Hasher interface {
	// HashLeaf returns the Merkle leaf hash for a single chunk of raw
	// data at the given chunk index.
	HashLeaf(chunkIndex uint64, data []byte) Hash
	// HashNode returns the Merkle internal-node hash for a pair of
	// child hashes.
	HashNode(left, right Hash) Hash
	// EmptyRoot returns the hash of the zero-chunk (empty) blob.
	EmptyRoot() Hash
}
