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

package hash

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

var (
	leafDomain = []byte{0x00}
	nodeDomain = []byte{0x01}
)

// blake3Hasher is the default Hasher, domain-separating leaf and node
// hashes so that a leaf can never be mistaken for an internal node (and
// vice versa) during path verification.
type blake3Hasher struct{}

// NewBlake3Hasher returns the default Hasher implementation.
func NewBlake3Hasher() Hasher { return blake3Hasher{} }

func (blake3Hasher) HashLeaf(chunkIndex uint64, data []byte) Hash {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], chunkIndex)
	h := blake3.New(Size, nil)
	h.Write(leafDomain)
	h.Write(idx[:])
	h.Write(data)
	return sum(h)
}

func (blake3Hasher) HashNode(left, right Hash) Hash {
	h := blake3.New(Size, nil)
	h.Write(nodeDomain)
	h.Write(left[:])
	h.Write(right[:])
	return sum(h)
}

func (blake3Hasher) EmptyRoot() Hash {
	return blake3Hasher{}.HashLeaf(0, nil)
}

func sum(h *blake3.Hasher) Hash {
	var out Hash
	h.Sum(out[:0])
	return out
}
