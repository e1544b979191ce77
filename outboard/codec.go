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

package outboard

import (
	"encoding/binary"
	"fmt"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
)

// pairBytes is the on-disk size of one Pair: two concatenated 32-byte
// hashes.
const pairBytes = 2 * hash.Size

// Encode computes the root hash and the full set of internal-node pairs
// for size bytes of data, read via at(offset, length). Leaves are hashed
// with hasher.HashLeaf at their chunk-group index; internal nodes with
// hasher.HashNode. The returned map has one entry per internal node in
// the tree determined by size and opt.
func Encode(hasher hash.Hasher, opt config.Options, size uint64, at func(offset, length uint64) ([]byte, error)) (hash.Hash, map[NodeID]Pair, error) {
	leaves := LeafCount(size, opt)
	nodes := make(map[NodeID]Pair, leaves)
	root, err := hashSubtree(hasher, opt, size, leaves, at, Root(leaves), nodes)
	if err != nil {
		return hash.Hash{}, nil, err
	}
	return root, nodes, nil
}

func hashSubtree(hasher hash.Hasher, opt config.Options, size, leaves uint64, at func(offset, length uint64) ([]byte, error), n NodeID, nodes map[NodeID]Pair) (hash.Hash, error) {
	if n.IsLeaf() {
		g := opt.GroupBytes()
		offset := n.Begin * g
		length := g
		if offset+length > size {
			length = size - offset
		}
		data, err := at(offset, length)
		if err != nil {
			return hash.Hash{}, err
		}
		return hasher.HashLeaf(n.Begin, data), nil
	}
	l, r := Children(n)
	lh, err := hashSubtree(hasher, opt, size, leaves, at, l, nodes)
	if err != nil {
		return hash.Hash{}, err
	}
	rh, err := hashSubtree(hasher, opt, size, leaves, at, r, nodes)
	if err != nil {
		return hash.Hash{}, err
	}
	nodes[n] = Pair{Left: lh, Right: rh}
	return hasher.HashNode(lh, rh), nil
}

// Marshal serializes the full set of internal-node pairs for a blob of
// the given size into the wire format described in spec section 6: an
// 8-byte little-endian size prefix followed by every internal node's
// Pair in pre-order. nodes must contain a Pair for every internal node
// of the tree (as returned by Encode, or accumulated by a partial-write
// engine once complete).
func Marshal(opt config.Options, size uint64, nodes map[NodeID]Pair) ([]byte, error) {
	leaves := LeafCount(size, opt)
	order := PreOrder(nil, Root(leaves))
	out := make([]byte, 8+len(order)*pairBytes)
	binary.LittleEndian.PutUint64(out[:8], size)
	for i, id := range order {
		p, ok := nodes[id]
		if !ok {
			return nil, fmt.Errorf("outboard: missing pair for node %+v", id)
		}
		off := 8 + i*pairBytes
		copy(out[off:], p.Left[:])
		copy(out[off+hash.Size:], p.Right[:])
	}
	return out, nil
}

// Unmarshal parses the wire format produced by Marshal, returning the
// declared size and the map of internal-node pairs.
func Unmarshal(opt config.Options, raw []byte) (uint64, map[NodeID]Pair, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("outboard: truncated header")
	}
	size := binary.LittleEndian.Uint64(raw[:8])
	leaves := LeafCount(size, opt)
	order := PreOrder(nil, Root(leaves))
	want := 8 + len(order)*pairBytes
	if len(raw) != want {
		return 0, nil, fmt.Errorf("outboard: want %d bytes for size %d, got %d", want, size, len(raw))
	}
	nodes := make(map[NodeID]Pair, len(order))
	for i, id := range order {
		off := 8 + i*pairBytes
		var p Pair
		copy(p.Left[:], raw[off:off+hash.Size])
		copy(p.Right[:], raw[off+hash.Size:off+pairBytes])
		nodes[id] = p
	}
	return size, nodes, nil
}
