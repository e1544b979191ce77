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

// Package outboard implements the Bao-tree Merkle codec: the shape of
// the verification tree over a blob's chunk groups, its pre-order binary
// serialization, and the path-verification used to admit leaves as they
// arrive out of order.
//
// The tree shape mirrors the left-balanced construction used by
// transparency-dev/merkle's compact ranges: for n leaves, the left
// subtree is the largest perfect (power-of-two) subtree smaller than n,
// and the remainder recurses on the right. Every internal node is
// identified by the half-open leaf-index range it covers, which makes
// the shape, and thus the pre-order byte layout, fully determined by the
// leaf count alone.
package outboard

import (
	"fmt"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
)

// NodeID identifies a tree node by the half-open range of leaf (chunk
// group) indices it covers. A range of length 1 is a leaf; anything
// wider is an internal ("parent") node.
type NodeID struct {
	Begin, End uint64
}

// IsLeaf reports whether n covers exactly one chunk group.
func (n NodeID) IsLeaf() bool { return n.End-n.Begin == 1 }

// Pair is the 64-byte payload an outboard stores for one internal node:
// the hashes of its left and right children (which may themselves be
// internal nodes or leaves).
type Pair struct {
	Left, Right hash.Hash
}

// LeafCount returns the number of chunk-group leaves for a blob of the
// given size under the given configuration. A zero-byte blob has exactly
// one (empty) leaf.
func LeafCount(size uint64, opt config.Options) uint64 {
	g := opt.GroupBytes()
	if size == 0 {
		return 1
	}
	return (size + g - 1) / g
}

// prevPow2 returns the largest power of two strictly less than n. n must
// be >= 2.
func prevPow2(n uint64) uint64 {
	p := uint64(1)
	for p*2 < n {
		p *= 2
	}
	return p
}

// split returns the leaf-count of the left subtree of a node covering n
// (>= 2) leaves.
func split(n uint64) uint64 {
	return prevPow2(n)
}

// Children returns the NodeIDs of n's left and right children. n must not
// be a leaf.
func Children(n NodeID) (left, right NodeID) {
	total := n.End - n.Begin
	if total < 2 {
		panic("outboard: Children called on a leaf node")
	}
	k := split(total)
	return NodeID{n.Begin, n.Begin + k}, NodeID{n.Begin + k, n.End}
}

// Root returns the NodeID of the whole tree for a blob with the given
// leaf count.
func Root(leafCount uint64) NodeID {
	return NodeID{0, leafCount}
}

// PreOrder appends the pre-order traversal of all internal nodes of the
// tree rooted at n to dst and returns the result. Leaves are omitted:
// only nodes with Pair entries (i.e. internal nodes) are visited, and
// parents always precede their descendants, matching the order the
// partial-write engine requires of incoming batches.
func PreOrder(dst []NodeID, n NodeID) []NodeID {
	if n.IsLeaf() {
		return dst
	}
	dst = append(dst, n)
	l, r := Children(n)
	dst = PreOrder(dst, l)
	dst = PreOrder(dst, r)
	return dst
}

// Ancestor describes one step on the path from a leaf up to the root: the
// internal node, and whether the leaf (or the subtree already being
// walked) is that node's left or right child.
type Ancestor struct {
	Node NodeID
	Left bool
}

// AncestorChain returns the path from leafIndex's immediate parent up to
// the root, in that order (nearest parent first).
func AncestorChain(leafIndex, leafCount uint64) ([]Ancestor, error) {
	if leafIndex >= leafCount {
		return nil, fmt.Errorf("outboard: leaf index %d out of range [0,%d)", leafIndex, leafCount)
	}
	var chain []Ancestor
	cur := Root(leafCount)
	for !cur.IsLeaf() {
		l, r := Children(cur)
		if leafIndex < l.End {
			chain = append(chain, Ancestor{Node: cur, Left: true})
			cur = l
		} else {
			chain = append(chain, Ancestor{Node: cur, Left: false})
			cur = r
		}
	}
	// Reverse so the nearest parent comes first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
