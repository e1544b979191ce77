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
	"fmt"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/hash"
)

// VerifyLeaf walks the path from the chunk-group at leafIndex up to the
// root, using pairs drawn from lookup (which should combine any
// previously-persisted outboard nodes with the ones newly arrived in the
// current batch). It returns baoerr.InvalidData if the leaf's data does
// not chain to root, or if lookup is missing a pair needed along the
// path.
func VerifyLeaf(hasher hash.Hasher, opt config.Options, size uint64, root hash.Hash, leafIndex uint64, data []byte, lookup func(NodeID) (Pair, bool)) error {
	leaves := LeafCount(size, opt)
	chain, err := AncestorChain(leafIndex, leaves)
	if err != nil {
		return fmt.Errorf("%w: %v", baoerr.InvalidArgument, err)
	}

	running := hasher.HashLeaf(leafIndex, data)
	for _, anc := range chain {
		pair, ok := lookup(anc.Node)
		if !ok {
			return fmt.Errorf("%w: missing parent for node %+v", baoerr.InvalidData, anc.Node)
		}
		var expect hash.Hash
		if anc.Left {
			expect = pair.Left
		} else {
			expect = pair.Right
		}
		if running != expect {
			return fmt.Errorf("%w: chunk group %d does not chain to its claimed parent", baoerr.InvalidData, leafIndex)
		}
		running = hasher.HashNode(pair.Left, pair.Right)
	}
	if running != root {
		return fmt.Errorf("%w: chunk group %d does not chain to the declared root hash", baoerr.InvalidData, leafIndex)
	}
	return nil
}
