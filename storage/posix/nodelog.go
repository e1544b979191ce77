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

package posix

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/outboard"
)

// A partial entry's internal outboard nodes arrive in no particular
// order and only a subset is known at any point in time, so they can't
// use the bit-packed, fully-populated wire format outboard.Marshal
// produces for complete entries. Instead each newly-verified node is
// appended to nodes.log as a fixed-size record; replaying the whole file
// reconstructs the sparse map. Once an entry is promoted to complete the
// log is discarded in favor of the canonical Marshal encoding.
const nodeRecordLen = 16 + 2*hash.Size // Begin, End (uint64 LE) + Pair

func appendNodeRecord(f *os.File, item outboard.NodeID, p outboard.Pair) error {
	var rec [nodeRecordLen]byte
	binary.LittleEndian.PutUint64(rec[0:8], item.Begin)
	binary.LittleEndian.PutUint64(rec[8:16], item.End)
	copy(rec[16:16+hash.Size], p.Left[:])
	copy(rec[16+hash.Size:], p.Right[:])
	_, err := f.Write(rec[:])
	return err
}

// readNodeLog replays path into a node map. A missing file is treated as
// an empty map (a freshly-created partial entry has no nodes yet).
func readNodeLog(path string) (map[outboard.NodeID]outboard.Pair, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[outboard.NodeID]outboard.Pair{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw)%nodeRecordLen != 0 {
		return nil, fmt.Errorf("posix: nodes log %s has truncated trailing record", path)
	}
	n := len(raw) / nodeRecordLen
	out := make(map[outboard.NodeID]outboard.Pair, n)
	for i := 0; i < n; i++ {
		rec := raw[i*nodeRecordLen : (i+1)*nodeRecordLen]
		id := outboard.NodeID{
			Begin: binary.LittleEndian.Uint64(rec[0:8]),
			End:   binary.LittleEndian.Uint64(rec[8:16]),
		}
		var p outboard.Pair
		copy(p.Left[:], rec[16:16+hash.Size])
		copy(p.Right[:], rec[16+hash.Size:])
		out[id] = p
	}
	return out, nil
}
