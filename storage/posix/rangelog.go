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
	"os"

	"github.com/n0-computer/baostore/store"
)

const rangeRecordLen = 16 // Begin, End as uint64 LE chunk-group indices

func appendRangeRecord(f *os.File, begin, end uint64) error {
	var rec [rangeRecordLen]byte
	binary.LittleEndian.PutUint64(rec[0:8], begin)
	binary.LittleEndian.PutUint64(rec[8:16], end)
	_, err := f.Write(rec[:])
	return err
}

// readRangeLog replays path into a ChunkRanges, coalescing as it goes
// (ChunkRanges.Add already sorts/merges, so record order doesn't matter).
func readRangeLog(path string) (store.ChunkRanges, error) {
	var ranges store.ChunkRanges
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ranges, nil
	}
	if err != nil {
		return ranges, err
	}
	n := len(raw) / rangeRecordLen
	for i := 0; i < n; i++ {
		rec := raw[i*rangeRecordLen : (i+1)*rangeRecordLen]
		begin := binary.LittleEndian.Uint64(rec[0:8])
		end := binary.LittleEndian.Uint64(rec[8:16])
		ranges.Add(begin, end)
	}
	return ranges, nil
}
