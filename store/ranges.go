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

package store

import "sort"

// Interval is a half-open range [Begin, End) of chunk-group indices.
type Interval struct {
	Begin, End uint64
}

// ChunkRanges is a normalized (sorted, coalesced, non-overlapping) set of
// chunk-group index intervals: the leaf chunks of a partial entry that
// have been verified and persisted so far.
type ChunkRanges struct {
	intervals []Interval
}

// Add unions [begin, end) into the set. Adding is the only mutator, so a
// ChunkRanges only ever grows: callers get the monotonic non-decreasing
// guarantee spec.md requires for free.
func (c *ChunkRanges) Add(begin, end uint64) {
	if end <= begin {
		return
	}
	c.intervals = append(c.intervals, Interval{begin, end})
	c.coalesce()
}

func (c *ChunkRanges) coalesce() {
	sort.Slice(c.intervals, func(i, j int) bool { return c.intervals[i].Begin < c.intervals[j].Begin })
	out := c.intervals[:0]
	for _, iv := range c.intervals {
		if n := len(out); n > 0 && iv.Begin <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	c.intervals = out
}

// Contains reports whether i falls within the set.
func (c *ChunkRanges) Contains(i uint64) bool {
	for _, iv := range c.intervals {
		if i >= iv.Begin && i < iv.End {
			return true
		}
	}
	return false
}

// Covers reports whether [begin, end) is fully contained in the set.
func (c *ChunkRanges) Covers(begin, end uint64) bool {
	for _, iv := range c.intervals {
		if iv.Begin <= begin && end <= iv.End {
			return true
		}
	}
	return false
}

// Intervals returns a copy of the normalized intervals, for inspection
// (e.g. by available_ranges callers, or tests).
func (c *ChunkRanges) Intervals() []Interval {
	out := make([]Interval, len(c.intervals))
	copy(out, c.intervals)
	return out
}

// Clone returns an independent copy of c.
func (c *ChunkRanges) Clone() ChunkRanges {
	var out ChunkRanges
	out.intervals = append([]Interval(nil), c.intervals...)
	return out
}
