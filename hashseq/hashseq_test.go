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

package hashseq

import (
	"context"
	"errors"
	"testing"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
)

type sliceReader struct{ data []byte }

func (r *sliceReader) ReadAt(ctx context.Context, offset uint64, length int) ([]byte, error) {
	if offset > uint64(len(r.data)) {
		return nil, errors.New("out of range")
	}
	end := offset + uint64(length)
	if end > uint64(len(r.data)) {
		end = uint64(len(r.data))
	}
	return r.data[offset:end], nil
}

func mkHash(b byte) hash.Hash {
	var h hash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestEncodeDecodeAllRoundTrip(t *testing.T) {
	in := []hash.Hash{mkHash(1), mkHash(2), mkHash(3)}
	raw := Encode(in)
	out, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d hashes, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("hash %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeAllRejectsTruncated(t *testing.T) {
	raw := Encode([]hash.Hash{mkHash(1), mkHash(2)})
	if _, err := DecodeAll(raw[:len(raw)-1]); !errors.Is(err, baoerr.InvalidData) {
		t.Fatalf("expected InvalidData for truncated input, got %v", err)
	}
}

func TestReaderIsLazyAndForwardOnly(t *testing.T) {
	in := []hash.Hash{mkHash(1), mkHash(2), mkHash(3)}
	r := &sliceReader{data: Encode(in)}
	ctx := context.Background()

	seq, err := NewReader(ctx, r)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if seq.Count() != uint64(len(in)) {
		t.Fatalf("Count() = %d, want %d", seq.Count(), len(in))
	}

	for i, want := range in {
		got, ok, err := seq.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("Next(%d): ok=%v err=%v", i, ok, err)
		}
		if got != want {
			t.Fatalf("Next(%d) = %v, want %v", i, got, want)
		}
	}
	if _, ok, err := seq.Next(ctx); ok || err != nil {
		t.Fatalf("expected exhausted sequence, got ok=%v err=%v", ok, err)
	}
}

func TestEmptyHashSeq(t *testing.T) {
	raw := Encode(nil)
	out, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty sequence, got %d", len(out))
	}
}
