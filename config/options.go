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

// Package config holds the functional-options configuration shared by
// store backends, following the same ResolveStorageOptions(opts...)
// shape the teacher uses for its POSIX and SQL storage implementations.
package config

const (
	// BaseChunkSize is the fixed leaf unit of the Merkle tree, in bytes.
	BaseChunkSize = 1024

	// DefaultChunkGroupLog2 groups 2^DefaultChunkGroupLog2 base chunks
	// into one outboard leaf, matching the Bao tree default.
	DefaultChunkGroupLog2 = 4

	// DefaultGCSweepBatchSize is the maximum number of hashes deleted in
	// a single GC sweep batch.
	DefaultGCSweepBatchSize = 100
)

// Options configures a store backend.
type Options struct {
	// ChunkGroupLog2 is the power-of-two exponent applied to
	// BaseChunkSize to compute the outboard's leaf chunk-group size.
	ChunkGroupLog2 uint8

	// GCSweepBatchSize bounds how many hashes are passed to a single
	// Delete call during GC sweep.
	GCSweepBatchSize int
}

// Option mutates an Options during Resolve.
type Option func(*Options)

// WithChunkGroupLog2 overrides the default chunk-group size.
func WithChunkGroupLog2(log2 uint8) Option {
	return func(o *Options) { o.ChunkGroupLog2 = log2 }
}

// WithGCSweepBatchSize overrides the default GC sweep batch size.
func WithGCSweepBatchSize(n int) Option {
	return func(o *Options) { o.GCSweepBatchSize = n }
}

// Resolve builds an Options from defaults plus the supplied overrides, the
// same pattern the teacher uses in storage/internal.ResolveStorageOptions.
func Resolve(opts ...Option) Options {
	o := Options{
		ChunkGroupLog2:   DefaultChunkGroupLog2,
		GCSweepBatchSize: DefaultGCSweepBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ChunkGroupSize returns the number of base chunks grouped into one
// outboard leaf.
func (o Options) ChunkGroupSize() uint64 {
	return uint64(1) << o.ChunkGroupLog2
}

// GroupBytes returns the byte size of one outboard leaf group.
func (o Options) GroupBytes() uint64 {
	return o.ChunkGroupSize() * BaseChunkSize
}
