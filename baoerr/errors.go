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

// Package baoerr defines the sentinel error kinds surfaced by the blob
// store. Call sites wrap one of these with context via fmt.Errorf's %w
// verb; callers should use errors.Is against the sentinels below.
package baoerr

import "errors"

var (
	// NotFound means the requested hash is absent from the store.
	NotFound = errors.New("hash not found")

	// InvalidData means a verification step failed: a batch's leaves did
	// not chain to the declared root hash, or a hash-sequence blob could
	// not be parsed.
	InvalidData = errors.New("invalid data")

	// InvalidArgument covers caller errors: a size mismatch against an
	// existing partial entry, a batch whose leaf overruns the declared
	// size, or a malformed tag name.
	InvalidArgument = errors.New("invalid argument")

	// AlreadyExists means a create_tag name collision; retried
	// internally and only surfaced once retries are exhausted.
	AlreadyExists = errors.New("already exists")

	// Io wraps an underlying storage failure.
	Io = errors.New("io error")

	// Cancelled means a progress channel's receiver went away.
	Cancelled = errors.New("cancelled")

	// Internal signals an invariant violation; fatal to the operation.
	Internal = errors.New("internal error")
)
