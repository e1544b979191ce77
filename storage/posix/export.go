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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/baoerr"
	"github.com/n0-computer/baostore/hash"
)

// ExportReference adopts a complete entry's data file as destPath via a
// hard link, implementing importer.ReferenceExporter for a TryReference
// export. Symmetric with ImportReference: ok is false whenever the link
// can't be made (destPath on a different filesystem, most commonly), and
// the importer then falls back to an ordinary copy.
func (s *Store) ExportReference(ctx context.Context, h hash.Hash, destPath string) (bool, error) {
	dir := shardDir(s.completeDir, h)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return false, fmt.Errorf("%w: export: %s", baoerr.NotFound, h)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), dirPerm); err != nil {
		return false, fmt.Errorf("posix: creating export destination dir: %w", err)
	}
	_ = os.Remove(destPath)
	if err := os.Link(filepath.Join(dir, dataFile), destPath); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			klog.V(1).Infof("posix: ExportReference(%s): cross-device link, downgrading to copy", h)
			return false, nil
		}
		klog.V(1).Infof("posix: ExportReference(%s): link failed (%v), downgrading to copy", h, err)
		return false, nil
	}
	return true, nil
}
