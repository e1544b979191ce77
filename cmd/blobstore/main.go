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

// Command blobstore is a thin CLI over the store/tags/gc/importer/
// validate packages: import, export, gc, validate, and tag management
// against a posix-backed store rooted at -root.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/n0-computer/baostore/config"
	"github.com/n0-computer/baostore/gc"
	"github.com/n0-computer/baostore/hash"
	"github.com/n0-computer/baostore/importer"
	"github.com/n0-computer/baostore/storage/posix"
	"github.com/n0-computer/baostore/storage/sqlite"
	"github.com/n0-computer/baostore/tags"
	"github.com/n0-computer/baostore/validate"
)

func main() {
	klog.InitFlags(nil)
	root := flag.String("root", "", "root directory of the blob store (required)")
	flag.Parse()
	defer klog.Flush()

	if *root == "" {
		fmt.Fprintln(os.Stderr, "blobstore: -root is required")
		os.Exit(2)
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	env, err := open(*root)
	if err != nil {
		klog.Exitf("blobstore: opening store at %s: %v", *root, err)
	}

	ctx := context.Background()
	switch cmd := args[0]; cmd {
	case "import":
		err = runImport(ctx, env, args[1:])
	case "export":
		err = runExport(ctx, env, args[1:])
	case "gc":
		err = runGC(ctx, env, args[1:])
	case "validate":
		err = runValidate(ctx, env, args[1:])
	case "tag":
		err = runTag(ctx, env, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		klog.Exitf("blobstore %s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: blobstore -root DIR <command> [args]

commands:
  import FILE             import FILE, print its hash and size
  export HASH DEST        export the complete blob HASH to DEST
  gc                       run a mark+sweep garbage collection cycle
  validate                 re-verify every complete blob against its outboard
  tag set NAME HASH        point persistent tag NAME at HASH (raw format)
  tag rm NAME              delete persistent tag NAME
  tag list                 list all persistent tags`)
}

// env bundles the wiring shared by every subcommand: a posix-backed
// store, a SQLite-backed tag registry, and the hasher/config pair both
// are built with.
type env struct {
	store    *posix.Store
	registry *tags.Registry
	hasher   hash.Hasher
	opt      config.Options
	imp      *importer.Importer
}

func open(root string) (*env, error) {
	opt := config.Resolve()
	hasher := hash.NewBlake3Hasher()

	st, err := posix.New(filepath.Join(root, "blobs"), hasher, opt)
	if err != nil {
		return nil, fmt.Errorf("opening posix store: %w", err)
	}
	db, err := sqlite.Open(filepath.Join(root, "tags.db"))
	if err != nil {
		return nil, fmt.Errorf("opening tag database: %w", err)
	}
	backend, err := sqlite.New(db)
	if err != nil {
		return nil, fmt.Errorf("building tag backend: %w", err)
	}
	reg := tags.New(backend)
	return &env{
		store:    st,
		registry: reg,
		hasher:   hasher,
		opt:      opt,
		imp:      importer.New(st, reg, hasher, opt),
	}, nil
}

func runImport(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import FILE")
	}
	res, err := e.imp.ImportFile(ctx, args[0], importer.Copy, hash.Raw, nil)
	if err != nil {
		return err
	}
	defer res.Tag.Release()
	h := res.Tag.HashAndFormat().Hash
	if _, err := e.registry.CreateTag(ctx, res.Tag.HashAndFormat()); err != nil {
		return fmt.Errorf("pinning imported blob with a persistent tag: %w", err)
	}
	fmt.Printf("%s %d\n", h, res.Size)
	return nil
}

func runExport(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: export HASH DEST")
	}
	h, err := hash.ParseString(args[0])
	if err != nil {
		return fmt.Errorf("parsing hash %q: %w", args[0], err)
	}
	return e.imp.Export(ctx, h, args[1], importer.Copy, nil)
}

func runGC(ctx context.Context, e *env, args []string) error {
	live := gc.NewMemLiveSet()
	for ev := range gc.Mark(ctx, e.store, e.registry, nil, live, 4) {
		if ev.Err != nil {
			return fmt.Errorf("mark %s: %w", ev.Root, ev.Err)
		}
	}
	var deleted int
	for ev := range gc.Sweep(ctx, e.store, live, e.opt.GCSweepBatchSize) {
		if ev.Err != nil {
			return ev.Err
		}
		deleted++
	}
	fmt.Printf("gc: deleted %d unreachable blobs\n", deleted)
	return nil
}

func runValidate(ctx context.Context, e *env, args []string) error {
	var failures int
	for ev := range validate.Run(ctx, e.store, e.hasher, e.opt, 4) {
		switch ev.Kind {
		case validate.Starting:
			fmt.Printf("validate: checking %d blobs\n", ev.Total)
		case validate.Done:
			if ev.Err != nil {
				failures++
				fmt.Printf("FAIL %s: %v\n", ev.Hash, ev.Err)
			}
		case validate.Abort:
			return ev.Err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d blob(s) failed validation", failures)
	}
	fmt.Println("validate: all blobs verified")
	return nil
}

func runTag(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tag set|rm|list ...")
	}
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: tag set NAME HASH")
		}
		h, err := hash.ParseString(args[2])
		if err != nil {
			return fmt.Errorf("parsing hash %q: %w", args[2], err)
		}
		target := hash.HashAndFormat{Hash: h, Format: hash.Raw}
		return e.registry.SetTag(ctx, args[1], &target)
	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: tag rm NAME")
		}
		return e.registry.SetTag(ctx, args[1], nil)
	case "list":
		list, err := e.registry.Tags(ctx)
		if err != nil {
			return err
		}
		for _, t := range list {
			fmt.Printf("%s %s\n", t.Name, t.Target)
		}
		return nil
	default:
		return fmt.Errorf("unknown tag subcommand %q", args[0])
	}
}
