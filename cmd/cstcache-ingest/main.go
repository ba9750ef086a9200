// Command cstcache-ingest walks a project directory, parses every file
// whose extension has a registered tree-sitter grammar, and stores the
// result in a cstcache pipeline. It links every grammar internal/parsersrc
// knows about, the same way cmd/lci links every language extractor the
// teacher ships.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/ingest"
	"github.com/standardbeagle/cstcache/internal/parsersrc"
	"github.com/standardbeagle/cstcache/internal/pipeline"
)

func main() {
	root := flag.String("root", ".", "project root to ingest")
	configPath := flag.String("config", "", "config file path (KDL or TOML); defaults to .cstcache.kdl under root")
	verbose := flag.Bool("verbose", false, "print every stored path")
	flag.Parse()

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-ingest: resolve root: %v\n", err)
		os.Exit(1)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(absRoot, ".cstcache.kdl")
	}
	cfg, err := config.LoadWithRoot(cfgPath, absRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-ingest: load config: %v\n", err)
		os.Exit(1)
	}

	paths, err := ingest.Walk(cfg, absRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-ingest: walk %s: %v\n", absRoot, err)
		os.Exit(1)
	}

	pl := pipeline.New(cfg)
	stored, skipped := 0, 0
	for _, path := range paths {
		ext := filepath.Ext(path)
		if _, ok := parsersrc.LanguageForExtension(ext); !ok {
			skipped++
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cstcache-ingest: read %s: %v\n", path, err)
			continue
		}
		tree, err := parsersrc.Parse(ext, source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cstcache-ingest: parse %s: %v\n", path, err)
			continue
		}
		result, err := pl.Store(path, source, tree.Root())
		tree.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cstcache-ingest: store %s: %v\n", path, err)
			continue
		}
		stored++
		if *verbose {
			fmt.Printf("%s: %d nodes, hash %x\n", path, result.NodeCount, result.SourceHash)
		}
	}

	snap := pl.Snapshot()
	fmt.Printf("Ingested %d files (%d skipped, no grammar) under %s\n", stored, skipped, absRoot)
	fmt.Printf("Hot %d bytes, warm %d bytes, cold %d bytes, %d entries, %d unique chunks\n",
		snap.HotBytes, snap.WarmBytes, snap.ColdBytes, snap.EntryCount, snap.UniqueChunks)
}
