// Command cstcache is the direct operator surface for the pipeline
// orchestrator: store, get, stats, freeze, and manage-tiers subcommands,
// styled after cmd/lci/main.go's urfave/cli App.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cstlog"
	"github.com/standardbeagle/cstcache/internal/idcodec"
	"github.com/standardbeagle/cstcache/internal/ingest"
	"github.com/standardbeagle/cstcache/internal/parsersrc"
	"github.com/standardbeagle/cstcache/internal/pipeline"
	"github.com/standardbeagle/cstcache/internal/tier"
	"github.com/standardbeagle/cstcache/pkg/pathutil"
)

// loadConfigWithOverrides mirrors the teacher's main.go helper: load from
// disk, then let --root/--include/--exclude flags override the result.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, string, error) {
	rootFlag := c.String("root")
	absRoot, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, "", fmt.Errorf("resolve root %q: %w", rootFlag, err)
	}

	configPath := c.String("config")
	if configPath == "" {
		configPath = filepath.Join(absRoot, ".cstcache.kdl")
	}
	cfg, err := config.LoadWithRoot(configPath, absRoot)
	if err != nil {
		return nil, "", fmt.Errorf("load config from %s: %w", configPath, err)
	}

	if includes := c.StringSlice("include"); len(includes) > 0 {
		cfg.Include = includes
	}
	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludes...)
	}
	return cfg, absRoot, nil
}

// ingestRoot walks root and stores every file with a registered grammar
// into a fresh Pipeline, the same ephemeral-index approach cmd/lci uses
// for its non-server subcommands (each invocation rebuilds what it needs).
func ingestRoot(cfg *config.Config, root string) (*pipeline.Pipeline, int, error) {
	paths, err := ingest.Walk(cfg, root)
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", root, err)
	}
	pl := pipeline.New(cfg)
	stored := 0
	for _, path := range paths {
		ext := filepath.Ext(path)
		if _, ok := parsersrc.LanguageForExtension(ext); !ok {
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			cstlog.Printf("cstcache: read %s: %v", path, err)
			continue
		}
		tree, err := parsersrc.Parse(ext, source)
		if err != nil {
			cstlog.Printf("cstcache: parse %s: %v", path, err)
			continue
		}
		_, err = pl.Store(path, source, tree.Root())
		tree.Close()
		if err != nil {
			cstlog.Printf("cstcache: store %s: %v", path, err)
			continue
		}
		stored++
	}
	return pl, stored, nil
}

func printSnapshot(pl *pipeline.Pipeline) {
	snap := pl.Snapshot()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(snap)
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cstcache: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cstcache",
		Usage: "tiered concrete-syntax-tree cache, operator CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "project root to operate on",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path (defaults to <root>/.cstcache.kdl)",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "include files matching glob patterns",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude files matching glob patterns",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "store",
				Usage:  "parse and store every matching file under --root",
				Action: storeCommand,
			},
			{
				Name:  "get",
				Usage: "store the project, then fetch a single file back out of the cache",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "path (absolute or relative to --root) to fetch",
						Required: true,
					},
				},
				Action: getCommand,
			},
			{
				Name:   "stats",
				Usage:  "store the project, then print the cache's observability snapshot as JSON",
				Action: statsCommand,
			},
			{
				Name:   "freeze",
				Usage:  "store the project, then force every entry to at least the Cold tier",
				Action: freezeCommand,
			},
			{
				Name:   "manage-tiers",
				Usage:  "store the project, then run one idle-based tier management pass",
				Action: manageTiersCommand,
			},
		},
	}
}

func storeCommand(c *cli.Context) error {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	_, stored, err := ingestRoot(cfg, root)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d files under %s\n", stored, root)
	return nil
}

func getCommand(c *cli.Context) error {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	pl, _, err := ingestRoot(cfg, root)
	if err != nil {
		return err
	}

	file := c.String("file")
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	source, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	expectedHash := tier.HashSource(source)
	handle, err := pl.Get(file, expectedHash)
	if err != nil {
		return fmt.Errorf("get %s: %w", file, err)
	}
	if handle == nil {
		return fmt.Errorf("get %s: not present (store it first or check --include/--exclude)", file)
	}

	display := pathutil.ToRelative(file, root)
	rootRef := idcodec.EncodeNodeID(idcodec.NodeID(0))
	switch {
	case handle.Tree != nil:
		fmt.Printf("%s: Hot handle, root %s, %d nodes, %d source bytes\n", display, rootRef, handle.Tree.NodeCount(), len(handle.Source))
	default:
		fmt.Printf("%s: materialized handle, root %s, %d nodes, %d source bytes\n", display, rootRef, len(handle.Nodes), len(handle.Source))
	}
	if refs, ok := pl.DebugLocation(file); ok {
		fmt.Printf("%s: cold segments: %s\n", display, strings.Join(refs, " "))
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	pl, _, err := ingestRoot(cfg, root)
	if err != nil {
		return err
	}
	printSnapshot(pl)
	return nil
}

func freezeCommand(c *cli.Context) error {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	pl, _, err := ingestRoot(cfg, root)
	if err != nil {
		return err
	}
	if err := pl.FreezeAll(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("freeze-all: %w", err)
	}
	printSnapshot(pl)
	return nil
}

func manageTiersCommand(c *cli.Context) error {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	pl, _, err := ingestRoot(cfg, root)
	if err != nil {
		return err
	}
	pl.ManageTiers()
	printSnapshot(pl)
	return nil
}
