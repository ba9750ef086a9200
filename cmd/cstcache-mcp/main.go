// Command cstcache-mcp exposes read-only get/stats operations over the
// Model Context Protocol, mirroring the teacher's internal/mcp server:
// tool schemas declared with jsonschema-go, stdio transport from
// modelcontextprotocol/go-sdk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cstlog"
	"github.com/standardbeagle/cstcache/internal/ingest"
	"github.com/standardbeagle/cstcache/internal/parsersrc"
	"github.com/standardbeagle/cstcache/internal/pipeline"
	"github.com/standardbeagle/cstcache/internal/tier"
)

// statsSchema is the published shape of pipeline.Snapshot's JSON encoding;
// every "stats" response is validated against it before being returned,
// the same defensive check the teacher applies to its tool input schemas,
// turned around onto our tool output.
var statsSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"HotBytes":          {Type: "integer"},
		"WarmBytes":         {Type: "integer"},
		"ColdBytes":         {Type: "integer"},
		"EntryCount":        {Type: "integer"},
		"UniqueChunks":      {Type: "integer"},
		"SharedSourceCount": {Type: "integer"},
		"InternerBytes":     {Type: "integer"},
	},
	Required: []string{"HotBytes", "WarmBytes", "ColdBytes", "EntryCount"},
}

type getParams struct {
	File string `json:"file"`
}

func main() {
	root := flag.String("root", ".", "project root to ingest and serve")
	configPath := flag.String("config", "", "config file path; defaults to <root>/.cstcache.kdl")
	flag.Parse()

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-mcp: resolve root: %v\n", err)
		os.Exit(1)
	}
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(absRoot, ".cstcache.kdl")
	}
	cfg, err := config.LoadWithRoot(cfgPath, absRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-mcp: load config: %v\n", err)
		os.Exit(1)
	}

	pl := pipeline.New(cfg)
	if err := ingestInto(pl, cfg, absRoot); err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-mcp: ingest %s: %v\n", absRoot, err)
		os.Exit(1)
	}
	pl.StartMaintenance(0)
	defer pl.StopMaintenance()

	resolvedStatsSchema, err := statsSchema.Resolve(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-mcp: resolve stats schema: %v\n", err)
		os.Exit(1)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cstcache-mcp",
		Version: "0.1.0",
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "get",
		Description: "Fetch a stored file's cache handle (node count, source length, residency) by path.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file": {
					Type:        "string",
					Description: "path (absolute or relative to the server's root) to fetch",
				},
			},
			Required: []string{"file"},
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGet(pl, absRoot, req)
	})

	server.AddTool(&mcp.Tool{
		Name:        "stats",
		Description: "Report the cache's observability snapshot: per-tier byte totals, entry count, chunk dedup stats.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleStats(pl, resolvedStatsSchema)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cstlog.Printf("cstcache-mcp: received shutdown signal")
		cancel()
	}()

	cstlog.Printf("cstcache-mcp: serving over stdio, root %s", absRoot)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "cstcache-mcp: server error: %v\n", err)
		os.Exit(1)
	}
}

func handleGet(pl *pipeline.Pipeline, root string, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params getParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return errorResult(fmt.Errorf("invalid parameters: %w", err))
	}
	file := params.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	source, err := os.ReadFile(file)
	if err != nil {
		return errorResult(fmt.Errorf("read %s: %w", file, err))
	}

	handle, err := pl.Get(file, tier.HashSource(source))
	if err != nil {
		return errorResult(fmt.Errorf("get %s: %w", file, err))
	}
	if handle == nil {
		return jsonResult(map[string]any{"found": false, "file": file})
	}

	nodeCount := 0
	if handle.Tree != nil {
		nodeCount = handle.Tree.NodeCount()
	} else {
		nodeCount = len(handle.Nodes)
	}
	return jsonResult(map[string]any{
		"found":      true,
		"file":       file,
		"node_count": nodeCount,
		"source_len": len(handle.Source),
		"hot_handle": handle.Tree != nil,
	})
}

func handleStats(pl *pipeline.Pipeline, resolvedSchema *jsonschema.Resolved) (*mcp.CallToolResult, error) {
	snap := pl.Snapshot()
	encoded, err := json.Marshal(snap)
	if err != nil {
		return errorResult(fmt.Errorf("marshal snapshot: %w", err))
	}

	var asMap map[string]any
	if err := json.Unmarshal(encoded, &asMap); err != nil {
		return errorResult(fmt.Errorf("decode snapshot for validation: %w", err))
	}
	if err := resolvedSchema.Validate(asMap); err != nil {
		return errorResult(fmt.Errorf("snapshot failed its own schema: %w", err))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
	}, nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	encoded, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
		IsError: true,
	}, nil
}

func jsonResult(data map[string]any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
	}, nil
}

// ingestInto walks root and stores every file with a registered grammar,
// the same selection rule cmd/cstcache-ingest applies.
func ingestInto(pl *pipeline.Pipeline, cfg *config.Config, root string) error {
	paths, err := ingest.Walk(cfg, root)
	if err != nil {
		return err
	}
	for _, path := range paths {
		ext := filepath.Ext(path)
		if _, ok := parsersrc.LanguageForExtension(ext); !ok {
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			cstlog.Printf("cstcache-mcp: read %s: %v", path, err)
			continue
		}
		tree, err := parsersrc.Parse(ext, source)
		if err != nil {
			cstlog.Printf("cstcache-mcp: parse %s: %v", path, err)
			continue
		}
		_, err = pl.Store(path, source, tree.Root())
		tree.Close()
		if err != nil {
			cstlog.Printf("cstcache-mcp: store %s: %v", path, err)
		}
	}
	return nil
}
