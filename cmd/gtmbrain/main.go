// gtmbrain is the GTM knowledge base MCP server.
//
// It manages per-vertical "brains" in a Qdrant vector store: ICP scoring
// rules, response templates, objection handlers, market research, and
// quality-gated insights, all exposed as MCP tools over stdio.
//
// Usage:
//
//	gtmbrain serve     # Start MCP server (stdio transport)
//	gtmbrain config    # Print resolved configuration with provenance
//	gtmbrain version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atlasgtm/gtmbrain/internal/config"
	"github.com/atlasgtm/gtmbrain/internal/embed"
	"github.com/atlasgtm/gtmbrain/internal/gate"
	"github.com/atlasgtm/gtmbrain/internal/lifecycle"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	gtmmcp "github.com/atlasgtm/gtmbrain/internal/mcp"
	"github.com/atlasgtm/gtmbrain/internal/search"
	"github.com/atlasgtm/gtmbrain/internal/toollog"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Optional .env for local development. Real deployments set the
	// environment directly.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("gtmbrain %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// serveFlags parses the flag set shared by serve and config.
func serveFlags(name string, args []string) (config.ResolveOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	opts := config.ResolveOptions{}
	fs.StringVar(&opts.ConfigPath, "config", "", "path to config file (default ~/.gtmbrain/config.yaml)")
	fs.StringVar(&opts.CLIQdrantURL, "qdrant-url", "", "Qdrant base URL")
	fs.StringVar(&opts.CLIEmbedEndpoint, "embed-endpoint", "", "embeddings API endpoint")
	fs.StringVar(&opts.CLIEmbedModel, "embed-model", "", "embedding model name")
	fs.StringVar(&opts.CLIToolLogPath, "tool-log", "", "tool invocation log path ('none' disables)")
	fs.StringVar(&opts.CLILogMode, "log-mode", "", "log mode: prod or dev")
	if err := fs.Parse(args); err != nil {
		return config.ResolveOptions{}, err
	}
	return opts, nil
}

func runServe(args []string) error {
	opts, err := serveFlags("serve", args)
	if err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return err
	}

	// stdout belongs to the MCP transport; everything else goes to stderr.
	log, err := logging.New(cfg.LogMode.Value)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	store, err := vector.New(vector.Config{
		URL:    cfg.QdrantURL.Value,
		APIKey: cfg.QdrantAPIKey.Value,
	}, log)
	if err != nil {
		return err
	}
	embedder, err := embed.NewClient(embed.Config{
		Endpoint: cfg.EmbedEndpoint.Value,
		APIKey:   cfg.EmbedAPIKey.Value,
		Model:    cfg.EmbedModel.Value,
	}, log)
	if err != nil {
		return err
	}

	auditPath := cfg.ToolLogPath.Value
	if auditPath == "" {
		auditPath = toollog.DefaultDBPath
	}
	var audit *toollog.Log
	if auditPath != "none" {
		audit, err = toollog.Open(auditPath)
		if err != nil {
			return fmt.Errorf("open tool log: %w", err)
		}
		defer audit.Close()
	}

	g := gate.New(embedder, store, log)
	mgr := lifecycle.NewManager(store, embedder, g, log)
	eng := search.NewEngine(store, embedder, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("prepare collections: %w", err)
	}

	srv := gtmmcp.NewServer(gtmmcp.ServerConfig{
		Manager: mgr,
		Search:  eng,
		Audit:   audit,
		Log:     log,
		Version: version,
	})

	log.Info("gtmbrain serving",
		"version", version,
		"qdrant_url", cfg.QdrantURL.Value,
		"embed_model", cfg.EmbedModel.Value,
		"config_source", string(cfg.QdrantURL.Source))
	return server.ServeStdio(srv)
}

// runConfig prints the resolved configuration with per-value provenance,
// API keys masked.
func runConfig(args []string) error {
	opts, err := serveFlags("config", args)
	if err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return err
	}

	cfg.QdrantAPIKey.Value = mask(cfg.QdrantAPIKey.Value)
	cfg.EmbedAPIKey.Value = mask(cfg.EmbedAPIKey.Value)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}

func printUsage() {
	fmt.Println(`gtmbrain - GTM knowledge base MCP server

Usage:
  gtmbrain serve [flags]    Start the MCP server on stdio
  gtmbrain config [flags]   Print resolved configuration with provenance
  gtmbrain version          Print version

Flags (serve, config):
  --config <path>           Config file (default ~/.gtmbrain/config.yaml)
  --qdrant-url <url>        Qdrant base URL
  --embed-endpoint <url>    Embeddings API endpoint
  --embed-model <name>      Embedding model name
  --tool-log <path>         Tool invocation log path ('none' disables)
  --log-mode <prod|dev>     Log output mode

Environment:
  QDRANT_URL, QDRANT_API_KEY, VOYAGE_ENDPOINT, VOYAGE_MODEL,
  VOYAGE_API_KEY, GTMBRAIN_TOOL_LOG, GTMBRAIN_LOG_MODE
  A .env file in the working directory is loaded if present.`)
}
