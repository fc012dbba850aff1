package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/config"
	"github.com/alextreichler/threadViewer/internal/ingest"
	"github.com/alextreichler/threadViewer/internal/store"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("THREADVIEWER_CONFIG"), "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol, logs go to stderr.
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("component", "mcp")
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.ResolveDataDir(), 0755); err != nil {
		logger.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path, !cfg.Database.Persist,
		store.WithCacheSize(cfg.CacheSizeBytes()),
		store.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		store.WithBulkLoad(cfg.Ingest.FastLoad),
		store.WithBatchOptions(
			ingest.WithProducers(cfg.Ingest.Producers),
			ingest.WithSubBatchSize(cfg.Ingest.SubBatchSize),
		),
	)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = s.Close() }()

	opts := cache.OptionsFromConfig(cfg)
	trees, err := cache.NewTreeCache(cfg.Cache.TreeCacheSize, cache.StoreLoader(s, opts.TreeWorkers, opts.TreeOptions()...))
	if err != nil {
		logger.Error("Failed to create call tree cache", "error", err)
		os.Exit(1)
	}

	mcpServer := server.NewMCPServer(
		"threadviewer",
		Version,
		server.WithLogging(),
	)
	tools := &toolServer{store: s, trees: trees, opts: opts, logger: logger}
	tools.register(mcpServer)

	logger.Info("Serving MCP over stdio", "database", cfg.Database.Path)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error("MCP server stopped", "error", err)
		os.Exit(1)
	}
}
