package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/config"
	"github.com/alextreichler/threadViewer/internal/downloader"
	"github.com/alextreichler/threadViewer/internal/ingest"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/server"
	"github.com/alextreichler/threadViewer/internal/store"
	"github.com/alextreichler/threadViewer/internal/task"
	"github.com/alextreichler/threadViewer/internal/version"
)

var Version = "dev"

func openBrowser(url string) {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}
	if err != nil {
		slog.Warn("Failed to open browser automatically", "error", err, "url", url)
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("THREADVIEWER_CONFIG"), "Path to a TOML config file (can also be set via THREADVIEWER_CONFIG env var)")
	port := flag.Int("port", 0, "Port to listen on (overrides config and PORT env var)")
	host := flag.String("host", "", "Host to bind to; use 0.0.0.0 for containers (overrides config and HOST env var)")
	fetchURL := flag.String("fetch-url", "", "URL to download and analyze a bundle from")
	authToken := flag.String("auth-token", "", "Secret token required to access the API")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "Hard limit on server lifetime (e.g., 20m). 0 means no limit")
	inactivityTimeout := flag.Duration("inactivity-timeout", 0, "Shut down if no heartbeats arrive for this long. 0 means no limit")
	memoryLimit := flag.String("memory-limit", "", "Memory budget (e.g., 2GB, 512MB). Sizes the SQLite page cache")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	persist := flag.Bool("persist", false, "Keep the database between runs (default: clean on start)")
	noBrowser := flag.Bool("no-browser", false, "Do not open a browser on start")
	versionFlag := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [bundle-path]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nbundle-path may be a directory, a .zip or a .tar(.gz) archive of thread dumps.\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("threadViewer version %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()

	// Flags win over file and environment, but only when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "host":
			cfg.Server.Host = *host
		case "fetch-url":
			cfg.FetchURL = *fetchURL
		case "auth-token":
			cfg.Server.AuthToken = *authToken
		case "shutdown-timeout":
			cfg.Server.ShutdownTimeout = *shutdownTimeout
		case "inactivity-timeout":
			cfg.Server.InactivityTimeout = *inactivityTimeout
		case "memory-limit":
			cfg.Database.MemoryLimit = *memoryLimit
		case "log-level":
			cfg.Log.Level = *logLevel
		case "persist":
			cfg.Database.Persist = *persist
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	version.Current = Version
	go func() {
		latest, err := version.CheckUpdate(context.Background())
		if err != nil {
			logger.Debug("Failed to check for updates", "error", err)
			return
		}
		if latest != "" {
			logger.Info("A new version of threadViewer is available!", "latest", latest, "current", Version)
			logger.Info("Run this command to update:", "command", version.UpdateCommand())
		}
	}()

	dataDir := cfg.ResolveDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Error("Failed to create data directory", "path", dataDir, "error", err)
		os.Exit(1)
	}
	logger.Info("Using data directory", "path", dataDir)

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path, !cfg.Database.Persist,
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

	opts := cache.OptionsFromConfig(cfg)
	trees, err := cache.NewTreeCache(cfg.Cache.TreeCacheSize, cache.StoreLoader(sqliteStore, opts.TreeWorkers, opts.TreeOptions()...))
	if err != nil {
		logger.Error("Failed to create call tree cache", "error", err)
		os.Exit(1)
	}
	tasks := task.NewExecutor()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	srv, err := server.New(server.Config{
		Store:             sqliteStore,
		Trees:             trees,
		Tasks:             tasks,
		Analyze:           opts,
		Logger:            logger,
		AuthToken:         cfg.Server.AuthToken,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		InactivityTimeout: cfg.Server.InactivityTimeout,
		OnTimeout: func() {
			select {
			case stop <- syscall.SIGTERM:
			default:
			}
		},
	})
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	bundlePath := flag.Arg(0)
	if bundlePath != "" || cfg.FetchURL != "" {
		name := bundlePath
		if cfg.FetchURL != "" {
			name = cfg.FetchURL
		}
		id := tasks.Submit("analyze "+name, func(p *models.ProgressTracker) (string, error) {
			path := bundlePath
			if cfg.FetchURL != "" {
				p.Update(0, "Downloading bundle...")
				extracted, err := downloader.FetchAndExtractBundle(cfg.FetchURL, dataDir)
				if err != nil {
					return "", err
				}
				path = extracted
			}
			data, err := cache.New(path, sqliteStore, opts, p)
			if err != nil {
				return "", err
			}
			trees.Put(data.Workspace.ID, data.Forest)
			return data.Workspace.ID, nil
		})
		logger.Info("Analyzing bundle in the background", "task_id", id, "bundle", name)
	} else {
		logger.Info("No bundle given. POST /api/analyze to load one.")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Server listening on", "address", addr)

	if !*noBrowser {
		go func() {
			time.Sleep(200 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d/api/workspaces", cfg.Server.Port))
		}()
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	srv.Shutdown()
	if err := sqliteStore.Close(); err != nil {
		logger.Warn("Failed to close store", "error", err)
	}

	if !cfg.Database.Persist {
		logger.Info("Cleaning up database files...", "path", dataDir)
		if err := downloader.CleanupDataDir(dataDir, store.DatabaseFiles(cfg.Database.Path)...); err != nil {
			logger.Warn("Failed to clean up data directory on exit", "path", dataDir, "error", err)
		}
	}
}
