package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alextreichler/threadViewer/internal/models"
)

// AppConfig is the full runtime configuration. Values come from defaults,
// then the TOML file, then environment variables, then command-line flags.
type AppConfig struct {
	DataDir  string              `toml:"data_dir"`
	FetchURL string              `toml:"fetch_url"`
	Server   ServerConfig        `toml:"server"`
	Database DatabaseConfig      `toml:"database"`
	Ingest   IngestConfig        `toml:"ingest"`
	Files    models.FileKeywords `toml:"files"`
	Cache    CacheConfig         `toml:"cache"`
	Log      LogConfig           `toml:"log"`
}

type ServerConfig struct {
	Host              string        `toml:"host"`
	Port              int           `toml:"port"`
	AuthToken         string        `toml:"auth_token"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	InactivityTimeout time.Duration `toml:"inactivity_timeout"`
}

type DatabaseConfig struct {
	// Path defaults to <data_dir>/threads.db.
	Path         string `toml:"path"`
	Persist      bool   `toml:"persist"`
	MemoryLimit  string `toml:"memory_limit"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

type IngestConfig struct {
	SubBatchSize      int  `toml:"sub_batch_size"`
	Producers         int  `toml:"producers"`
	TreeWorkers       int  `toml:"tree_workers"`
	SkipSystemThreads bool `toml:"skip_system_threads"`
	SkipPseudoFrames  bool `toml:"skip_pseudo_frames"`
	// FastLoad opens every database connection without journaling or fsync.
	// Turn it off for a persisted database that must survive a crash.
	FastLoad bool `toml:"fast_load"`
}

type CacheConfig struct {
	TreeCacheSize int `toml:"tree_cache_size"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7575,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Ingest: IngestConfig{
			SubBatchSize:      1000,
			SkipSystemThreads: true,
			FastLoad:          true,
		},
		Files: models.DefaultFileKeywords(),
		Cache: CacheConfig{
			TreeCacheSize: 16,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// ApplyEnv overrides values from the environment, for container use.
func (c *AppConfig) ApplyEnv() {
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			c.Server.Port = v
		} else {
			slog.Warn("Ignoring invalid PORT", "value", p)
		}
	}
	if h := os.Getenv("HOST"); h != "" {
		c.Server.Host = h
	}
	if t := os.Getenv("AUTH_TOKEN"); t != "" {
		c.Server.AuthToken = t
	}
	if u := os.Getenv("FETCH_URL"); u != "" {
		c.FetchURL = u
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		c.Log.Level = l
	}
	if d := os.Getenv("DATA_DIR"); d != "" {
		c.DataDir = d
	}
	if m := os.Getenv("MEMORY_LIMIT"); m != "" {
		c.Database.MemoryLimit = m
	}
	if s := os.Getenv("SHUTDOWN_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.Server.ShutdownTimeout = d
		}
	}
}

func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Ingest.SubBatchSize <= 0 {
		return fmt.Errorf("ingest.sub_batch_size must be positive")
	}
	if c.Ingest.Producers < 0 || c.Ingest.TreeWorkers < 0 {
		return fmt.Errorf("ingest worker counts cannot be negative")
	}
	if c.Cache.TreeCacheSize <= 0 {
		return fmt.Errorf("cache.tree_cache_size must be positive")
	}
	if c.Files.ThreadDump == "" {
		return fmt.Errorf("files.thread_dump keyword cannot be empty")
	}
	if _, err := ParseSize(c.Database.MemoryLimit); err != nil {
		return fmt.Errorf("database.memory_limit: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ResolveDataDir fills DataDir with the user cache directory when unset.
func (c *AppConfig) ResolveDataDir() string {
	if c.DataDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			cacheDir = os.TempDir()
		}
		c.DataDir = filepath.Join(cacheDir, "threadViewer")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "threads.db")
	}
	return c.DataDir
}

func (c *AppConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// CacheSizeBytes is the SQLite page cache budget: a quarter of the memory
// limit, or 256MB without one.
func (c *AppConfig) CacheSizeBytes() int64 {
	limit, err := ParseSize(c.Database.MemoryLimit)
	if err != nil || limit == 0 {
		return 256 << 20
	}
	return limit / 4
}

// ParseSize converts a human-readable size ("1.5G", "512MB", "500K") to bytes.
// An empty string is zero.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))
	if sizeStr == "" || sizeStr == "0" {
		return 0, nil
	}

	var multiplier int64 = 1
	if len(sizeStr) > 1 && strings.HasSuffix(sizeStr, "B") {
		if c := sizeStr[len(sizeStr)-2]; c < '0' || c > '9' {
			sizeStr = strings.TrimSuffix(sizeStr, "B")
		}
	}

	switch {
	case strings.HasSuffix(sizeStr, "K"):
		multiplier = 1 << 10
		sizeStr = strings.TrimSuffix(sizeStr, "K")
	case strings.HasSuffix(sizeStr, "M"):
		multiplier = 1 << 20
		sizeStr = strings.TrimSuffix(sizeStr, "M")
	case strings.HasSuffix(sizeStr, "G"):
		multiplier = 1 << 30
		sizeStr = strings.TrimSuffix(sizeStr, "G")
	case strings.HasSuffix(sizeStr, "T"):
		multiplier = 1 << 40
		sizeStr = strings.TrimSuffix(sizeStr, "T")
	case strings.HasSuffix(sizeStr, "B"):
		sizeStr = strings.TrimSuffix(sizeStr, "B")
	}

	parsedValue, err := strconv.ParseFloat(strings.TrimSpace(sizeStr), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse size value '%s': %w", sizeStr, err)
	}
	if parsedValue < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}

	return int64(parsedValue * float64(multiplier)), nil
}
