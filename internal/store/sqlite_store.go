package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alextreichler/threadViewer/internal/ingest"
	"github.com/alextreichler/threadViewer/internal/models"
)

type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	batchOpts []ingest.Option
}

type Option func(*storeConfig)

type storeConfig struct {
	cacheSizeBytes int64
	maxOpenConns   int
	bulkLoad       bool
	batchOpts      []ingest.Option
}

// WithCacheSize sets the SQLite page cache budget in bytes.
func WithCacheSize(bytes int64) Option {
	return func(c *storeConfig) { c.cacheSizeBytes = bytes }
}

func WithMaxOpenConns(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithBulkLoad opens every connection with durability relaxed for loading
// (no journal, no fsync). On by default.
func WithBulkLoad(enabled bool) Option {
	return func(c *storeConfig) { c.bulkLoad = enabled }
}

// WithBatchOptions is forwarded to every ingest.BatchAdd call.
func WithBatchOptions(opts ...ingest.Option) Option {
	return func(c *storeConfig) { c.batchOpts = append(c.batchOpts, opts...) }
}

// DSN builds the connection string shared by every pooled connection. The
// pragmas are applied by the driver each time the pool opens a connection.
func DSN(dbPath string, cacheSizeBytes int64, bulkLoad bool) string {
	pragmas := []string{
		"busy_timeout(10000)",
		fmt.Sprintf("cache_size(-%d)", max(cacheSizeBytes/1024, 2000)),
		"secure_delete(OFF)",
	}
	if bulkLoad {
		pragmas = append(pragmas, ingest.BulkLoadPragmas...)
	} else {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)", "temp_store(MEMORY)")
	}
	return fmt.Sprintf("file:%s?_txlock=immediate%s", dbPath, ingest.PragmaParams(pragmas...))
}

// DatabaseFiles lists the database file and the side files SQLite may create
// next to it.
func DatabaseFiles(dbPath string) []string {
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm", dbPath + "-journal"}
}

func NewSQLiteStore(dbPath string, clean bool, opts ...Option) (*SQLiteStore, error) {
	cfg := storeConfig{cacheSizeBytes: 256 << 20, maxOpenConns: 10, bulkLoad: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if clean || shouldWipeDB(dbPath) {
		slog.Info("Creating fresh database", "db", dbPath, "reason", getWipeReason(clean))
		for _, f := range DatabaseFiles(dbPath) {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove old database: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", DSN(dbPath, cfg.cacheSizeBytes, cfg.bulkLoad))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.bulkLoad {
		// Bulk-load tuning is best effort: fall back to the durable settings.
		if err := db.Ping(); err != nil {
			slog.Warn("Bulk load pragmas rejected, opening without them", "db", dbPath, "error", err)
			_ = db.Close()
			cfg.bulkLoad = false
			if db, err = sql.Open("sqlite", DSN(dbPath, cfg.cacheSizeBytes, false)); err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}
		}
	}

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(max(cfg.maxOpenConns/2, 1))
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, batchOpts: cfg.batchOpts}
	if err := store.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("SQLite store initialized", "db", dbPath, "bulk_load", cfg.bulkLoad)
	return store, nil
}

func getWipeReason(clean bool) string {
	if clean {
		return "clean flag set"
	}
	return "schema outdated or db invalid"
}

// shouldWipeDB reports whether an existing file predates the current schema.
func shouldWipeDB(dbPath string) bool {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return true
	}
	defer func() { _ = db.Close() }()

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	return err != nil || version < CurrentSchemaVersion
}

func (s *SQLiteStore) InitSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema initialization: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(SchemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	if _, err := tx.Exec(MetadataTable); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	var currentVersion int
	err = tx.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&currentVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Version 0 -> 1: workspaces, files, threads, stacks, dictionary
	if currentVersion < 1 {
		if _, err := tx.Exec(WorkspaceSchema); err != nil {
			return fmt.Errorf("failed to create workspace tables: %w", err)
		}
		if _, err := tx.Exec(ThreadSchema); err != nil {
			return fmt.Errorf("failed to create thread tables: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to update schema version to 1: %w", err)
		}
		currentVersion = 1
	}

	// Version 1 -> 2: method name index with external-content FTS5
	if currentVersion < 2 {
		if _, err := tx.Exec(MethodIndexSchema); err != nil {
			return fmt.Errorf("failed to create method index: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO method_names_fts(method_names_fts) VALUES('rebuild')"); err != nil {
			return fmt.Errorf("failed to rebuild method_names_fts index: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (2)"); err != nil {
			return fmt.Errorf("failed to update schema version to 2: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) CreateWorkspace(path string) (*models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := &models.Workspace{
		ID:        uuid.NewString(),
		Path:      path,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.db.Exec("INSERT INTO workspaces (id, path, created_at) VALUES (?, ?, ?)",
		ws.ID, ws.Path, ws.CreatedAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, nil
}

func (s *SQLiteStore) GetWorkspace(id string) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		ws      models.Workspace
		created int64
	)
	err := s.db.QueryRow("SELECT id, path, created_at FROM workspaces WHERE id = ?", id).Scan(&ws.ID, &ws.Path, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	ws.CreatedAt = time.UnixMicro(created).UTC()
	return &ws, nil
}

func (s *SQLiteStore) ListWorkspaces() ([]models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, path, created_at FROM workspaces ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Workspace
	for rows.Next() {
		var (
			ws      models.Workspace
			created int64
		)
		if err := rows.Scan(&ws.ID, &ws.Path, &created); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		ws.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, ws)
	}
	return out, rows.Err()
}

var dumpFilesTable = ingest.Table[models.DumpFile]{
	Name:      "dump_files",
	InsertSQL: "INSERT INTO dump_files (id, workspace, path, file_type, captured_at) VALUES (?, ?, ?, ?, ?)",
	Args: func(f models.DumpFile) []any {
		return []any{f.ID, f.Workspace, f.Path, string(f.Type), nullableMicros(f.CapturedAt)}
	},
}

func (s *SQLiteStore) InsertDumpFiles(files []models.DumpFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.BatchAdd(s.db, dumpFilesTable, files, s.batchOpts...)
}

func (s *SQLiteStore) ListDumpFiles(workspace string) ([]models.DumpFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, workspace, path, file_type, captured_at FROM dump_files
		WHERE workspace = ? ORDER BY captured_at, path`, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to list dump files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.DumpFile
	for rows.Next() {
		var (
			f        models.DumpFile
			fileType string
			captured sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.Workspace, &f.Path, &fileType, &captured); err != nil {
			return nil, fmt.Errorf("failed to scan dump file: %w", err)
		}
		f.Type = models.FileType(fileType)
		if captured.Valid {
			f.CapturedAt = time.UnixMicro(captured.Int64).UTC()
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("metadata %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value.String, nil
}

func (s *SQLiteStore) Optimize(p *models.ProgressTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Info("Running database optimizations...")
	if p != nil {
		p.SetStatus("Optimizing method index (merging segments)...")
	}
	if _, err := s.db.Exec("INSERT INTO method_names_fts(method_names_fts) VALUES('optimize')"); err != nil {
		slog.Warn("Failed to optimize FTS5 index", "error", err)
	}

	if p != nil {
		p.SetStatus("Analyzing database statistics...")
	}
	if _, err := s.db.Exec("ANALYZE"); err != nil {
		slog.Warn("Failed to run ANALYZE", "error", err)
	}

	if p != nil {
		p.SetStatus("Vacuuming database (reclaiming space)...")
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}

	slog.Info("Database optimizations complete")
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableMicros(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}
