package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_txlock=immediate", path))
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

type item struct {
	ID    int
	Label string
}

var itemsTable = Table[item]{
	Name:      "items",
	InsertSQL: "INSERT INTO items (id, label) VALUES (?, ?)",
	Args:      func(it item) []any { return []any{it.ID, it.Label} },
}

func makeItems(n int) []item {
	out := make([]item, n)
	for i := range out {
		out[i] = item{ID: i + 1, Label: fmt.Sprintf("row-%d", i)}
	}
	return out
}

func TestPartition(t *testing.T) {
	spans := Partition(10, 3)
	assert.Equal(t, []Span{{0, 3}, {3, 6}, {6, 10}}, spans)

	for _, tc := range []struct{ n, c int }{{0, 4}, {1, 4}, {7, 7}, {1001, 8}, {5, 0}} {
		spans := Partition(tc.n, tc.c)
		total := 0
		next := 0
		for _, s := range spans {
			assert.Equal(t, next, s.Start, "spans must be contiguous")
			total += s.Len()
			next = s.End
		}
		assert.Equal(t, tc.n, total, "n=%d c=%d", tc.n, tc.c)
	}

	assert.Len(t, Partition(5, 0), 1)
}

func TestBatchAdd_PersistsEveryRow(t *testing.T) {
	db := openTestDB(t)
	rows := makeItems(2503)

	err := BatchAdd(db, itemsTable, rows, WithProducers(3), WithSubBatchSize(400))
	require.NoError(t, err)

	var count, sum int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(id) FROM items`).Scan(&count, &sum))
	assert.Equal(t, len(rows), count)
	assert.Equal(t, len(rows)*(len(rows)+1)/2, sum)
}

func TestBatchAdd_FewerRowsThanProducers(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, BatchAdd(db, itemsTable, makeItems(2), WithProducers(8)))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBatchAdd_EmptyIsNoop(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, BatchAdd(db, itemsTable, nil))
}

func TestBatchAdd_ReturnsWorkerError(t *testing.T) {
	db := openTestDB(t)
	bad := Table[item]{
		Name:      "missing",
		InsertSQL: "INSERT INTO missing (id) VALUES (?)",
		Args:      func(it item) []any { return []any{it.ID} },
	}
	err := BatchAdd(db, bad, makeItems(10), WithProducers(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBatchAdd_ConstraintViolationSurfaces(t *testing.T) {
	db := openTestDB(t)
	rows := makeItems(50)
	rows[49].ID = rows[0].ID

	err := BatchAdd(db, itemsTable, rows, WithProducers(1), WithSubBatchSize(1000))
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 0, count, "failed transaction must roll back")
}

func TestBulkLoadPragmas_EveryPooledConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulk.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)%s", path, PragmaParams(BulkLoadPragmas...))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	for i, conn := range conns {
		var synchronous, temp int
		var mode string
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA synchronous`).Scan(&synchronous))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA temp_store`).Scan(&temp))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
		assert.Equal(t, 0, synchronous, "conn %d", i)
		assert.Equal(t, 2, temp, "conn %d", i)
		assert.Equal(t, "off", mode, "conn %d", i)
	}
	for _, conn := range conns {
		require.NoError(t, conn.Close())
	}
}

func TestPragmaParams(t *testing.T) {
	assert.Equal(t, "", PragmaParams())
	assert.Equal(t, "&_pragma=synchronous%28OFF%29", PragmaParams("synchronous(OFF)"))
}
