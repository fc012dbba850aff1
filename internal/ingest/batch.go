package ingest

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alextreichler/threadViewer/internal/metrics"
)

// DefaultSubBatchSize bounds the rows committed by one transaction.
const DefaultSubBatchSize = 1000

// Beginner is the storage handle shared by all workers; each worker opens its
// own transaction on it.
type Beginner interface {
	Begin() (*sql.Tx, error)
}

// Table describes how rows of one type are inserted.
type Table[R any] struct {
	Name      string
	InsertSQL string
	Args      func(R) []any
}

// BulkLoadPragmas relax durability for a one-off load. They are per
// connection settings, so they belong in the DSN of every handle the workers
// draw transactions from.
var BulkLoadPragmas = []string{
	"journal_mode(OFF)",
	"synchronous(OFF)",
	"temp_store(MEMORY)",
}

// PragmaParams renders pragmas as modernc sqlite DSN parameters, each prefixed
// with '&'.
func PragmaParams(pragmas ...string) string {
	var b strings.Builder
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

// Span is a half-open index range [Start, End).
type Span struct {
	Start, End int
}

func (s Span) Len() int { return s.End - s.Start }

// Partition splits n rows into c contiguous spans of n/c rows; the last span
// also takes the n%c remainder. c is clamped to at least 1.
func Partition(n, c int) []Span {
	if c < 1 {
		c = 1
	}
	chunk := n / c
	spans := make([]Span, c)
	for i := 0; i < c; i++ {
		spans[i] = Span{Start: i * chunk, End: (i + 1) * chunk}
	}
	spans[c-1].End = n
	return spans
}

type config struct {
	producers int
	subBatch  int
	queueSize int
}

type Option func(*config)

// WithProducers overrides the producer count (default: logical CPUs).
func WithProducers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.producers = n
		}
	}
}

func WithSubBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.subBatch = n
		}
	}
}

type workItem[R any] struct {
	db   Beginner
	rows []R
}

// BatchAdd persists rows through a fan-out/fan-in pipeline: producers push
// their slice into one queue, a single consumer starts one worker per slice,
// and each worker commits its rows in sub-batch transactions. The call
// returns after producers are joined, the queue is closed and drained, and
// every worker has finished. The first worker error is returned; rows of
// other transactions stay committed.
func BatchAdd[R any](db Beginner, table Table[R], rows []R, opts ...Option) error {
	if len(rows) == 0 {
		return nil
	}
	cfg := config{producers: runtime.NumCPU(), subBatch: DefaultSubBatchSize, queueSize: 100}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := metrics.GetMetrics()
	start := time.Now()
	defer func() {
		m.BatchDuration.WithLabelValues(table.Name).Observe(time.Since(start).Seconds())
	}()

	queue := make(chan workItem[R], cfg.queueSize)
	consumerDone := make(chan error, 1)

	go func() {
		var workers errgroup.Group
		for item := range queue {
			if len(item.rows) == 0 {
				continue
			}
			workers.Go(func() error {
				return insertSlice(item.db, table, item.rows, cfg.subBatch)
			})
		}
		consumerDone <- workers.Wait()
	}()

	var producers sync.WaitGroup
	for _, span := range Partition(len(rows), cfg.producers) {
		producers.Add(1)
		go func(span Span) {
			defer producers.Done()
			queue <- workItem[R]{db: db, rows: rows[span.Start:span.End]}
		}(span)
	}
	producers.Wait()
	close(queue)

	if err := <-consumerDone; err != nil {
		m.BatchErrors.WithLabelValues(table.Name).Inc()
		slog.Error("Batch insert failed", "table", table.Name, "rows", len(rows), "error", err)
		return err
	}
	slog.Debug("Batch insert complete", "table", table.Name, "rows", len(rows), "duration", time.Since(start))
	return nil
}

func insertSlice[R any](db Beginner, table Table[R], rows []R, subBatch int) error {
	for off := 0; off < len(rows); off += subBatch {
		end := min(off+subBatch, len(rows))
		if err := insertTx(db, table, rows[off:end]); err != nil {
			return err
		}
		metrics.GetMetrics().RowsInserted.WithLabelValues(table.Name).Add(float64(end - off))
	}
	return nil
}

func insertTx[R any](db Beginner, table Table[R], rows []R) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", table.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(table.InsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert for %s: %w", table.Name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.Exec(table.Args(r)...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", table.Name, err)
	}
	return nil
}
