package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/alextreichler/threadViewer/internal/metrics"
	"github.com/alextreichler/threadViewer/internal/models"
)

// FileResult is the outcome of parsing one dump file.
type FileResult struct {
	File   models.DumpFile
	Result *DumpResult
	Err    error
}

// ParseDumpFile opens and parses a single thread-dump file.
func ParseDumpFile(path string, opts DumpOptions) (*DumpResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ParseDump(f, opts)
}

// ParseThreadDumps parses the thread-dump files concurrently, at most one file
// per CPU at a time. Results keep the input order; a failing file only sets
// its own Err.
func ParseThreadDumps(files []models.DumpFile, opts DumpOptions) []FileResult {
	results := make([]FileResult, len(files))
	m := metrics.GetMetrics()

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.NumCPU())

	for i, file := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file models.DumpFile) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := ParseDumpFile(file.Path, opts)
			results[i] = FileResult{File: file, Result: res, Err: err}
			if err != nil {
				slog.Error("Error parsing thread dump", "path", file.Path, "error", err)
				return
			}

			m.ThreadsParsed.WithLabelValues(string(file.Type)).Add(float64(len(res.Threads)))
			for _, f := range res.Failures {
				m.StanzaFailures.WithLabelValues(failureReason(f.Err)).Inc()
			}
			slog.Info("Parsed thread dump", "file", filepath.Base(file.Path),
				"threads", len(res.Threads), "failures", len(res.Failures), "skipped", res.Skipped)
		}(i, file)
	}
	wg.Wait()
	return results
}

func failureReason(err error) string {
	for _, kind := range []error{ErrMissingField, ErrParseInt, ErrInvalidStatus, ErrIllegalStatus, ErrUnknownFrame, ErrParse} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "other"
}
