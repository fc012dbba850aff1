package parser

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alextreichler/threadViewer/internal/models"
)

var systemThreadMarkers = []string{
	"VM Thread",
	"VM Periodic Task Thread",
	"GC task thread",
}

// Stanza is the block of lines describing one thread. Line numbers are 1-based.
type Stanza struct {
	Lines     []string
	StartLine int
	EndLine   int
}

// IsSystemThread reports whether a stanza is a header-only VM or GC thread.
func IsSystemThread(lines []string) bool {
	if len(lines) != 1 {
		return false
	}
	for _, marker := range systemThreadMarkers {
		if strings.Contains(lines[0], marker) {
			return true
		}
	}
	return false
}

// SplitStanzas cuts a dump into stanzas: a line containing "nid=" opens one,
// a blank line closes it. Lines outside stanzas are ignored.
func SplitStanzas(r io.Reader) ([]Stanza, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 5*1024*1024)

	var stanzas []Stanza
	var cur *Stanza
	lineNo := 0

	closeCurrent := func(end int) {
		if cur != nil {
			cur.EndLine = end
			stanzas = append(stanzas, *cur)
			cur = nil
		}
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			closeCurrent(lineNo - 1)
			continue
		}
		if strings.Contains(line, "nid=") {
			closeCurrent(lineNo - 1)
			cur = &Stanza{StartLine: lineNo}
		}
		if cur != nil {
			cur.Lines = append(cur.Lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read thread dump: %w", err)
	}
	closeCurrent(lineNo)
	return stanzas, nil
}

// ParseFailure records a stanza that could not be parsed.
type ParseFailure struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Header    string `json:"header"`
	Err       error  `json:"-"`
	Reason    string `json:"reason"`
}

type DumpOptions struct {
	SkipSystemThreads bool
}

type DumpResult struct {
	Threads  []*models.Thread
	Failures []ParseFailure
	Skipped  int
}

// ParseDump parses every stanza of a dump. A bad stanza is recorded in
// Failures and never aborts the rest of the file.
func ParseDump(r io.Reader, opts DumpOptions) (*DumpResult, error) {
	stanzas, err := SplitStanzas(r)
	if err != nil {
		return nil, err
	}

	res := &DumpResult{Threads: make([]*models.Thread, 0, len(stanzas))}
	for _, st := range stanzas {
		if opts.SkipSystemThreads && IsSystemThread(st.Lines) {
			res.Skipped++
			continue
		}
		t, err := ParseThread(st.Lines)
		if err != nil {
			res.Failures = append(res.Failures, ParseFailure{
				StartLine: st.StartLine,
				EndLine:   st.EndLine,
				Header:    st.Lines[0],
				Err:       err,
				Reason:    err.Error(),
			})
			slog.Debug("Skipping malformed stanza", "line", st.StartLine, "error", err)
			continue
		}
		t.StartLine = st.StartLine
		t.EndLine = st.EndLine
		res.Threads = append(res.Threads, t)
	}
	return res, nil
}
