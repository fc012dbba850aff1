package models

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type FileType string

const (
	FileCpuThread  FileType = "cpu_thread"
	FileCpuTop     FileType = "cpu_top"
	FileThreadDump FileType = "thread_dump"
	FileGc         FileType = "gc"
	FileGcUtil     FileType = "gc_util"
	FileOther      FileType = "other"
)

// FileKeywords holds the filename fragments used to classify bundle files.
type FileKeywords struct {
	CpuThread  string `toml:"cpu_thread"`
	CpuTop     string `toml:"cpu_top"`
	ThreadDump string `toml:"thread_dump"`
	Gc         string `toml:"gc"`
	GcUtil     string `toml:"gc_util"`
}

func DefaultFileKeywords() FileKeywords {
	return FileKeywords{
		CpuThread:  "cpu_thread",
		CpuTop:     "cpu_top",
		ThreadDump: "jstack",
		Gc:         "gc",
		GcUtil:     "gcutil",
	}
}

var captureTimeRegex = regexp.MustCompile(`(\d{8}_\d{6})`)

const captureTimeLayout = "20060102_150405"

// ClassifyFile picks the file type from the base name. Order matters: "gcutil"
// contains "gc", so the more specific keywords are checked first.
func ClassifyFile(path string, kw FileKeywords) FileType {
	name := filepath.Base(path)
	switch {
	case kw.CpuThread != "" && strings.Contains(name, kw.CpuThread):
		return FileCpuThread
	case kw.CpuTop != "" && strings.Contains(name, kw.CpuTop):
		return FileCpuTop
	case kw.ThreadDump != "" && strings.Contains(name, kw.ThreadDump):
		return FileThreadDump
	case kw.GcUtil != "" && strings.Contains(name, kw.GcUtil):
		return FileGcUtil
	case kw.Gc != "" && strings.Contains(name, kw.Gc):
		return FileGc
	default:
		return FileOther
	}
}

// CaptureTime extracts the yyyyMMdd_HHmmss stamp embedded in a file name.
func CaptureTime(path string) (time.Time, bool) {
	m := captureTimeRegex.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(captureTimeLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type DumpFile struct {
	ID         string    `json:"id"`
	Workspace  string    `json:"workspace"`
	Path       string    `json:"path"`
	Type       FileType  `json:"file_type"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadRow is the persisted form of a Thread.
type ThreadRow struct {
	ID         string
	Workspace  string
	FileID     string
	ThreadID   string
	Name       string
	Daemon     bool
	Prio       *int
	OsPrio     int
	Tid        uint64
	Nid        uint64
	Address    string
	Status     ThreadStatus
	StartLine  int
	EndLine    int
	MethodName string
	StackCodes []byte
}

// StackRow is one persisted frame of a thread.
type StackRow struct {
	ID         string
	Workspace  string
	ThreadRow  string
	Depth      int
	ClassName  string
	MethodName string
	MethodLine int
	Status     string
}

type ThreadFilter struct {
	Workspace string
	FileID    string
	Statuses  []ThreadStatus
	Name      string
	Limit     int
	Offset    int
}

type StatusCount struct {
	Status ThreadStatus `json:"status"`
	Count  int          `json:"count"`
}

// FileStatusCount is one (snapshot, status) cell of the status timeline.
type FileStatusCount struct {
	FileID     string
	Path       string
	CapturedAt time.Time
	Status     ThreadStatus
	Count      int
}

// MethodMatch is one ranked method-name search hit.
type MethodMatch struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Distance int     `json:"distance,omitempty"`
}
