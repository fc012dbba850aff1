package timeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alextreichler/threadViewer/internal/analysis"
	"github.com/alextreichler/threadViewer/internal/models"
)

// BlockedJumpThreshold is the rise in BLOCKED threads between two snapshots
// that is reported as an event.
const BlockedJumpThreshold = 5

// Snapshot is the status breakdown of one thread dump.
type Snapshot struct {
	FileID     string                      `json:"file_id"`
	Path       string                      `json:"path"`
	CapturedAt time.Time                   `json:"captured_at,omitempty"`
	Counts     map[models.ThreadStatus]int `json:"counts"`
	Total      int                         `json:"total"`
}

// BuildSnapshots folds (file, status, count) cells into one snapshot per
// file, ordered by capture time. Files without a capture time go last, by path.
func BuildSnapshots(cells []models.FileStatusCount) []Snapshot {
	index := make(map[string]int)
	var snaps []Snapshot
	for _, c := range cells {
		i, ok := index[c.FileID]
		if !ok {
			snaps = append(snaps, Snapshot{
				FileID:     c.FileID,
				Path:       c.Path,
				CapturedAt: c.CapturedAt,
				Counts:     make(map[models.ThreadStatus]int),
			})
			i = len(snaps) - 1
			index[c.FileID] = i
		}
		snaps[i].Counts[c.Status] += c.Count
		snaps[i].Total += c.Count
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.CapturedAt.IsZero() != b.CapturedAt.IsZero() {
			return !a.CapturedAt.IsZero()
		}
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
		return a.Path < b.Path
	})
	return snaps
}

// EventType defines the source/type of the event
type EventType string

const (
	EventTypeSnapshot EventType = "Snapshot"
	EventTypeBlocked  EventType = "Blocked"
	EventTypeDeadlock EventType = "Deadlock"
)

type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	Source      string    `json:"source"` // dump file name
	Description string    `json:"description"`
	Level       string    `json:"level"` // "Normal", "Warning", "Critical"
	Details     string    `json:"details,omitempty"`
}

// GenerateTimeline turns snapshots and the lock report into an ordered list
// of events: one per snapshot, one per large rise in blocked threads and one
// per deadlock.
func GenerateTimeline(snaps []Snapshot, locks analysis.LockReport) []TimelineEvent {
	var events []TimelineEvent
	byFile := make(map[string]Snapshot, len(snaps))

	for i, s := range snaps {
		byFile[s.FileID] = s
		source := filepath.Base(s.Path)

		events = append(events, TimelineEvent{
			Timestamp:   s.CapturedAt,
			Type:        EventTypeSnapshot,
			Source:      source,
			Description: fmt.Sprintf("%d threads captured", s.Total),
			Level:       "Normal",
			Details:     countsDetail(s.Counts),
		})

		if i == 0 {
			continue
		}
		prev := snaps[i-1]
		if rise := s.Counts[models.StatusBlocked] - prev.Counts[models.StatusBlocked]; rise >= BlockedJumpThreshold {
			events = append(events, TimelineEvent{
				Timestamp:   s.CapturedAt,
				Type:        EventTypeBlocked,
				Source:      source,
				Description: fmt.Sprintf("Blocked threads rose by %d (from %d to %d)", rise, prev.Counts[models.StatusBlocked], s.Counts[models.StatusBlocked]),
				Level:       "Warning",
			})
		}
	}

	for _, d := range locks.Deadlocks {
		s, ok := byFile[d.FileID]
		if !ok {
			continue
		}
		names := make([]string, len(d.Threads))
		for i, t := range d.Threads {
			names[i] = t.Name
		}
		events = append(events, TimelineEvent{
			Timestamp:   s.CapturedAt,
			Type:        EventTypeDeadlock,
			Source:      filepath.Base(s.Path),
			Description: fmt.Sprintf("Deadlock between %d threads", len(d.Threads)),
			Level:       "Critical",
			Details:     "Threads: " + strings.Join(names, ", ") + "\nLocks: " + strings.Join(d.Locks, ", "),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func countsDetail(counts map[models.ThreadStatus]int) string {
	var parts []string
	for _, st := range models.AllStatuses {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	return strings.Join(parts, " ")
}
