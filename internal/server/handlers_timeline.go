package server

import (
	"net/http"

	"github.com/alextreichler/threadViewer/internal/analysis"
	"github.com/alextreichler/threadViewer/internal/timeline"
)

type timelineResponse struct {
	Snapshots []timeline.Snapshot      `json:"snapshots"`
	Events    []timeline.TimelineEvent `json:"events"`
}

func (s *Server) apiTimelineHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	cells, err := s.store.StatusTimeline(ws)
	if err != nil {
		s.respondError(w, err)
		return
	}
	snaps := timeline.BuildSnapshots(cells)

	// Deadlocks are placed on the timeline too; a failed stack load only
	// drops those events.
	var report analysis.LockReport
	if threads, err := s.store.LoadStacks(ws); err != nil {
		s.logger.Warn("Failed to load stacks for timeline", "workspace", ws, "error", err)
	} else {
		report = analysis.AnalyzeLocks(threads)
	}

	resp := timelineResponse{
		Snapshots: snaps,
		Events:    timeline.GenerateTimeline(snaps, report),
	}
	if resp.Snapshots == nil {
		resp.Snapshots = []timeline.Snapshot{}
	}
	if resp.Events == nil {
		resp.Events = []timeline.TimelineEvent{}
	}
	respondJSON(w, resp)
}
