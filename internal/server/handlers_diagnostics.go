package server

import (
	"net/http"

	"github.com/alextreichler/threadViewer/internal/analysis"
	"github.com/alextreichler/threadViewer/internal/diagnostics"
	"github.com/alextreichler/threadViewer/internal/logutil"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/timeline"
)

// handleLocks reports lock owners, waiters, blocked chains and deadlocks,
// optionally for one dump file.
func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	threads, err := s.loadThreads(ws, r.URL.Query().Get("file"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, analysis.AnalyzeLocks(threads))
}

// handleStackGroups groups threads with identical stacks. ?status= narrows
// the threads considered.
func (s *Server) handleStackGroups(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	threads, err := s.loadThreads(ws, r.URL.Query().Get("file"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if len(statuses) > 0 {
		keep := make(map[models.ThreadStatus]bool, len(statuses))
		for _, st := range statuses {
			keep[st] = true
		}
		filtered := threads[:0]
		for _, t := range threads {
			if keep[t.Status] {
				filtered = append(filtered, t)
			}
		}
		threads = filtered
	}

	groups := logutil.GroupByStack(threads)
	if groups == nil {
		groups = []logutil.StackGroup{}
	}
	respondJSON(w, groups)
}

// handleHealth runs the thread-dump health checks over a workspace.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
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
	threads, err := s.store.LoadStacks(ws)
	if err != nil {
		s.respondError(w, err)
		return
	}
	report := diagnostics.Audit(threads, timeline.BuildSnapshots(cells))
	respondJSON(w, healthResponse{Worst: report.Worst(), Results: report.Results})
}

type healthResponse struct {
	Worst   diagnostics.Severity      `json:"worst"`
	Results []diagnostics.CheckResult `json:"results"`
}
