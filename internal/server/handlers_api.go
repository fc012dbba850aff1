package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/downloader"
	"github.com/alextreichler/threadViewer/internal/models"
)

type analyzeRequest struct {
	BundlePath string `json:"bundle_path"`
	URL        string `json:"url"`
}

type analyzeResponse struct {
	TaskID string `json:"task_id"`
}

// handleAnalyze starts a background analysis of a local bundle or a bundle
// URL. The response carries the task id to poll or stream.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			badRequest(w, "failed to parse form")
			return
		}
		req.BundlePath = r.FormValue("bundlePath")
		req.URL = r.FormValue("url")
	}
	if req.BundlePath == "" && req.URL == "" {
		badRequest(w, "bundlePath or url is required")
		return
	}

	name := filepath.Base(req.BundlePath)
	if req.URL != "" {
		name = req.URL
	}
	id := s.tasks.Submit("analyze "+name, func(p *models.ProgressTracker) (string, error) {
		path := req.BundlePath
		if req.URL != "" {
			p.Update(0, "Downloading bundle...")
			dir, err := downloader.FetchAndExtractBundle(req.URL, s.analyze.DataDir)
			if err != nil {
				return "", err
			}
			path = dir
		}
		data, err := cache.New(path, s.store, s.analyze, p)
		if err != nil {
			return "", err
		}
		s.trees.Put(data.Workspace.ID, data.Forest)
		return data.Workspace.ID, nil
	})

	s.logger.Info("Analysis submitted", "task_id", id, "bundle", name)
	respondJSONStatus(w, http.StatusAccepted, analyzeResponse{TaskID: id})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.tasks.List())
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.tasks.Status(r.URL.Query().Get("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, st)
}

func (s *Server) handleTaskRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.tasks.Remove(r.URL.Query().Get("id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// progressHandler streams the progress of one task as server-sent events
// until the task finishes or the client goes away.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.tasks.Tracker(r.URL.Query().Get("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := tracker.Subscribe(32)
	send := func(ev models.ProgressEvent) bool {
		b, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(tracker.Snapshot()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if !send(ev) {
				return
			}
		}
	}
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListWorkspaces()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if list == nil {
		list = []models.Workspace{}
	}
	respondJSON(w, list)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	files, err := s.store.ListDumpFiles(ws)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if files == nil {
		files = []models.DumpFile{}
	}
	respondJSON(w, files)
}

type threadsResponse struct {
	Total   int          `json:"total"`
	Threads []threadView `json:"threads"`
}

// handleThreads lists thread summaries, filtered by ?file=, ?status=
// (comma-separated), ?name= and paged with ?limit= and ?offset=.
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	rows, total, err := s.store.ListThreads(&models.ThreadFilter{
		Workspace: ws,
		FileID:    q.Get("file"),
		Statuses:  statuses,
		Name:      q.Get("name"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := threadsResponse{Total: total, Threads: make([]threadView, len(rows))}
	for i, row := range rows {
		resp.Threads[i] = viewOf(row)
	}
	respondJSON(w, resp)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "id is required")
		return
	}
	t, err := s.store.GetThread(ws, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, t)
}

type compactStackResponse struct {
	ID      string   `json:"id"`
	Codes   []uint32 `json:"codes"`
	Methods []string `json:"methods"`
}

// handleCompactStack serves a thread's call frames from the stored stack
// codes, decoded through the workspace dictionary.
func (s *Server) handleCompactStack(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "id is required")
		return
	}
	packed, err := s.store.GetStackCodes(ws, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	codes, err := dict.UnpackCodes(packed)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dec, err := s.dictionary(ws)
	if err != nil {
		s.respondError(w, err)
		return
	}
	methods, err := dec.DecodeStack(codes)
	if errors.Is(err, dict.ErrUnknownCode) {
		// The dictionary was read before the analysis finished writing it.
		s.dicts.Delete(ws)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, compactStackResponse{ID: id, Codes: codes, Methods: methods})
}

// dictionary restores a workspace's code table once and keeps it.
func (s *Server) dictionary(ws string) (*dict.Encoder, error) {
	if dec, ok := s.dicts.Load(ws); ok {
		return dec, nil
	}
	entries, err := s.store.LoadDictionary(ws)
	if err != nil {
		return nil, err
	}
	dec, err := dict.Restore(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to restore dictionary of %s: %w", ws, err)
	}
	actual, _ := s.dicts.LoadOrStore(ws, dec)
	return actual, nil
}

func (s *Server) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	counts, err := s.store.CountThreadStatus(ws, r.URL.Query().Get("file"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, counts)
}
