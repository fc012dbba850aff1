package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/store"
	"github.com/alextreichler/threadViewer/internal/task"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps well-known sentinel errors to HTTP status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, task.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrRunning):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	respondJSONStatus(w, status, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSONStatus(w, http.StatusBadRequest, errorBody{Error: msg})
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// parseStatuses reads a comma-separated list of JVM state names.
func parseStatuses(raw string) ([]models.ThreadStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.ThreadStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		st, ok := models.ParseThreadStatus(part)
		if !ok {
			return nil, fmt.Errorf("unknown thread status %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

// workspace resolves the ?workspace= parameter, falling back to the most
// recently analyzed workspace.
func (s *Server) workspace(r *http.Request) (string, error) {
	id := r.URL.Query().Get("workspace")
	if id == "" {
		latest, err := s.store.GetMetadata(cache.LatestWorkspaceKey)
		if err != nil {
			return "", fmt.Errorf("no workspace analyzed yet: %w", err)
		}
		id = latest
	}
	ws, err := s.store.GetWorkspace(id)
	if err != nil {
		return "", err
	}
	return ws.ID, nil
}

// loadThreads returns the threads of a workspace with frames, optionally
// restricted to one dump file.
func (s *Server) loadThreads(workspace, fileID string) ([]*models.Thread, error) {
	threads, err := s.store.LoadStacks(workspace)
	if err != nil {
		return nil, err
	}
	if fileID == "" {
		return threads, nil
	}
	out := threads[:0]
	for _, t := range threads {
		if t.FileID == fileID {
			out = append(out, t)
		}
	}
	return out, nil
}

type threadView struct {
	ID        string              `json:"id"`
	ThreadID  string              `json:"thread_id,omitempty"`
	FileID    string              `json:"file_id"`
	Name      string              `json:"name"`
	Daemon    bool                `json:"daemon"`
	Prio      *int                `json:"prio,omitempty"`
	OsPrio    int                 `json:"os_prio"`
	Tid       string              `json:"tid"`
	Nid       string              `json:"nid"`
	Address   string              `json:"address,omitempty"`
	Status    models.ThreadStatus `json:"status"`
	StartLine int                 `json:"start_line"`
	EndLine   int                 `json:"end_line"`
	TopMethod string              `json:"top_method,omitempty"`
}

func viewOf(r models.ThreadRow) threadView {
	return threadView{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		FileID:    r.FileID,
		Name:      r.Name,
		Daemon:    r.Daemon,
		Prio:      r.Prio,
		OsPrio:    r.OsPrio,
		Tid:       fmt.Sprintf("0x%x", r.Tid),
		Nid:       fmt.Sprintf("0x%x", r.Nid),
		Address:   r.Address,
		Status:    r.Status,
		StartLine: r.StartLine,
		EndLine:   r.EndLine,
		TopMethod: r.MethodName,
	}
}
