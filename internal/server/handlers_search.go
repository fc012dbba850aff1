package server

import (
	"net/http"
	"strings"

	"github.com/alextreichler/threadViewer/internal/models"
)

type methodSearchResponse struct {
	Query   string               `json:"query"`
	Matches []models.MethodMatch `json:"matches"`
}

// handleMethodSearch searches the method-name index. ?q= accepts plain text,
// FTS syntax or * and ? wildcards; ?fuzzy=N ranks by edit distance instead.
func (s *Server) handleMethodSearch(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspace(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		badRequest(w, "q is required")
		return
	}
	fuzzy, err := intParam(r, "fuzzy", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	matches, err := s.store.SearchMethods(ws, query, fuzzy, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if matches == nil {
		matches = []models.MethodMatch{}
	}
	respondJSON(w, methodSearchResponse{Query: query, Matches: matches})
}
