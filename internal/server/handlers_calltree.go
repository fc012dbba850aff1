package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/alextreichler/threadViewer/internal/calltree"
)

const defaultHotPaths = 20

func (s *Server) forest(r *http.Request) (*calltree.Forest, error) {
	ws, err := s.workspace(r)
	if err != nil {
		return nil, err
	}
	return s.trees.GetOrBuild(ws)
}

// handleCallTree returns the flame-graph view of the call tree, cut at
// ?depth= levels (0 means the whole tree).
func (s *Server) handleCallTree(w http.ResponseWriter, r *http.Request) {
	depth, err := intParam(r, "depth", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	f, err := s.forest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, f.ToFlame(depth))
}

func (s *Server) handleHotPaths(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", defaultHotPaths)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	f, err := s.forest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	paths := f.HotPaths(top)
	if paths == nil {
		paths = []calltree.HotPath{}
	}
	respondJSON(w, paths)
}

// handleCollapsed serves folded stacks, ready for flamegraph.pl or speedscope.
func (s *Server) handleCollapsed(w http.ResponseWriter, r *http.Request) {
	f, err := s.forest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	lines := f.Collapsed()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		s.logger.Error("Failed to write collapsed stacks", "error", err)
	}
}
