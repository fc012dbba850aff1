package server

import (
	"compress/gzip"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/store"
	"github.com/alextreichler/threadViewer/internal/task"
)

const authCookie = "tv_token"

// SecurityHeadersMiddleware adds security-related headers
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

// Flush keeps server-sent events working through the gzip writer.
func (w gzipResponseWriter) Flush() {
	if gz, ok := w.Writer.(*gzip.Writer); ok {
		_ = gz.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzip.NewWriter(w)
		defer func() { _ = gz.Close() }()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

// Config wires the server to its collaborators.
type Config struct {
	Store   store.Store
	Trees   *cache.TreeCache
	Tasks   *task.Executor
	Analyze cache.Options
	Logger  *slog.Logger

	AuthToken         string
	ShutdownTimeout   time.Duration
	InactivityTimeout time.Duration
	// OnTimeout is called once when a shutdown or inactivity timeout fires.
	OnTimeout func()
}

type Server struct {
	store   store.Store
	trees   *cache.TreeCache
	tasks   *task.Executor
	analyze cache.Options
	logger  *slog.Logger
	handler http.Handler
	// dicts holds restored stack dictionaries per workspace.
	dicts *xsync.Map[string, *dict.Encoder]

	authToken         string
	shutdownTimeout   time.Duration
	inactivityTimeout time.Duration
	onTimeout         func()
	lastHeartbeat     int64 // Unix timestamp
	stopWatcher       chan struct{}
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server needs a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tasks == nil {
		cfg.Tasks = task.NewExecutor()
	}
	if cfg.Trees == nil {
		trees, err := cache.NewTreeCache(16, cache.StoreLoader(cfg.Store, cfg.Analyze.TreeWorkers, cfg.Analyze.TreeOptions()...))
		if err != nil {
			return nil, err
		}
		cfg.Trees = trees
	}

	server := &Server{
		store:             cfg.Store,
		trees:             cfg.Trees,
		tasks:             cfg.Tasks,
		analyze:           cfg.Analyze,
		logger:            cfg.Logger.With("component", "server"),
		dicts:             xsync.NewMap[string, *dict.Encoder](),
		authToken:         cfg.AuthToken,
		shutdownTimeout:   cfg.ShutdownTimeout,
		inactivityTimeout: cfg.InactivityTimeout,
		onTimeout:         cfg.OnTimeout,
		lastHeartbeat:     time.Now().Unix(),
		stopWatcher:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", server.handleAnalyze)
	mux.HandleFunc("/api/tasks", server.handleTasks)
	mux.HandleFunc("/api/tasks/status", server.handleTaskStatus)
	mux.HandleFunc("/api/tasks/remove", server.handleTaskRemove)
	mux.HandleFunc("/api/load-progress", server.progressHandler)
	mux.HandleFunc("/api/heartbeat", server.heartbeatHandler)

	mux.HandleFunc("/api/workspaces", server.handleWorkspaces)
	mux.HandleFunc("/api/files", server.handleFiles)
	mux.HandleFunc("/api/threads", server.handleThreads)
	mux.HandleFunc("/api/thread", server.handleThread)
	mux.HandleFunc("/api/thread/stack", server.handleCompactStack)
	mux.HandleFunc("/api/status-counts", server.handleStatusCounts)
	mux.HandleFunc("/api/timeline", server.apiTimelineHandler)

	mux.HandleFunc("/api/calltree", server.handleCallTree)
	mux.HandleFunc("/api/hotpaths", server.handleHotPaths)
	mux.HandleFunc("/api/collapsed", server.handleCollapsed)
	mux.HandleFunc("/api/methods/search", server.handleMethodSearch)

	mux.HandleFunc("/api/locks", server.handleLocks)
	mux.HandleFunc("/api/stack-groups", server.handleStackGroups)
	mux.HandleFunc("/api/health", server.handleHealth)

	mux.Handle("/metrics", metricsHandler())

	// Order: Auth -> Gzip -> Security -> Mux
	var handler http.Handler = mux
	handler = SecurityHeadersMiddleware(handler)
	handler = GzipMiddleware(handler)
	handler = server.AuthMiddleware(handler)
	server.handler = handler

	server.startTimeoutWatcher()
	return server, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	atomic.StoreInt64(&s.lastHeartbeat, time.Now().Unix())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startTimeoutWatcher() {
	if s.shutdownTimeout == 0 && s.inactivityTimeout == 0 {
		return
	}

	startTime := time.Now()
	interval := 30 * time.Second
	if s.inactivityTimeout > 0 && s.inactivityTimeout < interval {
		interval = s.inactivityTimeout
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stopWatcher:
				return
			case now := <-ticker.C:
				if s.shutdownTimeout > 0 && now.Sub(startTime) > s.shutdownTimeout {
					s.logger.Info("Hard shutdown timeout reached. Shutting down...", "timeout", s.shutdownTimeout)
					s.fireTimeout()
					return
				}
				if s.inactivityTimeout > 0 {
					last := atomic.LoadInt64(&s.lastHeartbeat)
					if now.Unix()-last > int64(s.inactivityTimeout.Seconds()) {
						s.logger.Info("Inactivity timeout reached. Shutting down...", "timeout", s.inactivityTimeout)
						s.fireTimeout()
						return
					}
				}
			}
		}
	}()
}

func (s *Server) fireTimeout() {
	if s.onTimeout != nil {
		s.onTimeout()
	}
}

// AuthMiddleware checks for a valid auth token if configured. A token passed
// as ?token= is moved into a cookie.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if token == s.authToken {
			http.SetCookie(w, &http.Cookie{
				Name:     authCookie,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   3600 * 24,
			})

			q := r.URL.Query()
			q.Del("token")
			r.URL.RawQuery = q.Encode()
			http.Redirect(w, r, r.URL.String(), http.StatusFound)
			return
		}

		if bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); bearer == s.authToken {
			next.ServeHTTP(w, r)
			return
		}
		if cookie, err := r.Cookie(authCookie); err == nil && cookie.Value == s.authToken {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Unauthorized: Valid token required via ?token=..., bearer header or cookie", http.StatusUnauthorized)
	})
}

// Shutdown stops the timeout watcher and waits for running analysis tasks.
// The store is owned by the caller.
func (s *Server) Shutdown() {
	s.logger.Info("Shutting down server, waiting for running tasks...")
	select {
	case <-s.stopWatcher:
	default:
		close(s.stopWatcher)
	}
	s.tasks.Wait()
}
