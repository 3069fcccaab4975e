package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"filecompare/pkg/compat"
	"filecompare/pkg/config"
	"filecompare/pkg/engine"
	"filecompare/pkg/history"
	"filecompare/pkg/metrics"
	"filecompare/pkg/table"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPHost        = "127.0.0.1"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	defaultListLimit       = 50
)

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	File1         string `json:"file1"`
	File2         string `json:"file2"`
	Column1       string `json:"column1"`
	Column2       string `json:"column2"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// Server exposes comparisons over HTTP.
type Server struct {
	cfg        config.Config
	runs       *runManager
	history    iHistory
	registry   *metrics.Registry
	paths      dataDir
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a server whose runs use cfg's engine settings and
// report into registry. Request paths are confined to cfg.Server.DataDir.
func NewServer(cfg config.Config, registry *metrics.Registry) (*Server, error) {
	host, port := defaultHTTPHost, defaultHTTPPort
	if cfg.Server.Host != "" {
		host = cfg.Server.Host
	}
	if cfg.Server.Port > 0 {
		port = strconv.Itoa(cfg.Server.Port)
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	paths, err := newDataDir(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	opts := cfg.EngineOptions()
	opts.Metrics = registry
	addr := net.JoinHostPort(host, port)
	return &Server{
		cfg:      cfg,
		runs:     newRunManager(opts, cfg.Server.MaxRuns, paths),
		registry: registry,
		paths:    paths,
		URL:      "http://" + addr,
		addr:     addr,
	}, nil
}

// SetHistory persists finished runs to h and serves GET /api/runs from it.
func (s *Server) SetHistory(h iHistory) {
	s.history = h
	s.runs.history = h
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop cancels active runs and stops the server.
func (s *Server) Stop() error {
	s.runs.shutdown()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.registry.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/compare", s.handleCompare)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Delete("/runs/{id}", s.handleCancelRun)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	timeout := s.cfg.Server.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: timeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL, "data_dir", s.paths.root)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errorStatus(err), NewErrorResponse(err.Error()))
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var parseErr *table.ParseError
	switch {
	case errors.Is(err, table.ErrNotFound), errors.Is(err, ErrRunNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidConfiguration),
		errors.Is(err, table.ErrColumnNotFound),
		errors.Is(err, table.ErrUnsupportedFormat),
		errors.Is(err, ErrPathNotAllowed),
		errors.As(err, &parseErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidConfiguration, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	path1, err := s.paths.resolve(req.File1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	path2, err := s.paths.resolve(req.File2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	t1, err := table.Open(path1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	t2, err := table.Open(path2)
	if err != nil {
		s.writeError(w, err)
		return
	}

	verdict, err := compat.Analyze(r.Context(), t1, req.Column1, t2, req.Column2, s.cfg.AnalyzeOptions(req.CaseSensitive))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewVerdictResponse(verdict))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	run, err := s.runs.start(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, NewRunResponse(run.view()))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if run, ok := s.runs.get(id); ok {
		s.writeJSON(w, http.StatusOK, NewRunResponse(run.view()))
		return
	}
	if s.history == nil {
		s.writeError(w, fmt.Errorf("%w: %s", ErrRunNotFound, id))
		return
	}

	rec, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewRunResponse(historyView(rec)))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, NewRunResponse(run.view()))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("invalid limit"))
			return
		}
		limit = n
	}

	if s.history == nil {
		views := s.runs.list()
		if limit > 0 && len(views) > limit {
			views = views[:limit]
		}
		s.writeJSON(w, http.StatusOK, NewRunsResponse(views))
		return
	}

	recs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]RunView, len(recs))
	for i, rec := range recs {
		views[i] = historyView(rec)
	}
	s.writeJSON(w, http.StatusOK, NewRunsResponse(views))
}
