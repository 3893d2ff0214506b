// Package server exposes the live rate history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/history"
	"codeberg.org/mutker/cemctl/internal/logger"
	"codeberg.org/mutker/cemctl/internal/telemetry"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 10000
	shutdownTimeout   = 5 * time.Second
)

// EventSource serves recorded events, newest first.
type EventSource interface {
	Events(ctx context.Context, pair string, limit int) ([]telemetry.Event, error)
}

type Server struct {
	store  *history.Store
	events EventSource
	log    logger.Logger
	router chi.Router
}

// New builds the router. events may be nil, in which case /events is not
// served.
func New(store *history.Store, events EventSource, log logger.Logger) *Server {
	s := &Server{
		store:  store,
		events: events,
		log:    log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/status", s.handleStatus)
	r.Get("/history/{pair}", s.handleHistory)
	if events != nil {
		r.Get("/events/{pair}", s.handleEvents)
	}
	r.Get("/routes", s.handleRoutes)

	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Routes lists the bound routes as "METHOD /path".
func (s *Server) Routes() []string {
	var routes []string
	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	sort.Strings(routes)

	return routes
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info().Str("addr", addr).Msg("Status server listening")

	select {
	case err := <-errCh:
		return errFactory.Wrap(errors.ErrOperationFailed, err).WithData(addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Pairs map[string]telemetry.Event `json:"pairs"`
	}{
		Pairs: s.store.Latest(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "pair")

	points, ok := s.store.Points(pair)
	if !ok {
		http.Error(w, "unknown pair "+strconv.Quote(pair), http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		Pair   string          `json:"pair"`
		Points []history.Point `json:"points"`
	}{
		Pair:   pair,
		Points: points,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "pair")

	limit := defaultEventLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > maxEventLimit {
			http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxEventLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.events.Events(r.Context(), pair, limit)
	if err != nil {
		s.log.ErrorWithCode(err).Str("pair", pair).Msg("Failed to query events")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []telemetry.Event{}
	}

	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Routes())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
