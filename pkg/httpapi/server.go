// Package httpapi serves the latest stream summary, liveness and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"qstream/pkg/engine"
	"qstream/pkg/observability"
	"qstream/pkg/protocol"
)

// SummarySource is satisfied by engine.Hub.
type SummarySource interface {
	Latest() (engine.Summary, bool)
}

type Server struct {
	server  *http.Server
	router  *mux.Router
	source  SummarySource
	state   func() string
	logger  zerolog.Logger
	started time.Time
}

// NewServer builds the API. state may be nil.
func NewServer(addr string, source SummarySource, state func() string, logger zerolog.Logger) *Server {
	router := mux.NewRouter()
	if state == nil {
		state = func() string { return "unknown" }
	}
	s := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		router:  router,
		source:  source,
		state:   state,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		started: time.Now(),
	}

	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/summary", s.getSummary).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/summary/{type}", s.getTypeSummary).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	observability.RegisterMetrics()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		observability.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", r.RemoteAddr).
			Int("status", rw.statusCode).
			Int("response_size", rw.size).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "ok",
		"stream":         s.state(),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.source.Latest()
	if !ok {
		http.Error(w, "no summary yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) getTypeSummary(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]
	channelType, ok := parseChannelType(name)
	if !ok {
		http.Error(w, "unknown channel type", http.StatusBadRequest)
		return
	}
	summary, ok := s.source.Latest()
	if !ok {
		http.Error(w, "no summary yet", http.StatusNotFound)
		return
	}
	typeSummary, ok := summary.Channels[channelType]
	if !ok {
		http.Error(w, "no frames of this type in the last window", http.StatusNotFound)
		return
	}
	s.writeJSON(w, typeSummary)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func parseChannelType(name string) (protocol.ChannelType, bool) {
	for _, t := range protocol.DecodableChannelTypes {
		if t.String() == name {
			return t, true
		}
	}
	return protocol.ChannelUnsupported, false
}
