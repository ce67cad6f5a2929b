package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	"EnigmaNetz/Enigma-Spool/config"
	"EnigmaNetz/Enigma-Spool/internal/logger"
	"EnigmaNetz/Enigma-Spool/internal/metrics"
	"EnigmaNetz/Enigma-Spool/internal/query"
)

const (
	contentTypePcap = "application/vnd.tcpdump.pcap"
	msgNoPackets    = "No packets found."
	msgServerError  = "An error occurred. See server logs for details"
)

// Registry resolves spool names.
type Registry interface {
	GetSpool(name string) (config.SpoolConfig, bool)
	SpoolNames() []string
}

// Server is the fetch HTTP server.
type Server struct {
	registry     Registry
	orchestrator *Orchestrator
	users        map[string]string
	log          *logger.Logger
	router       *httprouter.Router
}

// NewServer creates a server. users maps user names to bcrypt hashes; when
// empty, no authentication is required.
func NewServer(registry Registry, worker Worker, users map[string]string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		registry:     registry,
		orchestrator: NewOrchestrator(worker, log),
		users:        users,
		log:          log,
		router:       httprouter.New(),
	}
	s.router.GET("/fetch", s.handleFetch)
	s.router.POST("/fetch", s.handleFetch)
	s.router.GET("/api/spools", s.handleSpools)
	s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	return s
}

// Handler returns the HTTP handler with logging and auth middleware.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.authMiddleware(s.router))
}

// ListenAndServe serves on addr until ctx is cancelled. TLS is used when
// both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			s.log.Info("Listening on https://%s", addr)
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			s.log.Info("Listening on http://%s", addr)
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleSpools(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names := s.registry.SpoolNames()
	if names == nil {
		names = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(names); err != nil {
		s.log.Warn("Failed to write spool list: %v", err)
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseForm(); err != nil {
		s.sendError(w, &query.ValidationError{Reason: "bad request", Err: err})
		return
	}
	req := query.RequestFromValues(r.Form)

	spool, ok := s.registry.GetSpool(req.Spool)
	if !ok {
		s.sendError(w, &query.ValidationError{
			Reason: "invalid spool name",
			Err:    fmt.Errorf("no spool with the name %q", req.Spool),
		})
		return
	}
	q, err := query.Translate(req)
	if err != nil {
		s.sendError(w, err)
		return
	}

	job := Job{
		ID:        uuid.NewString(),
		Directory: spool.Directory,
		Prefix:    spool.Prefix,
		Query:     q,
	}
	s.log.Info("Fetch %s: spool=%s start=%s duration=%s filter=%q",
		job.ID, spool.Name, q.StartTime.UTC().Format(time.RFC3339), q.Duration, q.Filter)

	stream := s.orchestrator.Start(r.Context(), job)
	status := <-stream.Status()
	metrics.RecordFetch(status.String())

	switch status {
	case StatusNoPacket:
		s.sendError(w, ErrNoPackets)
		return
	case StatusError:
		s.sendError(w, errors.New("export failed"))
		return
	}

	w.Header().Set("Content-Type", contentTypePcap)
	w.Header().Set("Content-Disposition", "attachment; filename="+q.OutputName)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	for chunk := range stream.Body() {
		if _, err := w.Write(chunk); err != nil {
			s.log.Warn("Fetch %s: failed to write to client: %v", job.ID, err)
			stream.Abort()
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			stream.Abort()
			break
		}
	}
	// Let the orchestrator finish if we bailed out early.
	for range stream.Body() {
	}
}

// sendError maps an error to a response. Only fixed messages reach the
// client; the detail is logged.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	var verr *query.ValidationError
	switch {
	case errors.As(err, &verr):
		s.log.Warn("Rejected fetch request: %v", err)
		http.Error(w, verr.Reason, http.StatusBadRequest)
	case errors.Is(err, ErrNoPackets):
		http.Error(w, msgNoPackets, http.StatusNotFound)
	default:
		http.Error(w, msgServerError, http.StatusInternalServerError)
	}
}

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		metrics.RecordHTTPRequest(r.Method, s.routeLabel(r), rw.statusCode)
		s.log.Info("%s %s %d %dB %s", r.Method, r.URL.Path, rw.statusCode, rw.bytes, time.Since(start).Round(time.Millisecond))
	})
}

// routeLabel is the registered route a request maps to, or "other". Raw
// paths are client-controlled and must not become metric labels.
func (s *Server) routeLabel(r *http.Request) string {
	if handle, _, _ := s.router.Lookup(r.Method, r.URL.Path); handle != nil {
		return r.URL.Path
	}
	return "other"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if len(s.users) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		user, password, ok := r.BasicAuth()
		if ok {
			if hash, found := s.users[user]; found &&
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
				next.ServeHTTP(w, r)
				return
			}
			s.log.Warn("Authentication failed for user %q", user)
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="enigma-spool"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
