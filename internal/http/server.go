package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sitekv/pkg/backup"
	"sitekv/pkg/dberrors"
	"sitekv/pkg/record"
	"sitekv/pkg/store"
)

const (
	contentTypeJSON          = "application/json"
	contentTypeOctetStream   = "application/octet-stream"
	contentTypeZstd          = "application/zstd"
	defaultHTTPPort          = "8080"
	defaultShutdownTimeout   = time.Second * 5
	defaultReadHeaderTimeout = time.Second * 5
)

type iStoreAPI interface {
	Get(tenant, key string) ([]byte, error)
	Set(tenant, key string, value []byte) error
	Delete(tenant, key string) error
	Usage(tenant string) (int64, error)
	QuotaFor(tenant string) int64
	Tenants() []store.TenantUsage
	Backup(w io.Writer) (backup.Stats, error)
}

// Server represents the HTTP server over a store.
type Server struct {
	store      iStoreAPI
	metrics    http.Handler
	httpServer *http.Server
	URL        string
	addr       string

	readHeaderTimeout time.Duration
	maxValueBytes     int64
}

// NewServer creates a new server instance
func NewServer(store iStoreAPI, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		store:             store,
		URL:               "http://localhost:" + port,
		addr:              ":" + port,
		readHeaderTimeout: defaultReadHeaderTimeout,
		maxValueBytes:     record.DefaultMaxValue,
	}
}

// SetMetrics serves h on GET /metrics.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

func (s *Server) SetReadHeaderTimeout(d time.Duration) {
	if d > 0 {
		s.readHeaderTimeout = d
	}
}

// SetMaxValueBytes bounds how much of a PUT body is read.
func (s *Server) SetMaxValueBytes(n int) {
	if n > 0 {
		s.maxValueBytes = int64(n)
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.createRouter()
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/admin/backup", s.handleBackup)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tenants", s.handleTenants)
		r.Get("/{tenant}/usage", s.handleUsage)
		r.Get("/{tenant}/kv/{key}", s.handleGet)
		r.Put("/{tenant}/kv/{key}", s.handlePut)
		r.Delete("/{tenant}/kv/{key}", s.handleDelete)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("store operation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error(), requestIDFrom(r.Context())))
}

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dberrors.ErrInvalidTenant),
		errors.Is(err, dberrors.ErrInvalidKey),
		errors.Is(err, dberrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dberrors.ErrValueTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dberrors.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, dberrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dberrors.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("metrics are not enabled", requestIDFrom(r.Context())))
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, TenantsResponse{
		Status:  StatusSuccess,
		Tenants: s.store.Tenants(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	used, err := s.store.Usage(tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UsageResponse{
		Status: StatusSuccess,
		Tenant: tenant,
		Bytes:  used,
		Quota:  s.store.QuotaFor(tenant),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	value, err := s.store.Get(chi.URLParam(r, "tenant"), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeOctetStream)
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		slog.Warn("Failed to write value", "error", err)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	// One byte past the limit is enough for the store to reject the value.
	value, err := io.ReadAll(io.LimitReader(r.Body, s.maxValueBytes+1))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body", requestIDFrom(r.Context())))
		return
	}

	if err := s.store.Set(chi.URLParam(r, "tenant"), chi.URLParam(r, "key"), value); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "tenant"), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

// handleBackup streams the archive directly; a failure after the first byte
// can only be reported by cutting the response short.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeZstd)
	w.Header().Set("Content-Disposition", `attachment; filename="sitekv.wal.zst"`)

	cw := &committedWriter{w: w}
	if _, err := s.store.Backup(cw); err != nil {
		if !cw.committed {
			w.Header().Del("Content-Disposition")
			s.writeError(w, r, err)
			return
		}
		slog.Error("backup aborted mid-stream",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		panic(http.ErrAbortHandler)
	}
}

// committedWriter records whether anything reached the client.
type committedWriter struct {
	w         io.Writer
	committed bool
}

func (c *committedWriter) Write(p []byte) (int, error) {
	c.committed = true
	return c.w.Write(p)
}
