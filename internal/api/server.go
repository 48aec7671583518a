package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imageserver/internal/config"
	"imageserver/internal/dispatch"
	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/maintenance"
	"imageserver/internal/storage"
)

// Server exposes the image pipeline over HTTP.
type Server struct {
	bind       string
	token      string
	store      *images.Store
	disks      *storage.Set
	dispatcher dispatch.Dispatcher
	deleter    *maintenance.Deleter
	logger     *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer wires the HTTP API.
func NewServer(cfg *config.Config, store *images.Store, disks *storage.Set, dispatcher dispatch.Dispatcher, deleter *maintenance.Deleter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		bind:       cfg.API.Bind,
		token:      strings.TrimSpace(cfg.API.Token),
		store:      store,
		disks:      disks,
		dispatcher: dispatcher,
		deleter:    deleter,
		logger:     logger.With(logging.String(logging.FieldComponent, "api-server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/images", srv.requireAuth(srv.handleImages))
	mux.HandleFunc("/api/images/", srv.requireAuth(srv.handleImage))
	mux.HandleFunc("/api/status", srv.requireAuth(srv.handleStatus))
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler returns the configured HTTP handler (used in tests).
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header != "Bearer "+s.token {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "url must be a valid http or https URL")
		return
	}

	rec, created, err := s.store.Create(r.Context(), rawURL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if created {
		if err := s.dispatcher.Dispatch(r.Context(), rec.ID); err != nil {
			s.logger.Error("dispatch failed",
				logging.Int64(logging.FieldImageID, rec.ID),
				logging.Error(err))
		}
		// Re-read: sync dispatch may already have advanced the record.
		if fresh, err := s.store.GetByID(r.Context(), rec.ID); err == nil {
			rec = fresh
		}
		s.writeJSON(w, http.StatusCreated, FromRecord(s.disks, rec))
		return
	}
	s.writeJSON(w, http.StatusOK, FromRecord(s.disks, rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []images.Status
	for _, value := range r.URL.Query()["status"] {
		status, err := images.ParseStatus(strings.TrimSpace(value))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, status)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.store.List(r.Context(), limit, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]ImageView, 0, len(records))
	for _, rec := range records {
		if rec.Status == images.StatusDeleting {
			continue
		}
		views = append(views, FromRecord(s.disks, rec))
	}
	s.writeJSON(w, http.StatusOK, ImageListResponse{Images: views})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/images/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleShow(w, r, id)
	case http.MethodDelete:
		s.handleDelete(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request, id int64) {
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "image not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Mid-teardown records are already gone as far as callers are concerned.
	if rec.Status == images.StatusDeleting {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	s.writeJSON(w, http.StatusOK, FromRecord(s.disks, rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.deleter.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, images.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "image not found")
		case images.IsInvalidState(err):
			// A record another caller is already tearing down reads as gone,
			// same as show and list.
			s.writeError(w, http.StatusNotFound, "image not found")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := StatusResponse{Total: counts.Total, Counts: make(map[string]int, len(counts.ByStatus))}
	for status, n := range counts.ByStatus {
		payload.Counts[status.String()] = n
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
