// Package api exposes the daemon's HTTP surface: health, status, manual
// sync, and queue management. The PWA front end is the intended caller,
// so CORS is permissive.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/strideworks/solesync/internal/manager"
	"github.com/strideworks/solesync/internal/queue"
)

// Server is the daemon HTTP API.
type Server struct {
	port       int
	manager    *manager.Manager
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server over the sync manager.
func NewServer(port int, mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:    port,
		manager: mgr,
		logger:  logger.With("component", "api"),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sync", s.handleSync)
	mux.HandleFunc("/api/operations", s.handleOperations)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// handleStatus returns the connection state, queue counts, sync
// counters, and maintenance job state in one document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"connection":  s.manager.ConnectionState(),
		"queue":       s.manager.QueueStatus(),
		"stats":       s.manager.SyncStats(),
		"maintenance": s.manager.MaintenanceStates(),
	})
}

// handleSync triggers a manual sync pass.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.manager.ManualSync(r.Context()) {
		s.respondJSON(w, http.StatusConflict, map[string]any{
			"started": false,
			"reason":  "not connected",
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"started": true})
}

type enqueueRequest struct {
	Kind     string          `json:"kind"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args,omitempty"`
	Priority *int            `json:"priority,omitempty"`
	Context  queue.OpContext `json:"context,omitempty"`
}

// handleOperations enqueues an operation (POST) or clears the queue
// (DELETE).
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}

		kind := queue.Kind(req.Kind)
		switch kind {
		case "":
			kind = queue.KindMutation
		case queue.KindMutation, queue.KindAction:
		default:
			http.Error(w, "kind must be mutation or action", http.StatusBadRequest)
			return
		}

		// Absent priority resolves through the rules file.
		priority := -1
		if req.Priority != nil {
			priority = *req.Priority
		}

		id, ok := s.manager.QueueOperation(kind, req.Name, req.Args, priority, req.Context)
		if !ok {
			s.respondJSON(w, http.StatusConflict, map[string]any{
				"queued": false,
				"reason": "queue full",
			})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"queued": true, "id": id})

	case http.MethodDelete:
		s.manager.ClearQueue()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// respondJSON writes a JSON response with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}
