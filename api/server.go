package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/touka-aoi/clipsock/notify"
)

// HealthServer exposes liveness, readiness and the last reported status.
// It follows the server through the notify.Notifier interface.
type HealthServer struct {
	server *http.Server
	ready  atomic.Bool

	mu      sync.Mutex
	status  string
	failure string
	changed time.Time
}

type statusResponse struct {
	Status  string    `json:"status"`
	Ready   bool      `json:"ready"`
	Failure string    `json:"failure,omitempty"`
	Changed time.Time `json:"changed"`
}

func NewHealthServer(addr string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		status:  notify.StatusStopped,
		changed: time.Now(),
	}

	// Default to not ready until the server reports a listening address
	hs.ready.Store(false)

	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	mux.HandleFunc("/status", hs.handleStatus)

	return hs
}

func (s *HealthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HealthServer) Start() {
	go func() {
		slog.Info("Health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health server error", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HealthServer) OnStatusChanged(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = text
	s.changed = time.Now()
	ready := text != notify.StatusStopped && text != notify.StatusFailed
	if ready {
		s.failure = ""
	}
	s.ready.Store(ready)
}

func (s *HealthServer) OnFailure(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason != nil {
		s.failure = reason.Error()
	}
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := statusResponse{
		Status:  s.status,
		Ready:   s.ready.Load(),
		Failure: s.failure,
		Changed: s.changed,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode status", "error", err)
	}
}
