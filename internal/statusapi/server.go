package statusapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const snapshotPushInterval = 3 * time.Second

// Server is the read-only status surface: a health check, a point-in-time
// JSON snapshot, and a WebSocket feed that pushes the same snapshot on an
// interval. It exposes nothing capable of starting, cancelling, or
// otherwise mutating an operation.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
	stopPush chan struct{}
}

func NewServer(port int, provider Provider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "statusapi-server"),
		stopPush: make(chan struct{}),
	}
}

// Start runs the hub, the periodic snapshot pusher, and the HTTP listener.
// It blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.pushSnapshots()

	s.logger.Info("status api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api listen: %w", err)
	}
	return nil
}

func (s *Server) Stop() error {
	s.logger.Info("stopping status api")
	close(s.stopPush)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) pushSnapshots() {
	ticker := time.NewTicker(snapshotPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPush:
			return
		case <-ticker.C:
			snap, err := s.handlers.buildSnapshot(context.Background())
			if err != nil {
				s.logger.Error("build periodic snapshot", "error", err)
				continue
			}
			s.hub.BroadcastSnapshot(snap)
		}
	}
}
