package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
)

// Server runs the operator HTTP/WebSocket surface: health check, status
// endpoint, and the event/command socket.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires a Hub, its command dispatcher, and the HTTP mux.
func NewServer(cfg config.HealthConfig, provider StatusProvider, commands CommandHandler, logger *slog.Logger) *Server {
	hub := NewHub(commands, logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/api/kill", handlers.HandleKill)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "notify-server"),
	}
}

// Hub exposes the underlying broadcaster, e.g. for wiring a Notifier.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and HTTP listener; blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("operator server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("notify server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop() error {
	s.logger.Info("stopping operator server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
