package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
)

// Server owns the HTTP listener for the status surface.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
}

// NewServer builds the server over an already-wired handler set.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	return &Server{cfg: cfg, handlers: handlers}
}

// Handlers returns the handler set for late collaborator wiring.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving in a background goroutine and returns immediately.
// Listener errors other than a clean shutdown are logged, not returned;
// the status surface must never take the campaign down with it.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           SetupRoutes(s.handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[API] status server listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] server stopped: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
