// Package api implements the HTTP/SSE observer surface named in §4.12: an
// external consumer of the core that binds to the inventory's EventBus and
// a device's command queue exactly the way any other observer would,
// grounded on the teacher's api/server.go, api/router.go and api/sse.go.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"dsu/config"
	"dsu/inventory"
)

// Server is the REST/SSE API server.
type Server struct {
	inv     *inventory.Inventory
	cfg     *config.APIConfig
	auth    *sessionStore
	hub     *eventHub
	subID   int
	server  *http.Server
	running bool
	mu      sync.RWMutex
	logf    func(format string, args ...interface{})
}

// NewServer creates a server bound to inv, not yet listening.
func NewServer(inv *inventory.Inventory, cfg *config.APIConfig, logFn func(format string, args ...interface{})) *Server {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	s := &Server{inv: inv, cfg: cfg, hub: newEventHub(), logf: logFn}
	if cfg.AuthEnabled {
		s.auth = newSessionStoreFromConfig(cfg)
	}
	return s
}

// IsRunning reports whether the HTTP server is currently listening.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start subscribes the SSE hub to the inventory's EventBus and begins
// listening on cfg.Listen.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	s.subID = s.inv.Bus().Subscribe(func(e inventory.Event) {
		s.hub.Broadcast(sseEventOf(e))
	})

	router := s.newRouter()
	s.server = &http.Server{Addr: s.cfg.Listen, Handler: router}
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logf("api: server error: %v", err)
		}
	}()

	s.logf("api: listening on %s", s.cfg.Listen)
	return nil
}

// Stop unsubscribes from the EventBus, stops the SSE hub, and shuts the
// HTTP server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.inv.Bus().Unsubscribe(s.subID)
	s.mu.Unlock()

	s.hub.Stop()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) writeErr(w http.ResponseWriter, status int, format string, args ...interface{}) {
	http.Error(w, fmt.Sprintf(format, args...), status)
}
