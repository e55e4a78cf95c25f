package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/module"
)

// ModuleStatus is one row of the /modules listing.
type ModuleStatus struct {
	ID   string            `json:"id"`
	Hash string            `json:"hash"`
	Deps map[string]string `json:"deps,omitempty"`
}

// Server serves the change hub over HTTP.
type Server struct {
	config     *config.Config
	hub        *Hub
	snapshot   SnapshotFunc
	mux        *http.ServeMux
	httpServer *http.Server
	addr       string
}

// New creates a server whose hub hands new connections snapshot().
func New(cfg *config.Config, snapshot SnapshotFunc) *Server {
	s := &Server{
		config:   cfg,
		hub:      NewHub(cfg, snapshot),
		snapshot: snapshot,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc(cfg.Transport.Path, s.hub.HandleWebSocket)
	s.mux.HandleFunc("/modules", s.handleModules)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleModules lists the records the hub would hand a new connection.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var set module.RecordSet
	if s.snapshot != nil {
		set = s.snapshot()
	}
	out := make([]ModuleStatus, 0, len(set))
	for _, id := range set.IDs() {
		r := set[id]
		out = append(out, ModuleStatus{ID: id, Hash: r.Meta.Hash, Deps: r.Deps})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Start listens on the configured address and serves in the background.
// It returns the address actually bound, so port 0 picks a free port.
func (s *Server) Start() (string, error) {
	addr := s.config.ListenAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = listener.Addr().String()
	s.httpServer = &http.Server{Handler: s.mux}

	go func() {
		s.config.Log(0, "Change server listening on %s%s", s.addr, s.config.Transport.Path)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Log(0, "HTTP server error: %v", err)
		}
	}()
	return s.addr, nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
