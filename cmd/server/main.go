// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spyhop-ai/spyhop/internal/config"
	"github.com/spyhop-ai/spyhop/internal/fs"
	"github.com/spyhop-ai/spyhop/internal/logger"
	"github.com/spyhop-ai/spyhop/internal/sessions"
	"github.com/spyhop-ai/spyhop/internal/spawn"
	"github.com/spyhop-ai/spyhop/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.SetDebug(cfg.Debug)
	if cfg.LogFile != "" {
		if err := logger.Init(cfg.LogFile); err != nil {
			logger.Get().Error("failed to open log file", "path", cfg.LogFile, "error", err)
			os.Exit(1)
		}
	}
	log := logger.Get()

	specs, err := spawn.NewStore(cfg.SpecDir)
	if err != nil {
		log.Error("failed to open spawn spec store", "dir", cfg.SpecDir, "error", err)
		os.Exit(1)
	}

	if spawn.DockerInstalled() && !spawn.DockerAvailable() {
		log.Warn("docker CLI found but daemon not responding, containerized specs will fail")
	}

	sessionManager := sessions.NewManager(specs)
	server := NewServer(sessionManager, cfg)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-shutdown
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections, then kill the sessions.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	sessionManager.Shutdown()
	specs.Close()

	log.Info("server stopped")
	logger.Close()
}

type Server struct {
	sessions *sessions.Manager
	wsRouter *ws.Router
	specDir  *fs.Dir
}

func NewServer(sm *sessions.Manager, cfg *config.Config) *Server {
	s := &Server{
		sessions: sm,
		wsRouter: ws.NewRouter(sm, cfg.AllowedOrigins),
	}
	if cfg.SpecDir != "" {
		s.specDir = fs.NewDir(cfg.SpecDir)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check (for load balancer probes)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Sessions
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{sessionId}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{sessionId}", s.handleEnsureSession)
	mux.HandleFunc("POST /sessions/{sessionId}/reset", s.handleResetSession)
	mux.HandleFunc("DELETE /sessions/{sessionId}", s.handleDeleteSession)

	// WebSocket viewers - origin validated by the upgrader
	mux.HandleFunc("GET /sessions/{sessionId}/ws", s.wsRouter.HandleTerminal)

	// Spawn spec management - absent unless a spec directory is configured
	if s.specDir != nil {
		mux.HandleFunc("GET /specs", s.handleListSpecs)
		mux.HandleFunc("GET /specs/{name}", s.handleGetSpec)
		mux.HandleFunc("PUT /specs/{name}", s.handlePutSpec)
		mux.HandleFunc("DELETE /specs/{name}", s.handleDeleteSpec)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Count(),
		"docker":   spawn.DockerInstalled(),
	})
}
