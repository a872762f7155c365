// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package ws bridges WebSocket connections to terminal sessions. Each
// connection is one viewer: it receives the session's buffered history
// followed by the live output stream, and can send input, interrupts,
// and resizes. Disconnecting a viewer never disturbs the session.
package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/spyhop-ai/spyhop/internal/logger"
	"github.com/spyhop-ai/spyhop/internal/sessions"
)

// Router upgrades HTTP requests to WebSocket viewers.
type Router struct {
	sessions *sessions.Manager
	origins  []string
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewRouter creates a router that accepts connections from the given
// origins. An empty list rejects every browser connection (fail secure).
func NewRouter(sm *sessions.Manager, origins []string) *Router {
	rt := &Router{
		sessions: sm,
		origins:  origins,
		log:      logger.WithComponent("ws"),
	}
	rt.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     rt.checkOrigin,
	}
	return rt
}

// checkOrigin validates the Origin header against the allowed list.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Browsers always send Origin for cross-origin requests.
		return false
	}

	for _, a := range rt.origins {
		a = strings.TrimSpace(a)
		if a == origin {
			return true
		}
		// Wildcard for all origins (dev only).
		if a == "*" {
			return true
		}
		// Wildcard port matching (e.g. "http://localhost:*").
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(origin, prefix) {
				remainder := strings.TrimPrefix(origin, prefix)
				if len(remainder) > 0 && isNumeric(remainder) {
					return true
				}
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HandleTerminal attaches a viewer to a session, creating the session
// and spawning its process if needed. A failed spawn still attaches the
// viewer, which then sees the error status from the stream.
func (rt *Router) HandleTerminal(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("sessionId")

	session, err := rt.sessions.GetOrCreate(sessionID)
	if err != nil {
		rt.log.Warn("session spawn failed on attach", "session_id", sessionID, "error", err)
	}

	conn, err := rt.upgrader.Upgrade(w, req, nil)
	if err != nil {
		rt.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client, err := NewClient(conn, session)
	if err != nil {
		// The session was torn down between lookup and attach.
		conn.Close()
		return
	}
	go client.ReadPump()
	go client.WritePump()
}
