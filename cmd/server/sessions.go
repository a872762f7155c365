// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/spyhop-ai/spyhop/internal/sessions"
)

type sessionInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Viewers       int       `json:"viewers"`
	BufferedBytes int       `json:"buffered_bytes"`
}

func describeSession(sess *sessions.Session) sessionInfo {
	state, exit := sess.State()
	return sessionInfo{
		ID:            sess.ID,
		State:         string(state),
		ExitCode:      exit,
		CreatedAt:     sess.CreatedAt,
		Viewers:       sess.Viewers(),
		BufferedBytes: sess.BufferedBytes(),
	}
}

func writeSessionJSON(w http.ResponseWriter, status int, sess *sessions.Session) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(describeSession(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	infos := make([]sessionInfo, len(list))
	for i, sess := range list {
		infos[i] = describeSession(sess)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": infos,
	})
}

// handleCreateSession spawns a session under a fresh or caller-chosen id.
// A failed spawn still creates the session; the body carries the error
// state, and a later attach or ensure retries the spawn.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // Ignore errors - id is optional
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	sess, err := s.sessions.GetOrCreate(req.ID)
	if sess == nil {
		http.Error(w, "E84101: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeSessionJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("sessionId"))
	if err != nil {
		http.Error(w, "E84102: "+err.Error(), http.StatusNotFound)
		return
	}
	writeSessionJSON(w, http.StatusOK, sess)
}

// handleEnsureSession is the idempotent form of create: it respawns the
// process if it exited and is a no-op if it is already running.
func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetOrCreate(r.PathValue("sessionId"))
	if sess == nil {
		http.Error(w, "E84103: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeSessionJSON(w, http.StatusOK, sess)
}

// handleResetSession discards the session's history and process and
// starts over under the same id.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.PathValue("sessionId"))
	if sess == nil {
		http.Error(w, "E84104: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeSessionJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(r.PathValue("sessionId")); err != nil {
		http.Error(w, "E84105: "+err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
