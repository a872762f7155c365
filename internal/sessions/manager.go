// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package sessions

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/spyhop-ai/spyhop/internal/logger"
	"github.com/spyhop-ai/spyhop/internal/spawn"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager owns the session registry. Session IDs are chosen by callers;
// asking for an ID that does not exist yet creates it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	specs *spawn.Store
	log   *slog.Logger
}

// NewManager creates a manager that resolves spawn specs through store.
func NewManager(store *spawn.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		specs:    store,
		log:      logger.WithComponent("sessions"),
	}
}

// GetOrCreate returns the session with the given ID, creating it on
// first use. A session whose process has exited is respawned with its
// history intact. On spawn failure the session still exists, in the
// error state, and the error is returned alongside it.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	for {
		m.mu.Lock()
		sess, ok := m.sessions[id]
		if !ok {
			sess = newSession(id)
			m.sessions[id] = sess
			m.log.Info("session created", "session", id)
		}
		m.mu.Unlock()

		err := sess.ensureProcess(m.specs.Lookup(id))
		if errors.Is(err, ErrSessionClosed) {
			// Lost a race with Reset or Remove; drop the dead entry
			// and try again with a fresh session.
			m.mu.Lock()
			if m.sessions[id] == sess {
				delete(m.sessions, id)
			}
			m.mu.Unlock()
			continue
		}
		return sess, err
	}
}

// Get retrieves a session by ID without spawning anything.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reset destroys the session's process and history, then creates it
// fresh. Resetting an absent session simply creates it.
func (m *Manager) Reset(id string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		sess.Close()
		m.log.Info("session reset", "session", id)
	}
	m.mu.Unlock()

	return m.GetOrCreate(id)
}

// Remove destroys the session entirely: the process is killed, viewers
// are disconnected, and the history buffer is discarded.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	sess.Close()
	m.log.Info("session removed", "session", id)
	return nil
}

// Shutdown closes all sessions. Called once at server exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	m.log.Info("all sessions closed", "count", len(sessions))
}
