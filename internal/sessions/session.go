// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package sessions manages session lifecycle.
//
// A Session is one named terminal: a process behind a PTY, a ring buffer
// of its output history, and a hub fanning the live stream out to
// viewers. Sessions survive disconnects - the process keeps running and
// the history keeps accumulating with nobody attached - and survive
// process exits, holding the final output until a reset, a removal, or
// a respawn on the next attach.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spyhop-ai/spyhop/internal/logger"
	"github.com/spyhop-ai/spyhop/internal/pty"
	"github.com/spyhop-ai/spyhop/internal/spawn"
)

// ErrSessionClosed is returned when an operation races a Reset or
// Remove that already tore the session down.
var ErrSessionClosed = errors.New("session is closed")

// readBuffer is the PTY read chunk size.
const readBuffer = 32 * 1024

// Session is one terminal session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.Mutex
	proc   *pty.Process
	reaped chan struct{}
	closed bool

	ring *pty.RingBuffer
	hub  *pty.Hub
	log  *slog.Logger
}

func newSession(id string) *Session {
	ring := pty.NewRingBuffer(pty.DefaultHistoryBytes)
	log := logger.WithSession(id)
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		ring:      ring,
		hub:       pty.NewHub(ring, log),
		log:       log,
	}
}

// ensureProcess spawns the session's process if it is not running.
// A previous process that exited is retired first, waiting for its
// reaper so viewers see the exited status before the respawn's running
// status. The history buffer is untouched either way.
func (s *Session) ensureProcess(sp *spawn.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return ErrSessionClosed
		}
		if s.proc == nil {
			break
		}
		if s.proc.Running() {
			return nil
		}

		reaped := s.reaped
		old := s.proc
		s.mu.Unlock()
		<-reaped
		old.Close()
		s.mu.Lock()
		if s.proc == old {
			s.proc = nil
			s.reaped = nil
		}
		// Re-evaluate: a concurrent caller may have respawned already.
	}

	if sp.Container != "" && !spawn.ContainerRunning(sp.Container) {
		err := fmt.Errorf("container %q is not running", sp.Container)
		s.hub.SetFailed(err.Error())
		s.log.Warn("spawn failed", "error", err)
		return err
	}

	command, args, cwd, env := sp.Resolve()
	cols, rows := sp.Size()
	proc, err := pty.Start(command, args, cwd, env, cols, rows)
	if err != nil {
		s.hub.SetFailed(err.Error())
		s.log.Warn("spawn failed", "command", command, "error", err)
		return fmt.Errorf("spawn failed: %w", err)
	}

	s.proc = proc
	reaped := make(chan struct{})
	s.reaped = reaped
	s.hub.SetRunning()
	s.log.Info("process started", "pid", proc.Pid(), "size", fmt.Sprintf("%dx%d", cols, rows))

	go s.pump(proc)
	go s.reap(proc, reaped)
	return nil
}

// pump copies PTY output into the hub until the PTY closes.
func (s *Session) pump(proc *pty.Process) {
	buf := make([]byte, readBuffer)
	for {
		n, err := proc.Read(buf)
		if n > 0 {
			// Make a copy for the subscribers.
			data := make([]byte, n)
			copy(data, buf[:n])
			s.hub.Publish(data)
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the process and records its exit. Runs once per spawn;
// closing reaped signals that the exit has been published.
func (s *Session) reap(proc *pty.Process, reaped chan struct{}) {
	defer close(reaped)
	code := proc.Wait()
	s.hub.SetExited(code)
	s.log.Info("process exited", "code", code)
}

// Subscribe attaches a viewer to the session's output stream.
func (s *Session) Subscribe() (*pty.Subscriber, []byte, error) {
	return s.hub.Subscribe()
}

// Unsubscribe detaches a viewer.
func (s *Session) Unsubscribe(sub *pty.Subscriber) {
	s.hub.Unsubscribe(sub)
}

// Write sends input to the session's process.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return pty.ErrNotRunning
	}
	_, err := proc.Write(data)
	return err
}

// Interrupt sends SIGINT to the session's process group.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return pty.ErrNotRunning
	}
	return proc.Interrupt()
}

// Resize changes the session's terminal size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return pty.ErrNotRunning
	}
	return proc.Resize(cols, rows)
}

// State returns the session's lifecycle state and exit code, if any.
func (s *Session) State() (pty.State, *int) {
	return s.hub.State()
}

// BufferedBytes returns how much output history the session holds.
func (s *Session) BufferedBytes() int {
	return s.ring.Len()
}

// Viewers returns the number of attached viewers.
func (s *Session) Viewers() int {
	return s.hub.SubscriberCount()
}

// Close kills the process, disconnects all viewers, and marks the
// session dead. The manager calls this from Reset, Remove, and
// Shutdown. Idempotent.
//
// Viewers get the final exited status before their channels close:
// Close waits for the reaper, which broadcasts the exit, and only then
// shuts the stream down.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	proc := s.proc
	reaped := s.reaped
	s.mu.Unlock()

	if proc != nil {
		proc.Close()
		if reaped != nil {
			<-reaped
		}
	}
	s.hub.Shutdown()
	s.log.Info("session closed")
}
