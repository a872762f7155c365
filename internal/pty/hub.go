// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package pty

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrHubClosed is returned by Subscribe after the hub has shut down.
var ErrHubClosed = errors.New("session stream is closed")

// EventType discriminates events on a subscriber stream.
type EventType string

const (
	// EventOutput carries raw terminal bytes.
	EventOutput EventType = "output"
	// EventStatus carries a lifecycle state change.
	EventStatus EventType = "status"
	// EventError carries a human-readable failure message.
	EventError EventType = "error"
)

// Event is one item on a subscriber stream.
type Event struct {
	Type EventType
	// Data holds terminal bytes for output events and a message for
	// error events.
	Data []byte
	// State and ExitCode accompany status events. ExitCode is only set
	// once the process has exited.
	State    State
	ExitCode *int
}

// subscriberBuffer is the per-subscriber channel capacity. A viewer that
// stops draining loses its oldest buffered events once this fills.
const subscriberBuffer = 256

// Subscriber receives one viewer's copy of a session's event stream.
type Subscriber struct {
	ch      chan Event
	dropped int // guarded by the hub mutex
}

// Events returns the subscriber's stream. The channel is closed when the
// subscriber is removed or the hub shuts down.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Hub fans one session's output out to any number of subscribers and
// keeps the authoritative history in a ring buffer.
//
// Appending to the ring and delivering to subscribers happen under one
// lock, as does Subscribe's snapshot-plus-register step. A subscriber
// therefore sees every byte exactly once: history in the snapshot,
// everything after it on the channel, with no gap and no overlap.
type Hub struct {
	mu      sync.Mutex
	ring    *RingBuffer
	subs    map[*Subscriber]struct{}
	state   State
	exit    *int
	failMsg string
	closed  bool
	log     *slog.Logger
}

// NewHub creates a hub over the given history buffer. The state starts
// as StateStarting until the session's first spawn resolves.
func NewHub(ring *RingBuffer, log *slog.Logger) *Hub {
	return &Hub{
		ring:  ring,
		subs:  make(map[*Subscriber]struct{}),
		state: StateStarting,
		log:   log,
	}
}

// Subscribe attaches a new viewer. It returns the subscriber and a
// snapshot of all retained history; output published after the snapshot
// was taken arrives on the subscriber's channel. If the session already
// has a settled state, a status event is waiting on the channel.
func (h *Hub) Subscribe() (*Subscriber, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrHubClosed
	}

	snapshot := h.ring.Snapshot()
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}
	if h.state != StateStarting {
		sub.ch <- Event{Type: EventStatus, State: h.state, ExitCode: h.exit}
	}
	if h.state == StateErrored && h.failMsg != "" {
		// Late viewers also learn why the spawn failed.
		sub.ch <- Event{Type: EventError, Data: []byte(h.failMsg)}
	}
	h.subs[sub] = struct{}{}

	return sub, snapshot, nil
}

// Unsubscribe detaches a viewer and closes its channel.
// Safe to call more than once and after Shutdown.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	h.logDropsLocked(sub)
	close(sub.ch)
}

// Publish appends output to the history buffer and delivers it to every
// subscriber. It never blocks and never fails; a subscriber that cannot
// keep up loses its oldest undelivered events.
func (h *Hub) Publish(data []byte) {
	if len(data) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.ring.Append(data)

	ev := Event{Type: EventOutput, Data: data}
	for sub := range h.subs {
		h.deliverLocked(sub, ev)
	}
}

// SetRunning records a successful spawn and broadcasts the state change.
func (h *Hub) SetRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.state == StateRunning {
		return
	}
	h.state = StateRunning
	h.exit = nil
	h.failMsg = ""
	h.broadcastLocked(Event{Type: EventStatus, State: StateRunning})
}

// SetExited records the child's exit code and broadcasts the state
// change. Subscriber channels stay open so viewers keep the history.
func (h *Hub) SetExited(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.state != StateRunning {
		return
	}
	h.state = StateExited
	h.exit = &code
	h.broadcastLocked(Event{Type: EventStatus, State: StateExited, ExitCode: &code})
}

// SetFailed records a spawn failure. Subscribers receive the error state
// followed by a message describing what went wrong.
func (h *Hub) SetFailed(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.state = StateErrored
	h.exit = nil
	h.failMsg = msg
	h.broadcastLocked(Event{Type: EventStatus, State: StateErrored})
	h.broadcastLocked(Event{Type: EventError, Data: []byte(msg)})
}

// Shutdown closes every subscriber channel and rejects future
// subscriptions. Called when the session itself is being destroyed.
// Safe to call more than once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subs {
		delete(h.subs, sub)
		h.logDropsLocked(sub)
		close(sub.ch)
	}
}

// State returns the current lifecycle state and, once exited, the exit code.
func (h *Hub) State() (State, *int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.exit
}

// SubscriberCount returns the number of attached viewers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcastLocked(ev Event) {
	for sub := range h.subs {
		h.deliverLocked(sub, ev)
	}
}

// deliverLocked sends ev to one subscriber, evicting the subscriber's
// oldest buffered event when its channel is full. The hub mutex makes
// this the only sender, so at most one eviction is needed per send.
func (h *Hub) deliverLocked(sub *Subscriber, ev Event) {
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
	}
}

func (h *Hub) logDropsLocked(sub *Subscriber) {
	if sub.dropped > 0 && h.log != nil {
		h.log.Debug("subscriber fell behind", "dropped_events", sub.dropped)
	}
}
