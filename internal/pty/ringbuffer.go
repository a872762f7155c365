// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package pty

import "sync"

// DefaultHistoryBytes is the default per-session history capacity.
// 10 MB of raw terminal output covers hours of scrollback for a busy
// build or REPL while keeping per-session memory bounded.
const DefaultHistoryBytes = 10 * 1024 * 1024

// RingBuffer is a fixed-capacity circular buffer of raw terminal output.
// Escape sequences are kept byte for byte so replaying a snapshot
// reproduces colors and cursor movement. When full, new writes overwrite
// the oldest bytes.
//
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	// writePos is the next position to write within data (0 to capacity-1).
	writePos int
	// totalWritten counts every byte ever appended, including bytes that
	// have since been overwritten.
	totalWritten uint64
}

// NewRingBuffer creates a ring buffer retaining at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Append adds bytes to the buffer, evicting the oldest data when full.
// It never fails.
func (ring *RingBuffer) Append(data []byte) {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	for offset := 0; offset < len(data); {
		available := ring.capacity - ring.writePos
		copyLength := len(data) - offset
		if copyLength > available {
			copyLength = available
		}
		copy(ring.data[ring.writePos:ring.writePos+copyLength], data[offset:offset+copyLength])
		ring.writePos = (ring.writePos + copyLength) % ring.capacity
		offset += copyLength
	}
	ring.totalWritten += uint64(len(data))
}

// Snapshot returns a copy of the retained output, oldest byte first.
// The returned slice is independent of the buffer; later appends do not
// change it. An empty buffer returns nil.
func (ring *RingBuffer) Snapshot() []byte {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	stored := ring.storedLocked()
	if stored == 0 {
		return nil
	}

	result := make([]byte, stored)

	// writePos points at the next write slot. The retained data runs from
	// (writePos - stored) to writePos, wrapping around.
	readPos := (ring.writePos - stored) % ring.capacity
	if readPos < 0 {
		readPos += ring.capacity
	}

	for copied := 0; copied < stored; {
		available := ring.capacity - readPos
		copyLength := stored - copied
		if copyLength > available {
			copyLength = available
		}
		copy(result[copied:copied+copyLength], ring.data[readPos:readPos+copyLength])
		readPos = (readPos + copyLength) % ring.capacity
		copied += copyLength
	}

	return result
}

// Len returns the number of bytes currently retained.
func (ring *RingBuffer) Len() int {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return ring.storedLocked()
}

// TotalWritten returns the total number of bytes ever appended.
func (ring *RingBuffer) TotalWritten() uint64 {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return ring.totalWritten
}

func (ring *RingBuffer) storedLocked() int {
	if ring.totalWritten > uint64(ring.capacity) {
		return ring.capacity
	}
	return int(ring.totalWritten)
}
