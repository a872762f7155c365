// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package spawn

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spyhop-ai/spyhop/internal/logger"
)

const (
	specSuffix      = ".yaml"
	defaultSpecName = "default"

	// Editors often rename over the target or write in bursts; a short
	// per-file debounce coalesces those into one reload.
	reloadDebounce = 100 * time.Millisecond
)

// Store serves spawn specs from a directory of YAML files, hot reloading
// them as they change. <sessionID>.yaml names one session's spec and
// default.yaml covers the rest.
type Store struct {
	dir string
	log *slog.Logger

	mu    sync.RWMutex
	specs map[string]*Spec

	fsw     *fsnotify.Watcher
	stop    chan struct{}
	stopped chan struct{}

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewStore loads specs from dir and starts watching it for changes.
// The directory is created if missing. An empty dir disables spec
// files entirely; every session then gets DefaultSpec.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:            dir,
		log:            logger.WithComponent("spawn"),
		specs:          make(map[string]*Spec),
		debounceTimers: make(map[string]*time.Timer),
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spec directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, specSuffix) || name[0] == '.' {
			continue
		}
		s.loadFile(filepath.Join(dir, name))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	s.fsw = fsw
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop()

	s.log.Info("watching spawn specs", "dir", dir, "loaded", len(s.specs))
	return s, nil
}

// Lookup returns the spec for a session: its own file first, then
// default.yaml, then the built-in default. The result is a copy.
func (s *Store) Lookup(sessionID string) *Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sp, ok := s.specs[sessionID]; ok {
		return sp.Clone()
	}
	if sp, ok := s.specs[defaultSpecName]; ok {
		return sp.Clone()
	}
	return DefaultSpec()
}

// Close stops the directory watcher. Safe to call more than once.
func (s *Store) Close() {
	if s.fsw == nil {
		return
	}
	select {
	case <-s.stop:
		return
	default:
	}
	close(s.stop)
	s.fsw.Close()
	<-s.stopped
}

func (s *Store) loop() {
	defer close(s.stopped)

	for {
		select {
		case <-s.stop:
			// Cancel all pending debounce timers.
			s.debounceMu.Lock()
			for _, t := range s.debounceTimers {
				t.Stop()
			}
			s.debounceTimers = nil
			s.debounceMu.Unlock()
			return

		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.log.Warn("spec watcher error", "error", err)
		}
	}
}

func (s *Store) handleFSEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, specSuffix) || base[0] == '.' {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounceTimers == nil {
		return
	}
	if t, ok := s.debounceTimers[base]; ok {
		t.Stop()
	}
	path := event.Name
	s.debounceTimers[base] = time.AfterFunc(reloadDebounce, func() {
		s.debounceMu.Lock()
		if s.debounceTimers != nil {
			delete(s.debounceTimers, base)
		}
		s.debounceMu.Unlock()

		s.reload(path)
	})
}

// reload re-reads one spec file, or drops its entry if the file is gone.
func (s *Store) reload(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		name := specName(path)
		s.mu.Lock()
		delete(s.specs, name)
		s.mu.Unlock()
		s.log.Info("spawn spec removed", "session", name)
		return
	}
	s.loadFile(path)
}

func (s *Store) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("failed to read spawn spec", "path", path, "error", err)
		return
	}

	sp, err := Parse(data)
	if err != nil {
		s.log.Warn("invalid spawn spec, keeping previous", "path", path, "error", err)
		return
	}

	name := specName(path)
	s.mu.Lock()
	s.specs[name] = sp
	s.mu.Unlock()
	s.log.Info("spawn spec loaded", "session", name)
}

func specName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), specSuffix)
}
