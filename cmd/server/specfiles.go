// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/spyhop-ai/spyhop/internal/fs"
	"github.com/spyhop-ai/spyhop/internal/spawn"
)

// Spawn spec management. Writes land in the watched spec directory, so
// the store picks them up without a restart; sessions spawned or reset
// afterwards use the new spec.

func writeSpecError(w http.ResponseWriter, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fs.ErrBadName), errors.Is(err, fs.ErrPathTraversal):
		status = http.StatusBadRequest
	}
	http.Error(w, code+": "+err.Error(), status)
}

func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.specDir.List()
	if err != nil {
		http.Error(w, "E84106: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"specs": entries,
	})
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	data, err := s.specDir.Read(r.PathValue("name"))
	if err != nil {
		writeSpecError(w, "E84107", err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

func (s *Server) handlePutSpec(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !strings.HasSuffix(name, ".yaml") {
		http.Error(w, "E84108: spec files must end in .yaml", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "E84108: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Reject documents the store would refuse to load.
	if _, err := spawn.Parse(data); err != nil {
		http.Error(w, "E84108: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.specDir.Write(name, data); err != nil {
		writeSpecError(w, "E84108", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteSpec(w http.ResponseWriter, r *http.Request) {
	if err := s.specDir.Delete(r.PathValue("name")); err != nil {
		writeSpecError(w, "E84109", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
