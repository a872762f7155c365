// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package fs provides scoped access to the spawn spec directory for the
// management API. Names are flat: no subdirectories, no hidden files,
// and symlinks may not point outside the directory.
package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrBadName       = errors.New("invalid spec file name")
	ErrPathTraversal = errors.New("path traversal not allowed")
	ErrNotFound      = errors.New("spec file not found")
)

// Entry describes one file in the spec directory.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Dir provides file access scoped to a single directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at the given path.
func NewDir(root string) *Dir {
	// Resolve symlinks in root to ensure consistent path comparisons
	// (e.g., on macOS /var -> /private/var)
	absRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// Fallback to Abs if root doesn't exist yet
		absRoot, _ = filepath.Abs(root)
	}
	return &Dir{root: absRoot}
}

// resolve maps a flat file name to an absolute path inside the root.
// Returns an error for names that are not plain file names or that
// resolve outside the root through a symlink.
func (d *Dir) resolve(name string) (string, error) {
	if name == "" || name[0] == '.' || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return "", ErrBadName
	}

	full := filepath.Join(d.root, name)

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			// New file. A flat name cannot point outside the root.
			return full, nil
		}
		return "", err
	}

	if !isPathWithin(resolved, d.root) {
		return "", ErrPathTraversal
	}

	return resolved, nil
}

// isPathWithin checks if path is equal to or inside root. This is safer
// than a bare strings.HasPrefix, which would incorrectly match
// /specs-evil as being within /specs.
func isPathWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// List returns the regular files in the directory, skipping
// subdirectories and hidden files.
func (d *Dir) List() ([]Entry, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}

	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, Entry{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return result, nil
}

// Read returns the contents of a file.
func (d *Dir) Read(name string) ([]byte, error) {
	resolved, err := d.resolve(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return data, nil
}

// Write writes content to a file, creating the directory if needed.
func (d *Dir) Write(name string, content []byte) error {
	resolved, err := d.resolve(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return err
	}

	return os.WriteFile(resolved, content, 0o644)
}

// Delete removes a file.
func (d *Dir) Delete(name string) error {
	resolved, err := d.resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(resolved); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	return nil
}
