// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package spawn decides what command a session runs. Specs come from
// per-session YAML files in a watched directory; sessions without one
// fall back to default.yaml and then to the built-in default shell.
package spawn

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Terminal geometry accepted from spec files and resize requests.
const (
	MaxCols = 500
	MaxRows = 200

	DefaultCols = 80
	DefaultRows = 24
)

// Spec describes the process a session runs.
type Spec struct {
	// Command is the executable to run. Empty means the server's
	// default shell.
	Command string `yaml:"command"`
	// Args are passed to the command.
	Args []string `yaml:"args"`
	// Env adds environment variables on top of the server's.
	Env map[string]string `yaml:"env"`
	// Cwd is the working directory. Empty inherits the server's.
	Cwd string `yaml:"cwd"`
	// Container names an existing docker container to run the command
	// in via docker exec. Empty runs on the host.
	Container string `yaml:"container"`
	// Cols and Rows set the initial terminal size. Zero means default.
	Cols uint16 `yaml:"cols"`
	Rows uint16 `yaml:"rows"`
}

// DefaultSpec returns the spec used when no file matches a session:
// the default shell at the default size on the host.
func DefaultSpec() *Spec {
	return &Spec{}
}

// Parse decodes a YAML spec document and validates it.
func Parse(data []byte) (*Spec, error) {
	var sp Spec
	if err := yaml.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	return &sp, nil
}

// Validate checks the terminal geometry. Zero passes; it means default.
func (s *Spec) Validate() error {
	if s.Cols > MaxCols {
		return fmt.Errorf("cols %d out of range 1-%d", s.Cols, MaxCols)
	}
	if s.Rows > MaxRows {
		return fmt.Errorf("rows %d out of range 1-%d", s.Rows, MaxRows)
	}
	return nil
}

// Size returns the terminal geometry with defaults applied.
func (s *Spec) Size() (cols, rows uint16) {
	cols, rows = s.Cols, s.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	return cols, rows
}

// Resolve produces the command line, working directory, and extra
// environment to hand to the PTY layer. For containerized specs the
// cwd and env are folded into the docker exec arguments and the host
// side gets none.
func (s *Spec) Resolve() (command string, args []string, cwd string, env []string) {
	if s.Container == "" {
		return s.Command, s.Args, s.Cwd, s.envList()
	}

	args = []string{"exec", "-it"}
	if s.Cwd != "" {
		args = append(args, "-w", s.Cwd)
	}
	for _, kv := range s.envList() {
		args = append(args, "-e", kv)
	}
	args = append(args, s.Container)

	inner := s.Command
	if inner == "" {
		inner = "/bin/sh"
	}
	args = append(args, inner)
	args = append(args, s.Args...)

	return "docker", args, "", nil
}

// Clone returns a deep copy so cached specs stay immutable.
func (s *Spec) Clone() *Spec {
	out := *s
	if s.Args != nil {
		out.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return &out
}

// envList renders Env as sorted KEY=value strings.
func (s *Spec) envList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+s.Env[k])
	}
	return list
}
