// Package pty spawns child processes behind pseudo-terminals and fans
// their output out to any number of subscribers. A Process is one child
// attached to a PTY; a Hub owns the session's history ring buffer and
// the subscriber set.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned when input, a signal, or a resize is directed
// at a process that has already exited.
var ErrNotRunning = errors.New("process is not running")

// State describes where a session's process is in its lifecycle.
type State string

const (
	// StateStarting means no process has been spawned yet.
	StateStarting State = "starting"
	// StateRunning means the child is alive behind the PTY.
	StateRunning State = "running"
	// StateExited means the child terminated, normally or by signal.
	StateExited State = "exited"
	// StateErrored means the spawn itself failed.
	StateErrored State = "error"
)

// Process is a child process attached to a pseudo-terminal.
type Process struct {
	ID string

	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool
	exited bool
}

// Start spawns command with args behind a new PTY of the given size.
// An empty command falls back to DefaultShell. env entries ("KEY=value")
// are appended to the server's environment.
func Start(command string, args []string, cwd string, env []string, cols, rows uint16) (*Process, error) {
	if command == "" {
		command = DefaultShell()
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, err
	}

	return &Process{
		ID:   uuid.New().String(),
		file: ptmx,
		cmd:  cmd,
	}, nil
}

// Read reads output from the PTY.
func (p *Process) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Read(buf)
}

// Write sends input to the PTY.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed || p.exited {
		p.mu.Unlock()
		return 0, ErrNotRunning
	}
	file := p.file
	p.mu.Unlock()

	return file.Write(data)
}

// Resize changes the PTY window size.
func (p *Process) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.exited {
		return ErrNotRunning
	}

	return pty.Setsize(p.file, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Interrupt delivers SIGINT to the child's process group, the same as
// pressing Ctrl-C in the terminal. The child is a session leader (the
// PTY start puts it in its own session), so the negative-pid kill
// reaches pipelines and subprocesses too.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.exited {
		return ErrNotRunning
	}
	if p.cmd.Process == nil {
		return ErrNotRunning
	}

	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGINT); err != nil {
		// Group kill can fail if the leader already changed groups.
		return p.cmd.Process.Signal(syscall.SIGINT)
	}
	return nil
}

// Pid returns the child's process ID, or 0 if it never started.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Running reports whether the child is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.exited
}

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports the negated signal number (SIGKILL exits
// as -9). Call Wait exactly once per process.
func (p *Process) Wait() int {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				code = -int(ws.Signal())
			} else {
				code = exitErr.ExitCode()
			}
		}
	}

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	return code
}

// Close terminates the child if needed and releases the PTY.
// Safe to call multiple times.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if !p.exited && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}

	return p.file.Close()
}
