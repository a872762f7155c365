package spawn

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSpecFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write spec file: %v", err)
	}
}

// waitForCommand polls the store until the session resolves to want.
// Reloads are asynchronous (fsnotify plus debounce), so tests poll.
func waitForCommand(t *testing.T, s *Store, session, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sp := s.Lookup(session); sp.Command == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("spec for %q never resolved to command %q (got %q)", session, want, s.Lookup(session).Command)
}

func TestStoreDisabled(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	sp := s.Lookup("anything")
	if sp.Command != "" || sp.Container != "" {
		t.Errorf("expected built-in default spec, got %+v", sp)
	}
}

func TestStoreLoadsExistingSpecs(t *testing.T) {
	dir := t.TempDir()
	writeSpecFile(t, dir, "build-42.yaml", "command: make\nargs: [test]\ncols: 132\n")
	writeSpecFile(t, dir, "default.yaml", "command: /bin/bash\n")

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	sp := s.Lookup("build-42")
	if sp.Command != "make" || len(sp.Args) != 1 || sp.Args[0] != "test" {
		t.Errorf("session spec: got %+v", sp)
	}
	if sp.Cols != 132 {
		t.Errorf("cols: got %d, want 132", sp.Cols)
	}

	// Unknown sessions fall back to default.yaml.
	if sp := s.Lookup("unknown"); sp.Command != "/bin/bash" {
		t.Errorf("fallback spec: got %+v", sp)
	}
}

func TestStoreCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "specs")

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("spec directory was not created: %v", err)
	}
}

func TestStoreLookupReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	writeSpecFile(t, dir, "sess.yaml", "command: top\nenv:\n  MODE: fast\n")

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	first := s.Lookup("sess")
	first.Command = "mutated"
	first.Env["MODE"] = "slow"

	second := s.Lookup("sess")
	if second.Command != "top" || second.Env["MODE"] != "fast" {
		t.Errorf("lookup result is shared state: %+v", second)
	}
}

func TestStoreHotReload(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if sp := s.Lookup("late"); sp.Command != "" {
		t.Fatalf("expected default before file exists, got %+v", sp)
	}

	writeSpecFile(t, dir, "late.yaml", "command: irb\n")
	waitForCommand(t, s, "late", "irb")

	// Updating the file takes effect too.
	writeSpecFile(t, dir, "late.yaml", "command: pry\n")
	waitForCommand(t, s, "late", "pry")
}

func TestStoreRemoveFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeSpecFile(t, dir, "gone.yaml", "command: htop\n")

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if sp := s.Lookup("gone"); sp.Command != "htop" {
		t.Fatalf("expected loaded spec, got %+v", sp)
	}

	if err := os.Remove(filepath.Join(dir, "gone.yaml")); err != nil {
		t.Fatal(err)
	}
	waitForCommand(t, s, "gone", "")
}

func TestStoreInvalidSpecKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeSpecFile(t, dir, "sess.yaml", "command: vim\n")

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if sp := s.Lookup("sess"); sp.Command != "vim" {
		t.Fatalf("expected loaded spec, got %+v", sp)
	}

	writeSpecFile(t, dir, "sess.yaml", "{{not yaml")
	time.Sleep(3 * reloadDebounce)
	if sp := s.Lookup("sess"); sp.Command != "vim" {
		t.Errorf("invalid yaml should keep previous spec, got %+v", sp)
	}

	writeSpecFile(t, dir, "sess.yaml", "command: vim\ncols: 9999\n")
	time.Sleep(3 * reloadDebounce)
	if sp := s.Lookup("sess"); sp.Command != "vim" || sp.Cols != 0 {
		t.Errorf("out-of-range spec should keep previous, got %+v", sp)
	}
}
