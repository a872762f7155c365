package sessions

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spyhop-ai/spyhop/internal/pty"
	"github.com/spyhop-ai/spyhop/internal/spawn"
)

// newTestManager builds a manager over a temp spec directory. The specs
// map holds spec file contents keyed by file name, written before the
// store loads.
func newTestManager(t *testing.T, specs map[string]string) (*Manager, func()) {
	t.Helper()

	dir := t.TempDir()
	for name, content := range specs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write spec file: %v", err)
		}
	}

	store, err := spawn.NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create spec store: %v", err)
	}
	m := NewManager(store)

	cleanup := func() {
		m.Shutdown()
		store.Close()
	}
	return m, cleanup
}

func waitForState(t *testing.T, sess *Session, want pty.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, _ := sess.State(); state == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	state, _ := sess.State()
	t.Fatalf("session never reached state %q, still %q", want, state)
}

// waitForOutput subscribes and waits until marker shows up in the
// combined snapshot plus live stream.
func waitForOutput(t *testing.T, sess *Session, marker string) {
	t.Helper()

	sub, snapshot, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sess.Unsubscribe(sub)

	received := append([]byte{}, snapshot...)
	if bytes.Contains(received, []byte(marker)) {
		return
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("stream closed while waiting for %q, got %q", marker, received)
			}
			if ev.Type == pty.EventOutput {
				received = append(received, ev.Data...)
				if bytes.Contains(received, []byte(marker)) {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %q in output, got %q", marker, received)
		}
	}
}

func TestSessionEcho(t *testing.T) {
	m, cleanup := newTestManager(t, nil)
	defer cleanup()

	sess, err := m.GetOrCreate("echo-test")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateRunning)

	if err := sess.Write([]byte("echo spyhop_marker\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitForOutput(t, sess, "spyhop_marker")
}

func TestSessionSpecCommand(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"scripted.yaml": "command: /bin/sh\nargs: [\"-c\", \"echo from_spec_file; sleep 30\"]\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("scripted")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForOutput(t, sess, "from_spec_file")
}

func TestSessionExitStatus(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"oneshot.yaml": "command: /bin/sh\nargs: [\"-c\", \"exit 7\"]\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("oneshot")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateExited)

	_, code := sess.State()
	if code == nil || *code != 7 {
		t.Errorf("exit code: got %v, want 7", code)
	}

	// Input to an exited session is rejected.
	if err := sess.Write([]byte("echo too late\n")); !errors.Is(err, pty.ErrNotRunning) {
		t.Errorf("write after exit: got %v, want ErrNotRunning", err)
	}
	if err := sess.Interrupt(); !errors.Is(err, pty.ErrNotRunning) {
		t.Errorf("interrupt after exit: got %v, want ErrNotRunning", err)
	}
}

func TestSessionRespawnKeepsHistory(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"respawn.yaml": "command: /bin/sh\nargs: [\"-c\", \"echo run_marker; exit 0\"]\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("respawn")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateExited)
	waitForOutput(t, sess, "run_marker")

	// Asking for the session again respawns the process. Same session,
	// same buffer: the first run's output is still in the snapshot.
	again, err := m.GetOrCreate("respawn")
	if err != nil {
		t.Fatalf("respawn failed: %v", err)
	}
	if again != sess {
		t.Fatal("respawn should reuse the same session")
	}

	sub, snapshot, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sess.Unsubscribe(sub)
	if !bytes.Contains(snapshot, []byte("run_marker")) {
		t.Errorf("history lost across respawn, snapshot: %q", snapshot)
	}
}

func TestSessionRespawnOrdering(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"order.yaml": "command: /bin/sh\nargs: [\"-c\", \"exit 0\"]\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("order")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateExited)

	sub, _, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sess.Unsubscribe(sub)

	if _, err := m.GetOrCreate("order"); err != nil {
		t.Fatalf("respawn failed: %v", err)
	}

	// The viewer attached after the exit settled, so its preloaded
	// status is exited; the respawn must deliver running after it.
	var states []pty.State
	timeout := time.After(5 * time.Second)
	for len(states) < 2 {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("stream closed while waiting for status events")
			}
			if ev.Type == pty.EventStatus {
				states = append(states, ev.State)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for status events, got %v", states)
		}
	}
	if states[0] != pty.StateExited || states[1] != pty.StateRunning {
		t.Errorf("status order: got %v, want [exited running]", states)
	}
}

func TestSessionSpawnFailure(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"broken.yaml": "command: /nonexistent/bin/nope\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("broken")
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if sess == nil {
		t.Fatal("session should exist even when the spawn fails")
	}

	state, _ := sess.State()
	if state != pty.StateErrored {
		t.Errorf("state: got %q, want %q", state, pty.StateErrored)
	}

	// Viewers can still attach and see the error state.
	sub, _, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sess.Unsubscribe(sub)

	select {
	case ev := <-sub.Events():
		if ev.Type != pty.EventStatus || ev.State != pty.StateErrored {
			t.Errorf("expected errored status waiting on channel, got %+v", ev)
		}
	default:
		t.Error("expected a status event waiting on the channel")
	}
}

func TestSessionResize(t *testing.T) {
	m, cleanup := newTestManager(t, nil)
	defer cleanup()

	sess, err := m.GetOrCreate("resize-test")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateRunning)

	if err := sess.Resize(120, 40); err != nil {
		t.Errorf("resize failed: %v", err)
	}
}

func TestSessionInterrupt(t *testing.T) {
	m, cleanup := newTestManager(t, map[string]string{
		"sleeper.yaml": "command: /bin/sleep\nargs: [\"30\"]\n",
	})
	defer cleanup()

	sess, err := m.GetOrCreate("sleeper")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	waitForState(t, sess, pty.StateRunning)

	if err := sess.Interrupt(); err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}
	waitForState(t, sess, pty.StateExited)

	_, code := sess.State()
	if code == nil || *code >= 0 {
		t.Errorf("exit code: got %v, want negative signal exit", code)
	}
}
