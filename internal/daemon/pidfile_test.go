package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ynabmon.pid")
	if err := WritePID(path, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}
}

func TestReadPIDErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadPID(filepath.Join(dir, "missing.pid")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v, want os.ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(bad); err == nil {
		t.Fatal("expected error for garbage pid file")
	}
}

func TestEnsureNotRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "ynabmon.pid")

	if err := EnsureNotRunning(pidFile); err != nil {
		t.Fatalf("no pid file: %v", err)
	}

	if err := WritePID(pidFile, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if err := EnsureNotRunning(pidFile); err == nil {
		t.Fatal("expected error while our own pid is alive")
	}
}

func TestProcessAlive(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Fatal("current process should be alive")
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := StatePath(filepath.Join(t.TempDir(), "ynabmon.pid"))
	want := RuntimeState{
		PID:       7,
		Addr:      "127.0.0.1:8787",
		StartedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		BudgetID:  "b1",
	}
	if err := WriteState(path, want); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if !got.StartedAt.Equal(want.StartedAt) || got.Addr != want.Addr || got.BudgetID != "b1" || got.PID != 7 {
		t.Fatalf("state = %+v, want %+v", got, want)
	}
}
