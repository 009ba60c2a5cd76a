package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RuntimeState is written next to the pid file so `daemon status` can find
// the API address of a running daemon.
type RuntimeState struct {
	PID        int       `json:"pid"`
	Addr       string    `json:"addr"`
	StartedAt  time.Time `json:"started_at"`
	BudgetID   string    `json:"budget_id"`
	ConfigPath string    `json:"config_path,omitempty"`
}

// StatePath returns the runtime state file for a pid file.
func StatePath(pidFile string) string {
	return pidFile + ".json"
}

// WritePID writes pid to path.
func WritePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// ReadPID reads a pid file. A missing file yields an error wrapping
// os.ErrNotExist.
func ReadPID(path string) (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists.
func ProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// EnsureNotRunning fails if pidFile names a live process and clears stale
// pid and state files otherwise.
func EnsureNotRunning(pidFile string) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if ProcessAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(StatePath(pidFile))
	return nil
}

// WriteState stores st as indented JSON.
func WriteState(path string, st RuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// ReadState loads a RuntimeState written by WriteState.
func ReadState(path string) (RuntimeState, error) {
	var st RuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
