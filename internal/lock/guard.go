// Package lock keeps two incsync processes from running the same long-lived
// operation against one project.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Guard is a PID file owned by one process at a time.
type Guard struct {
	name string
	path string
}

// New creates a guard for the operation name, kept as <dir>/<name>.pid.
func New(dir, name string) *Guard {
	return &Guard{name: name, path: filepath.Join(dir, name+".pid")}
}

// Path returns the PID file location.
func (g *Guard) Path() string { return g.path }

// Acquire claims the guard for this process. A PID file left by a process
// that no longer exists, or one that cannot be parsed, is replaced.
func (g *Guard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return fmt.Errorf("create guard dir: %w", err)
	}

	pid, err := g.owner()
	switch {
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	case err == nil && pid == os.Getpid():
		return nil
	case err == nil && processExists(pid):
		return &HeldError{Name: g.name, PID: pid}
	case err == nil:
		_ = os.Remove(g.path)
	}

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a race with another process starting at the same time.
			pid, _ := g.owner()
			return &HeldError{Name: g.name, PID: pid}
		}
		return fmt.Errorf("write pid file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the PID file if this process owns it.
func (g *Guard) Release() error {
	pid, err := g.owner()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// owner returns the PID recorded in the file. Unparseable content reads as
// PID 0, which never exists.
func (g *Guard) owner() (int, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// HeldError reports that another live process owns the guard.
type HeldError struct {
	Name string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s already running (pid %d)", e.Name, e.PID)
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
