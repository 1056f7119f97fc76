package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// PIDFile records the serving process and holds an exclusive lock for as
// long as the server runs, so a second server on the same data directory
// fails fast.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// NewPIDFile creates a PID file manager for path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string { return p.path }

// Acquire takes the lock and writes the current PID. It fails with
// ErrCodeIndexLocked when another live process holds the lock.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return errors.InternalError("create pid directory", err)
	}
	ok, err := p.lock.TryLock()
	if err != nil {
		return errors.InternalError("lock pid file", err)
	}
	if !ok {
		pid, _ := p.Read()
		return errors.Newf(errors.ErrCodeIndexLocked, "server already running (pid %d)", pid).
			WithDetail("pid_file", p.path)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = p.lock.Unlock()
		return errors.InternalError("write pid file", err)
	}
	return nil
}

// Release removes the PID file and drops the lock.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		_ = p.lock.Unlock()
		return fmt.Errorf("remove pid file: %w", err)
	}
	return p.lock.Unlock()
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.path, err)
	}
	return pid, nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
