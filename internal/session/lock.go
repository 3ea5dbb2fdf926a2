package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mfalcier/conclave/internal/logging"
)

// lockFileName is the pidfile name inside a session directory.
const lockFileName = "engine.lock"

// ErrSessionBusy is returned when another live engine process holds the
// session directory.
var ErrSessionBusy = errors.New("session is held by another engine process")

// Lock is an acquired session-directory lock.
type Lock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path string
	log  *logging.Logger
}

// Acquire takes an exclusive pidfile lock on the session directory. A lock
// left by a dead process is treated as stale and replaced.
func Acquire(dir string, log *logging.Logger) (*Lock, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	path := filepath.Join(dir, lockFileName)

	if held, err := readLock(path); err == nil {
		if processAlive(held.PID) {
			return nil, fmt.Errorf("%w: pid %d on %s", ErrSessionBusy, held.PID, held.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
		log.Warn("stale session lock cleaned", "path", path, "old_pid", held.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	l := &Lock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		log:       log,
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, err
	}

	// O_EXCL closes the race against a concurrent acquirer.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrSessionBusy
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	log.Info("session lock acquired", "path", path, "pid", l.PID)
	return l, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	held, err := readLock(l.path)
	if err != nil || held.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil {
		return err
	}
	l.log.Info("session lock released", "path", l.path)
	return nil
}

// Held reports whether a live process holds the session directory.
func Held(dir string) bool {
	held, err := readLock(filepath.Join(dir, lockFileName))
	return err == nil && processAlive(held.PID)
}

func readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	l.path = path
	return &l, nil
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
