package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !Held(dir) {
		t.Error("Held() = false while lock is live")
	}

	if _, err := Acquire(dir, nil); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Acquire error = %v, want ErrSessionBusy", err)
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if Held(dir) {
		t.Error("Held() = true after release")
	}

	// Release is idempotent.
	if err := l.Release(); err != nil {
		t.Errorf("second Release error = %v", err)
	}
}

func TestAcquireCleansStaleLock(t *testing.T) {
	dir := t.TempDir()

	// A lock owned by a pid that cannot be alive.
	stale := Lock{PID: 1 << 30, Hostname: "gone", StartedAt: time.Now()}
	data, err := json.MarshalIndent(stale, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire over stale lock = %v", err)
	}
	defer l.Release()

	if l.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want this process", l.PID)
	}
}

func TestReleaseDoesNotRemoveForeignLock(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Overwrite with a live foreign owner, then release the original
	// handle: the foreign lock must survive.
	foreign := Lock{PID: os.Getpid() + 1, Hostname: "other", StartedAt: time.Now()}
	data, _ := json.MarshalIndent(foreign, "", "  ")
	if err := os.WriteFile(filepath.Join(dir, lockFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); err != nil {
		t.Error("foreign lock file was removed")
	}
}
