package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), ".storyloop", "state.yaml")

	lock, err := AcquireLock(stateFile, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", lock.PID, os.Getpid())
	}

	holder, ok := Holder(stateFile)
	if !ok || holder.PID != os.Getpid() {
		t.Fatalf("Holder() = %v, %v", holder, ok)
	}

	if _, err := AcquireLock(stateFile, nil); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireLock() error = %v, want ErrLocked", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if _, ok := Holder(stateFile); ok {
		t.Error("lock still held after Release")
	}

	again, err := AcquireLock(stateFile, nil)
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	_ = again.Release()
}

func TestAcquireLock_TakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.yaml")
	host, _ := os.Hostname()

	// PIDs are bounded well below this on Linux and macOS.
	stale := Lock{PID: 1 << 30, Hostname: host, StartedAt: time.Now().Add(-time.Hour)}
	data, err := yaml.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LockPath(stateFile), data, 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(stateFile, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	held, err := ReadLock(LockPath(stateFile))
	if err != nil {
		t.Fatal(err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want %d", held.PID, os.Getpid())
	}
}

func TestRelease_LeavesForeignLock(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	lock, err := AcquireLock(stateFile, nil)
	if err != nil {
		t.Fatal(err)
	}

	other := Lock{PID: os.Getpid() + 1, Hostname: lock.Hostname, StartedAt: time.Now()}
	data, _ := yaml.Marshal(other)
	if err := os.WriteFile(LockPath(stateFile), data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(LockPath(stateFile)); err != nil {
		t.Errorf("foreign lock removed: %v", err)
	}
}
