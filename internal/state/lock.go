package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/storyloop/internal/logging"
)

// LockFileName is the run lock kept next to the state file.
const LockFileName = "run.lock"

// ErrLocked is returned when another live process holds the run lock.
var ErrLocked = errors.New("another storyloop run holds the lock")

// Lock marks the process currently driving the loop for a project.
type Lock struct {
	PID       int       `yaml:"pid"`
	Hostname  string    `yaml:"hostname"`
	StartedAt time.Time `yaml:"started_at"`

	path   string
	logger *logging.Logger
}

// LockPath returns the lock file used for the given state file.
func LockPath(stateFile string) string {
	return filepath.Join(filepath.Dir(stateFile), LockFileName)
}

// AcquireLock takes the run lock for stateFile. A lock left by a process
// that is no longer alive is removed and taken over. The logger may be nil.
func AcquireLock(stateFile string, logger *logging.Logger) (*Lock, error) {
	path := LockPath(stateFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if held, err := ReadLock(path); err == nil {
		if held.alive() {
			return nil, fmt.Errorf("%w: PID %d on %s since %s", ErrLocked, held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale run lock removed", "old_pid", held.PID, "hostname", held.Hostname)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		path:      path,
		logger:    logger,
	}
	data, err := yaml.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL settles the race between two processes that both saw no lock.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if held, readErr := ReadLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", ErrLocked, held.PID, held.Hostname)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if logger != nil {
		logger.Debug("run lock acquired", "pid", lock.PID, "path", path)
	}
	return lock, nil
}

// Release removes the lock file if this process still owns it. It is safe to
// call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	held, err := ReadLock(l.path)
	if err != nil || held.PID != l.PID || held.Hostname != l.Hostname {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("run lock released", "pid", l.PID)
	}
	return nil
}

// ReadLock parses a lock file.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// Holder reports the live lock holder for stateFile, if any.
func Holder(stateFile string) (*Lock, bool) {
	lock, err := ReadLock(LockPath(stateFile))
	if err != nil || !lock.alive() {
		return nil, false
	}
	return lock, true
}

// alive reports whether the holding process still runs. Locks from another
// host cannot be checked and are treated as live.
func (l *Lock) alive() bool {
	if l.PID <= 0 {
		return false
	}
	if host, err := os.Hostname(); err == nil && l.Hostname != "" && host != l.Hostname {
		return true
	}
	process, err := os.FindProcess(l.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
