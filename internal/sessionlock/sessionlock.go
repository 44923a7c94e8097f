// Package sessionlock implements a cross-process read/write lock file that
// arbitrates mutating access to a project between an interactive CLI driver
// and a long-running observability server.
package sessionlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Interface identifies which kind of process is holding or requesting the lock.
type Interface string

const (
	InterfaceCLI Interface = "cli"
	InterfaceWeb Interface = "web"
)

// Mode is the lock's access mode.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// ErrLockHeld is returned by Acquire(write) when another live process holds
// the write lock.
type ErrLockHeld struct {
	Holder Interface
	PID    int
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("session locked by %s (pid %d)", e.Holder, e.PID)
}

// ErrHolderAlive is returned by ForceUnlock when the recorded PID is still live.
type ErrHolderAlive struct {
	Holder Interface
	PID    int
}

func (e *ErrHolderAlive) Error() string {
	return fmt.Sprintf("cannot force-unlock: holder %s (pid %d) is still alive", e.Holder, e.PID)
}

// fileState is the on-disk JSON shape of the lock file.
type fileState struct {
	Interface Interface `json:"interface"`
	Mode      Mode      `json:"mode"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

// LockState is the result of GetLockState.
type LockState struct {
	Mode      Mode
	Holder    Interface
	Timestamp time.Time
	Held      bool
	PID       int
	Hostname  string
}

// Liveness checks whether a process is currently running. Overridable in
// tests; production code uses processIsAlive.
type Liveness func(pid int, hostname string) bool

// Lock is a file-backed, cross-process read/write lock.
type Lock struct {
	path     string
	hostname string
	pid      int
	isAlive  Liveness

	mu   sync.Mutex
	mode Mode // local process's current acquired mode; "" if not acquired
	iface Interface
}

// New creates a Lock backed by the file at path. hostname and pid identify
// this process for liveness checks against lock files written by others.
func New(path string) *Lock {
	hostname, _ := os.Hostname()
	return &Lock{
		path:     path,
		hostname: hostname,
		pid:      os.Getpid(),
		isAlive:  processIsAlive,
	}
}

// SetLiveness overrides the liveness check, for tests.
func (l *Lock) SetLiveness(fn Liveness) {
	l.isAlive = fn
}

// Acquire attempts to acquire the lock in mode for iface. A read acquisition
// always succeeds and never touches the file (observers coexist freely). A
// write acquisition succeeds iff the file is absent, held by this process,
// stale (holder not live), or corrupt.
func (l *Lock) Acquire(iface Interface, mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if mode == ModeRead {
		l.iface = iface
		l.mode = ModeRead
		return nil
	}

	existing, err := l.readFile()
	if err != nil && !os.IsNotExist(err) {
		// corrupt file: treat as absent
		existing = nil
	}

	if existing != nil {
		sameProcess := existing.PID == l.pid && existing.Hostname == l.hostname
		stale := !l.isAlive(existing.PID, existing.Hostname)
		if !sameProcess && !stale {
			return &ErrLockHeld{Holder: existing.Interface, PID: existing.PID}
		}
	}

	if err := l.writeFile(fileState{
		Interface: iface,
		Mode:      ModeWrite,
		PID:       l.pid,
		Hostname:  l.hostname,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}

	l.iface = iface
	l.mode = ModeWrite
	return nil
}

// Release removes the lock file only if it is recorded as held by this
// process; otherwise it logs a warning and does nothing else.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readFile()
	if err != nil {
		l.mode = ""
		return nil
	}
	if existing.PID != l.pid || existing.Hostname != l.hostname {
		slog.Warn("session lock release skipped: held by another process",
			slog.Int("holder_pid", existing.PID), slog.String("holder_hostname", existing.Hostname))
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	l.mode = ""
	return nil
}

// Upgrade acquires the write lock for iface; equivalent to Acquire(iface, write).
func (l *Lock) Upgrade(iface Interface) error {
	return l.Acquire(iface, ModeWrite)
}

// Downgrade releases the write lock and transitions local state to read.
func (l *Lock) Downgrade(iface Interface) error {
	if err := l.Release(); err != nil {
		return err
	}
	return l.Acquire(iface, ModeRead)
}

// IsWriteLockedByOther reports whether the lock file is present with a live
// PID belonging to a different process.
func (l *Lock) IsWriteLockedByOther() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readFile()
	if err != nil {
		return false
	}
	if existing.PID == l.pid && existing.Hostname == l.hostname {
		return false
	}
	return l.isAlive(existing.PID, existing.Hostname)
}

// GetLockState reports the current state of the lock file. A stale lock
// reports the same as no lock (Held=false).
func (l *Lock) GetLockState() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readFile()
	if err != nil {
		return LockState{}
	}
	if !l.isAlive(existing.PID, existing.Hostname) {
		return LockState{}
	}
	return LockState{
		Mode:      existing.Mode,
		Holder:    existing.Interface,
		Timestamp: existing.Timestamp,
		Held:      true,
		PID:       existing.PID,
		Hostname:  existing.Hostname,
	}
}

// ForceUnlock removes the lock file unconditionally if its holder is not
// live, or if the file is corrupt. It refuses (ErrHolderAlive) if the holder
// is still live.
func (l *Lock) ForceUnlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.readFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// corrupt: remove and succeed
		return os.Remove(l.path)
	}

	if l.isAlive(existing.PID, existing.Hostname) {
		return &ErrHolderAlive{Holder: existing.Interface, PID: existing.PID}
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("force unlock: %w", err)
	}
	return nil
}

func (l *Lock) readFile() (*fileState, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.New("corrupt lock file")
	}
	return &state, nil
}

// writeFile writes state atomically: write to a temp file in the same
// directory, then rename over the destination.
func (l *Lock) writeFile(state fileState) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal lock state: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp lock file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		// rename-over-existing is unsupported on some platforms; unlink then retry.
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("rename lock file: %w", err)
		}
		if err := os.Rename(tmp, l.path); err != nil {
			return fmt.Errorf("rename lock file after unlink: %w", err)
		}
	}
	return nil
}
