package sessionlock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func alwaysAlive(int, string) bool  { return true }
func alwaysDead(int, string) bool   { return false }

func TestReadAlwaysSucceeds(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "session.lock"))
	if err := l.Acquire(InterfaceWeb, ModeRead); err != nil {
		t.Fatalf("read acquire should never fail: %v", err)
	}
}

func TestWriteAcquireThenReleaseRestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	l := New(path)
	l.SetLiveness(alwaysAlive)

	before := l.GetLockState()
	if before.Held {
		t.Fatal("expected no lock held before acquire")
	}

	if err := l.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	after := l.GetLockState()
	if after.Held {
		t.Fatalf("expected no lock held after release, got %+v", after)
	}
}

func TestGetLockStateReportsHolderPIDAndHostname(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	l := New(path)
	l.SetLiveness(alwaysAlive)
	if err := l.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	state := l.GetLockState()
	if state.PID != l.pid {
		t.Fatalf("expected PID %d, got %d", l.pid, state.PID)
	}
	if state.Hostname != l.hostname {
		t.Fatalf("expected hostname %q, got %q", l.hostname, state.Hostname)
	}
}

func TestWriteAcquireDeniedByLiveOtherHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysAlive)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	other := New(path)
	other.pid = holder.pid + 1 // simulate a different process
	other.SetLiveness(alwaysAlive)

	err := other.Acquire(InterfaceWeb, ModeWrite)
	var lockHeld *ErrLockHeld
	if !errors.As(err, &lockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestWriteAcquireSucceedsOnStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysAlive)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	other := New(path)
	other.pid = holder.pid + 1
	other.SetLiveness(alwaysDead) // holder's pid now considered not live

	if err := other.Acquire(InterfaceWeb, ModeWrite); err != nil {
		t.Fatalf("expected stale lock to be reclaimable, got %v", err)
	}
}

func TestReleaseOnlyByRecordedPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysAlive)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	other := New(path)
	other.pid = holder.pid + 1
	other.SetLiveness(alwaysAlive)

	if err := other.Release(); err != nil {
		t.Fatalf("release from non-holder should be a no-op, not an error: %v", err)
	}

	state := other.GetLockState()
	if !state.Held {
		t.Fatal("lock should still be held; a non-holder's release must not remove it")
	}
}

func TestForceUnlockRefusesLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysAlive)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	err := holder.ForceUnlock()
	var holderAlive *ErrHolderAlive
	if !errors.As(err, &holderAlive) {
		t.Fatalf("expected ErrHolderAlive, got %v", err)
	}
}

func TestForceUnlockRemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysDead)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	if err := holder.ForceUnlock(); err != nil {
		t.Fatalf("expected force-unlock of stale lock to succeed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock file to be removed")
	}
}

func TestForceUnlockRemovesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	l := New(path)
	if err := l.ForceUnlock(); err != nil {
		t.Fatalf("expected corrupt lock file removal to succeed: %v", err)
	}
}

func TestIsWriteLockedByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")

	holder := New(path)
	holder.SetLiveness(alwaysAlive)
	if err := holder.Acquire(InterfaceCLI, ModeWrite); err != nil {
		t.Fatalf("holder acquire failed: %v", err)
	}

	other := New(path)
	other.pid = holder.pid + 1
	other.SetLiveness(alwaysAlive)

	if !other.IsWriteLockedByOther() {
		t.Fatal("expected other process to observe the lock as held")
	}
	if holder.IsWriteLockedByOther() {
		t.Fatal("holder should not see itself as another holder")
	}
}
