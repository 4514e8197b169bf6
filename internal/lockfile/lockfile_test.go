package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/session-bridge/internal/store"
)

func TestAcquireRelease(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	if err := svc.Acquire("sess-1"); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !svc.IsLocked("sess-1") {
		t.Error("IsLocked() = false after Acquire")
	}
	if err := svc.Release("sess-1"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	// Re-acquire after release.
	if err := svc.Acquire("sess-1"); err != nil {
		t.Fatalf("Acquire() after Release error: %v", err)
	}
	if err := svc.Release("sess-1"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
}

func TestAcquireContention(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, 0)

	if err := svc.Acquire("sess-1"); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer svc.Release("sess-1")

	// Same service, same session.
	if err := svc.Acquire("sess-1"); !errors.Is(err, store.ErrLockContention) {
		t.Errorf("second Acquire() = %v, want ErrLockContention", err)
	}

	// Another service over the same directory (separate process stand-in).
	other := NewService(dir, 0)
	if err := other.Acquire("sess-1"); !errors.Is(err, store.ErrLockContention) {
		t.Errorf("other service Acquire() = %v, want ErrLockContention", err)
	}
	if !other.IsLocked("sess-1") {
		t.Error("other service IsLocked() = false for a held lock")
	}
}

func TestDifferentSessionsDoNotContend(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	if err := svc.Acquire("sess-1"); err != nil {
		t.Fatalf("Acquire(sess-1) error: %v", err)
	}
	if err := svc.Acquire("sess-2"); err != nil {
		t.Errorf("Acquire(sess-2) error: %v", err)
	}
	svc.Release("sess-1")
	svc.Release("sess-2")
}

func TestReleaseUnheldFails(t *testing.T) {
	svc := NewService(t.TempDir(), 0)
	if err := svc.Release("sess-1"); err == nil {
		t.Error("Release() of an unheld lock should fail")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			results <- svc.Acquire("sess-1")
		}()
	}

	acquired, contended := 0, 0
	for i := 0; i < workers; i++ {
		err := <-results
		switch {
		case err == nil:
			acquired++
		case errors.Is(err, store.ErrLockContention):
			contended++
		default:
			t.Errorf("unexpected Acquire() error: %v", err)
		}
	}
	if acquired != 1 {
		t.Errorf("%d goroutines acquired the lock, want exactly 1", acquired)
	}
	if contended != workers-1 {
		t.Errorf("%d goroutines saw contention, want %d", contended, workers-1)
	}
}

func TestIsLockedUnheld(t *testing.T) {
	svc := NewService(t.TempDir(), 0)
	if svc.IsLocked("sess-1") {
		t.Error("IsLocked() = true for a never-locked session")
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, time.Minute)

	// A stale leftover from a crashed run: old mtime, flock not held.
	stale := filepath.Join(dir, "old-session.lock")
	if err := os.WriteFile(stale, []byte(`{"pid":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatal(err)
	}

	// A fresh lock file should survive even though it is unlocked.
	fresh := filepath.Join(dir, "recent-session.lock")
	if err := os.WriteFile(fresh, []byte(`{"pid":1}`), 0644); err != nil {
		t.Fatal(err)
	}

	// A held lock should survive regardless of age.
	if err := svc.Acquire("held-session"); err != nil {
		t.Fatal(err)
	}
	defer svc.Release("held-session")
	heldPath := filepath.Join(dir, "held-session.lock")
	if err := os.Chtimes(heldPath, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.CleanupStaleLocks()
	if err != nil {
		t.Fatalf("CleanupStaleLocks() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupStaleLocks() removed %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale lock file still present")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh lock file was removed")
	}
	if _, err := os.Stat(heldPath); err != nil {
		t.Error("held lock file was removed")
	}
}

func TestCleanupMissingDirectory(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "nope"), 0)
	removed, err := svc.CleanupStaleLocks()
	if err != nil {
		t.Fatalf("CleanupStaleLocks() error: %v", err)
	}
	if removed != 0 {
		t.Errorf("CleanupStaleLocks() = %d, want 0", removed)
	}
}
