// Package lockfile provides per-session mutual exclusion over the sync
// critical section, using advisory file locks so independent processes
// coordinate through the filesystem alone.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/iksnae/session-bridge/internal/logging"
	"github.com/iksnae/session-bridge/internal/store"
)

// DefaultStaleAfter is how old an unlocked lock file must be before
// CleanupStaleLocks removes it.
const DefaultStaleAfter = 10 * time.Minute

// lockInfo is written into the lock file for diagnostics.
type lockInfo struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquiredAt"`
}

// Service manages one lock file per session id under a single directory.
// Locks for different session ids never contend.
type Service struct {
	dir        string
	staleAfter time.Duration

	mu   sync.Mutex
	held map[string]*flock.Flock
}

// NewService creates a lock service storing lock files under dir. staleAfter
// of zero means DefaultStaleAfter.
func NewService(dir string, staleAfter time.Duration) *Service {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Service{
		dir:        dir,
		staleAfter: staleAfter,
		held:       make(map[string]*flock.Flock),
	}
}

func (s *Service) lockPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".lock")
}

// Acquire takes the session's lock. It fails fast with ErrLockContention
// when the lock is held by a live holder (this process or another); callers
// retry later.
func (s *Service) Acquire(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[sessionID]; ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrLockContention)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	lock := flock.New(s.lockPath(sessionID))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock for session %s: %w", sessionID, err)
	}
	if !locked {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrLockContention)
	}

	info, _ := json.Marshal(lockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Format(time.RFC3339)})
	if err := os.WriteFile(s.lockPath(sessionID), info, 0644); err != nil {
		logging.LogWarn("writing lock info for session %s: %v", sessionID, err)
	}

	s.held[sessionID] = lock
	return nil
}

// Release drops the session's lock. Releasing an unheld lock is an error.
func (s *Service) Release(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.held[sessionID]
	if !ok {
		return fmt.Errorf("session %s is not locked by this service", sessionID)
	}
	delete(s.held, sessionID)
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("releasing lock for session %s: %w", sessionID, err)
	}
	return nil
}

// IsLocked reports whether the session's lock is currently held, by this
// process or any other.
func (s *Service) IsLocked(sessionID string) bool {
	s.mu.Lock()
	if _, ok := s.held[sessionID]; ok {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if _, err := os.Stat(s.lockPath(sessionID)); errors.Is(err, os.ErrNotExist) {
		return false
	}
	lock := flock.New(s.lockPath(sessionID))
	locked, err := lock.TryLock()
	if err != nil {
		// Can't probe; assume held.
		return true
	}
	if !locked {
		return true
	}
	_ = lock.Unlock()
	return false
}

// CleanupStaleLocks removes lock files older than the staleness threshold
// whose flock can be taken, recovering from crashed prior runs. Returns how
// many files were removed.
func (s *Service) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-s.staleAfter)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		lock := flock.New(path)
		locked, err := lock.TryLock()
		if err != nil || !locked {
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.LogWarn("removing stale lock %s: %v", path, err)
		} else {
			removed++
			logging.LogInfo("reclaimed stale lock %s", entry.Name())
		}
		_ = lock.Unlock()
	}
	return removed, nil
}
