// Package state persists per-session sync bookkeeping: message count, last
// sync time, and the per-store backup paths. One JSON file per session.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted record for one session.
type State struct {
	SessionID         string            `json:"sessionId"`
	MessageCount      int               `json:"messageCount"`
	LastSyncTimestamp time.Time         `json:"lastSyncTimestamp"`
	BackupPaths       map[string]string `json:"backupPaths,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched; Update merges,
// never replaces.
type Patch struct {
	MessageCount      *int
	LastSyncTimestamp *time.Time
	BackupPaths       map[string]string
}

// Service stores one state file per session under dir.
type Service struct {
	dir string
}

// NewService creates a state service rooted at dir.
func NewService(dir string) *Service {
	return &Service{dir: dir}
}

func (s *Service) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Has reports whether the session has persisted state.
func (s *Service) Has(sessionID string) (bool, error) {
	_, err := os.Stat(s.path(sessionID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking state for session %s: %w", sessionID, err)
}

// Get loads the session's state.
func (s *Service) Get(sessionID string) (*State, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("reading state for session %s: %w", sessionID, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state for session %s: %w", sessionID, err)
	}
	return &st, nil
}

// Initialize creates a zero-valued state for the session if none exists.
// Idempotent: existing state is never overwritten.
func (s *Service) Initialize(sessionID string) error {
	has, err := s.Has(sessionID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	return s.write(&State{SessionID: sessionID, BackupPaths: map[string]string{}})
}

// Update merges the patch into the session's state. Fields not present in
// the patch are preserved; BackupPaths entries merge per store key.
func (s *Service) Update(sessionID string, patch Patch) error {
	st, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if patch.MessageCount != nil {
		st.MessageCount = *patch.MessageCount
	}
	if patch.LastSyncTimestamp != nil {
		st.LastSyncTimestamp = *patch.LastSyncTimestamp
	}
	if len(patch.BackupPaths) > 0 {
		if st.BackupPaths == nil {
			st.BackupPaths = map[string]string{}
		}
		for k, v := range patch.BackupPaths {
			st.BackupPaths[k] = v
		}
	}
	return s.write(st)
}

func (s *Service) write(st *State) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state for session %s: %w", st.SessionID, err)
	}
	path := s.path(st.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state for session %s: %w", st.SessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state for session %s: %w", st.SessionID, err)
	}
	return nil
}
