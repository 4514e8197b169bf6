package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
)

// maxLineSize bounds a single transcript line. Tool results can be large.
const maxLineSize = 16 * 1024 * 1024

// Store reads and writes JSONL transcripts under a root directory:
// <root>/<sessionID>.jsonl for live documents, <root>/backups/ for the
// before snapshots.
type Store struct {
	root string
	conv *Converter
}

// NewStore creates a transcript store rooted at root.
func NewStore(root string, groupWindow time.Duration) *Store {
	return &Store{root: root, conv: NewConverter(groupWindow)}
}

// ID implements store.Store.
func (s *Store) ID() string { return StoreID }

// AfterFile implements store.Store.
func (s *Store) AfterFile(sessionID string) string {
	return filepath.Join(s.root, sessionID+".jsonl")
}

// BeforeFile implements store.Store.
func (s *Store) BeforeFile(sessionID string) string {
	return filepath.Join(s.root, "backups", sessionID+".jsonl")
}

// ReadConversation implements store.Store. A missing file is an empty
// conversation; a malformed line is a ConversionError naming the line.
func (s *Store) ReadConversation(path, sessionID string) ([]canon.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening transcript %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, &store.ConversionError{
				Store:  StoreID,
				Record: fmt.Sprintf("%s line %d", filepath.Base(path), lineNo),
				Reason: "malformed JSON",
				Err:    err,
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript %s: %w", path, err)
	}

	return s.conv.Decode(records)
}

// WriteConversation implements store.Store. The write is atomic: a temp file
// in the same directory is renamed over the target.
func (s *Store) WriteConversation(path string, messages []canon.Message, sessionID string) error {
	records, err := s.conv.Encode(messages)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding transcript record %s: %w", records[i].UUID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing transcript %s: %w", path, err)
	}
	return nil
}

// CreateBackupBeforeSave implements store.Store.
func (s *Store) CreateBackupBeforeSave(sessionID string) error {
	if err := s.copyAfterToBefore(sessionID); err != nil {
		return &store.BackupError{Store: StoreID, SessionID: sessionID, Err: err}
	}
	return nil
}

// InitializeState implements store.Store: creates an empty transcript and
// backup for sessions that have never been synced. Existing files are left
// alone.
func (s *Store) InitializeState(sessionID string) error {
	after := s.AfterFile(sessionID)
	before := s.BeforeFile(sessionID)
	for _, path := range []string{after, before} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating transcript directory: %w", err)
		}
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// UpdateAfterSync implements store.Store: the before snapshot catches up to
// the just-written after file so the next diff starts clean.
func (s *Store) UpdateAfterSync(sessionID string) error {
	return s.copyAfterToBefore(sessionID)
}

// Cleanup implements store.Store. The transcript store holds no resources.
func (s *Store) Cleanup() error { return nil }

func (s *Store) copyAfterToBefore(sessionID string) error {
	after := s.AfterFile(sessionID)
	before := s.BeforeFile(sessionID)
	if err := os.MkdirAll(filepath.Dir(before), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	data, err := os.ReadFile(after)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return fmt.Errorf("reading %s: %w", after, err)
		}
	}
	tmp := before + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	if err := os.Rename(tmp, before); err != nil {
		return fmt.Errorf("replacing backup: %w", err)
	}
	return nil
}
