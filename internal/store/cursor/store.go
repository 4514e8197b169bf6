package cursor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bubbleKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// Store reads and writes bubble databases under a root directory:
// <root>/<sessionID>.db for live documents, <root>/backups/ for the before
// snapshots. Connections are opened per call; the session lock serializes
// access, so file copies of the database are consistent.
type Store struct {
	root string
	conv *Converter
}

// NewStore creates a bubble store rooted at root.
func NewStore(root string, groupWindow time.Duration) *Store {
	return &Store{root: root, conv: NewConverter(groupWindow)}
}

// ID implements store.Store.
func (s *Store) ID() string { return StoreID }

// AfterFile implements store.Store.
func (s *Store) AfterFile(sessionID string) string {
	return filepath.Join(s.root, sessionID+".db")
}

// BeforeFile implements store.Store.
func (s *Store) BeforeFile(sessionID string) string {
	return filepath.Join(s.root, "backups", sessionID+".db")
}

func bubbleKey(sessionID string, position int) string {
	return fmt.Sprintf("bubble:%s:%06d", sessionID, position)
}

func bubblePrefix(sessionID string) string {
	return "bubble:" + sessionID + ":"
}

// ReadConversation implements store.Store. A missing database is an empty
// conversation; a malformed bubble is a ConversionError naming its key.
func (s *Store) ReadConversation(path, sessionID string) ([]canon.Message, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	bubbles, err := readBubbles(db, sessionID)
	if err != nil {
		return nil, err
	}
	return s.conv.Decode(bubbles)
}

func readBubbles(db *sql.DB, sessionID string) ([]Bubble, error) {
	prefix := bubblePrefix(sessionID)
	rows, err := db.Query(
		"SELECT key, value FROM bubbleKV WHERE key LIKE ? AND value IS NOT NULL ORDER BY key",
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("querying bubbles: %w", err)
	}
	defer rows.Close()

	var bubbles []Bubble
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning bubble row: %w", err)
		}
		var b Bubble
		if err := json.Unmarshal([]byte(value), &b); err != nil {
			return nil, &store.ConversionError{Store: StoreID, Record: key, Reason: "malformed bubble JSON", Err: err}
		}
		pos, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			return nil, &store.ConversionError{Store: StoreID, Record: key, Reason: "malformed bubble key", Err: err}
		}
		b.SessionID = sessionID
		b.Position = pos
		bubbles = append(bubbles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bubble rows: %w", err)
	}
	return bubbles, nil
}

// WriteConversation implements store.Store. The session's rows are replaced
// in one transaction.
func (s *Store) WriteConversation(path string, messages []canon.Message, sessionID string) error {
	bubbles, err := s.conv.Encode(messages)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	db, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM bubbleKV WHERE key LIKE ?", bubblePrefix(sessionID)+"%"); err != nil {
		return fmt.Errorf("clearing session bubbles: %w", err)
	}
	for i := range bubbles {
		value, err := json.Marshal(&bubbles[i])
		if err != nil {
			return fmt.Errorf("encoding bubble %s: %w", bubbles[i].BubbleID, err)
		}
		key := bubbleKey(sessionID, bubbles[i].Position)
		if _, err := tx.Exec("INSERT INTO bubbleKV (key, value) VALUES (?, ?)", key, string(value)); err != nil {
			return fmt.Errorf("inserting bubble %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bubbles: %w", err)
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

// InitializeState implements store.Store: creates an empty bubble database
// and backup copy for a never-synced session.
func (s *Store) InitializeState(sessionID string) error {
	after := s.AfterFile(sessionID)
	if err := os.MkdirAll(filepath.Dir(after), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	db, err := openDatabase(after)
	if err != nil {
		return err
	}
	db.Close()

	before := s.BeforeFile(sessionID)
	if _, err := os.Stat(before); os.IsNotExist(err) {
		return s.copyAfterToBefore(sessionID)
	} else if err != nil {
		return fmt.Errorf("checking backup: %w", err)
	}
	return nil
}

// UpdateAfterSync implements store.Store.
func (s *Store) UpdateAfterSync(sessionID string) error {
	return s.copyAfterToBefore(sessionID)
}

// UpdateSessionTracking implements store.SessionTracker: refreshes the
// session's summary row with its bubble count and update time.
func (s *Store) UpdateSessionTracking(sessionID string) error {
	db, err := openDatabase(s.AfterFile(sessionID))
	if err != nil {
		return err
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM bubbleKV WHERE key LIKE ?", bubblePrefix(sessionID)+"%",
	).Scan(&count); err != nil {
		return fmt.Errorf("counting bubbles: %w", err)
	}
	summary, err := json.Marshal(map[string]interface{}{
		"bubbleCount": count,
		"updatedAt":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding session summary: %w", err)
	}
	_, err = db.Exec(
		"INSERT INTO bubbleKV (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		"session:"+sessionID, string(summary),
	)
	if err != nil {
		return fmt.Errorf("updating session summary: %w", err)
	}
	return nil
}

// Cleanup implements store.Store. Connections are per-call, nothing to close.
func (s *Store) Cleanup() error { return nil }

func (s *Store) copyAfterToBefore(sessionID string) error {
	after := s.AfterFile(sessionID)
	before := s.BeforeFile(sessionID)
	if err := os.MkdirAll(filepath.Dir(before), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := os.Stat(after); os.IsNotExist(err) {
		if err := s.InitializeState(sessionID); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(after)
	if err != nil {
		return fmt.Errorf("reading %s: %w", after, err)
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

// openDatabase opens (creating if needed) a bubble database and ensures the
// schema exists.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}
