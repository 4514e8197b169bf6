// Package store defines the boundary between the sync engine and the two
// native conversation stores. Each store owns its own file layout and wire
// format; the engine only ever sees canonical message arrays and opaque
// before/after file paths.
package store

import (
	"github.com/iksnae/session-bridge/internal/canon"
)

// Store is one native conversation store. Implementations own all I/O for
// their format; conversion itself is pure and lives in each store's
// converter.
type Store interface {
	// ID is the stable store tag recorded in canon.Metadata.SourceStore.
	ID() string

	// BeforeFile is the path of the session's backup snapshot: the native
	// document as it stood before the most recent sync-triggering activity.
	BeforeFile(sessionID string) string

	// AfterFile is the path of the session's live native document.
	AfterFile(sessionID string) string

	// ReadConversation decodes the native document at path into canonical
	// messages. A missing file reads as an empty conversation.
	ReadConversation(path, sessionID string) ([]canon.Message, error)

	// WriteConversation encodes messages into the native format and writes
	// them to path, replacing the session's previous content.
	WriteConversation(path string, messages []canon.Message, sessionID string) error

	// CreateBackupBeforeSave copies the after file over the before file.
	// Callers must invoke this before any destructive native write; a
	// failure is fatal for the save (see BackupError).
	CreateBackupBeforeSave(sessionID string) error

	// InitializeState creates empty native documents and backups for a
	// session that has never been synced. Idempotent.
	InitializeState(sessionID string) error

	// UpdateAfterSync refreshes the before snapshot from the after file so
	// the next sync diffs against post-sync state.
	UpdateAfterSync(sessionID string) error

	// Cleanup releases any resources held by the store.
	Cleanup() error
}

// SessionTracker is optionally implemented by stores that keep their own
// session bookkeeping (native session pointers, indexes) that must be
// refreshed after a sync.
type SessionTracker interface {
	UpdateSessionTracking(sessionID string) error
}
