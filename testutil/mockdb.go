package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateBubbleDB creates a bubble database at path with the bubbleKV schema.
func CreateBubbleDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database %s: %v", path, err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS bubbleKV (
		key TEXT PRIMARY KEY,
		value TEXT
	)`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create bubbleKV table: %v", err)
	}

	return db
}

// InsertKV inserts one key/value row.
func InsertKV(t *testing.T, db *sql.DB, key, value string) {
	t.Helper()
	if _, err := db.Exec(
		"INSERT INTO bubbleKV (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	); err != nil {
		t.Fatalf("Failed to insert %s: %v", key, err)
	}
}

// QueryValue reads one value by key; missing keys fail the test.
func QueryValue(t *testing.T, db *sql.DB, key string) string {
	t.Helper()
	var value string
	if err := db.QueryRow("SELECT value FROM bubbleKV WHERE key = ?", key).Scan(&value); err != nil {
		t.Fatalf("Failed to query %s: %v", key, err)
	}
	return value
}
