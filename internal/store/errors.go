package store

import (
	"errors"
	"fmt"
)

// ErrLockContention is returned when a session is already locked by a live
// holder. Callers should retry later; no data is at risk.
var ErrLockContention = errors.New("session is locked by another sync")

// ConversionError reports a malformed native document. It names the
// offending record so the bad entry can be found and fixed; conversion never
// silently drops records.
type ConversionError struct {
	Store  string // store tag
	Record string // native record identifier (line number, key, ...)
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: conversion failed at record %s: %s", e.Store, e.Record, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

// WriteVerificationError reports a post-write re-read whose message count
// does not match what was written. The on-disk file is left as written; the
// next sync's diff reconciles from the next before/after pair.
type WriteVerificationError struct {
	Store    string
	Path     string
	Expected int
	Actual   int
}

func (e *WriteVerificationError) Error() string {
	return fmt.Sprintf("%s: write verification failed for %s: wrote %d messages, re-read %d",
		e.Store, e.Path, e.Expected, e.Actual)
}

// BackupError reports a failed backup copy. Backup-first ordering is
// required for the correctness of the next sync's diff, so this is fatal for
// the save that triggered it and is never swallowed.
type BackupError struct {
	Store     string
	SessionID string
	Err       error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s: backup failed for session %s: %v", e.Store, e.SessionID, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }
