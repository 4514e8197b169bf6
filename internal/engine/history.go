package engine

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds the in-memory operation log.
const DefaultHistorySize = 100

// HistoryEntry describes one past sync operation.
type HistoryEntry struct {
	ID          string
	SessionID   string
	Direction   Direction
	Timestamp   time.Time
	Status      string // "success" or "failed"
	SyncedItems int
	Error       string
}

// historyLog is a bounded, newest-first log of sync operations.
type historyLog struct {
	mu      sync.Mutex
	max     int
	entries []HistoryEntry
}

func newHistoryLog(max int) *historyLog {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &historyLog{max: max}
}

func (h *historyLog) record(result SyncResult, sessionID string, direction Direction) {
	entry := HistoryEntry{
		ID:          result.OperationID,
		SessionID:   sessionID,
		Direction:   direction,
		Timestamp:   time.Now().UTC(),
		Status:      "success",
		SyncedItems: result.SyncedItems,
	}
	if len(result.Errors) > 0 {
		entry.Status = "failed"
		entry.Error = result.Errors[0]
		for _, e := range result.Errors[1:] {
			entry.Error += "; " + e
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
}

func (h *historyLog) list() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
