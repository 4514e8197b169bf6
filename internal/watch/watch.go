// Package watch runs the sync daemon: it watches both stores' live files and
// triggers a session sync after changes settle. Rapid bursts of writes are
// batched with a debounce window.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iksnae/session-bridge/internal/engine"
	"github.com/iksnae/session-bridge/internal/logging"
	"github.com/iksnae/session-bridge/internal/registry"
	"github.com/iksnae/session-bridge/internal/store"
	"github.com/iksnae/session-bridge/internal/store/claude"
	"github.com/iksnae/session-bridge/internal/store/cursor"
)

// DefaultDebounce is how long a session's changes are allowed to settle
// before a sync is triggered.
const DefaultDebounce = 500 * time.Millisecond

// Daemon watches the two store roots and reconciles sessions as their live
// documents change.
type Daemon struct {
	engine     *engine.Engine
	reg        *registry.Registry
	claudeRoot string
	cursorRoot string
	debounce   time.Duration

	queueMu sync.Mutex
	queue   map[string]time.Time // session tag -> last event time
}

// New creates a daemon. debounce of zero means DefaultDebounce.
func New(eng *engine.Engine, reg *registry.Registry, claudeRoot, cursorRoot string, debounce time.Duration) *Daemon {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Daemon{
		engine:     eng,
		reg:        reg,
		claudeRoot: claudeRoot,
		cursorRoot: cursorRoot,
		debounce:   debounce,
		queue:      make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled. It blocks.
func (d *Daemon) Run(ctx context.Context) error {
	for _, dir := range []string{d.claudeRoot, d.cursorRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating watch directory %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{d.claudeRoot, d.cursorRoot} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	if n, err := d.engine.CleanupStaleLocks(); err != nil {
		logging.LogWarn("stale lock cleanup: %v", err)
	} else if n > 0 {
		logging.LogInfo("reclaimed %d stale lock(s)", n)
	}

	logging.LogInfo("watching %s and %s (debounce %s)", d.claudeRoot, d.cursorRoot, d.debounce)

	ticker := time.NewTicker(d.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.enqueue(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.LogWarn("watcher error: %v", err)
		case <-ticker.C:
			d.processDue(ctx)
		}
	}
}

// enqueue maps a changed path to its session tag and records the event time.
func (d *Daemon) enqueue(path string) {
	tag, ok := d.tagForPath(path)
	if !ok {
		return
	}
	d.queueMu.Lock()
	d.queue[tag] = time.Now()
	d.queueMu.Unlock()
	logging.LogDebug("change detected for session %s (%s)", tag, path)
}

// processDue syncs every session whose last change is older than the
// debounce window. Lock contention is not fatal; the session is retried on
// its next change.
func (d *Daemon) processDue(ctx context.Context) {
	cutoff := time.Now().Add(-d.debounce)

	d.queueMu.Lock()
	var due []string
	for tag, at := range d.queue {
		if at.Before(cutoff) {
			due = append(due, tag)
			delete(d.queue, tag)
		}
	}
	d.queueMu.Unlock()

	for _, tag := range due {
		if ctx.Err() != nil {
			return
		}
		sess, err := d.sessionFor(tag)
		if err != nil {
			logging.LogWarn("session %s: %v", tag, err)
			continue
		}
		changed, err := d.engine.HasChangesToSync(sess)
		if err != nil {
			logging.LogWarn("session %s: change check: %v", tag, err)
			continue
		}
		if !changed {
			continue
		}
		result := d.engine.SyncSession(ctx, sess, engine.DirectionBidirectional)
		if !result.Success {
			for _, msg := range result.Errors {
				if strings.Contains(msg, store.ErrLockContention.Error()) {
					logging.LogDebug("session %s: busy, will retry on next change", tag)
				} else {
					logging.LogError("session %s: %s", tag, msg)
				}
			}
		}
	}
}

func (d *Daemon) sessionFor(tag string) (engine.Session, error) {
	entry, err := d.reg.Get(tag)
	if err != nil {
		return engine.Session{}, err
	}
	sess := engine.Session{Tag: tag}
	if entry != nil {
		sess.NativeIDs = entry.NativeIDs
	}
	return sess, nil
}

// tagForPath resolves a changed file to a registered session tag. Temp
// files, backups, and unregistered sessions are ignored.
func (d *Daemon) tagForPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return "", false
	}

	var storeID, native string
	switch {
	case withinDir(d.claudeRoot, path) && strings.HasSuffix(base, ".jsonl"):
		storeID = claude.StoreID
		native = strings.TrimSuffix(base, ".jsonl")
	case withinDir(d.cursorRoot, path) && strings.HasSuffix(base, ".db"):
		storeID = cursor.StoreID
		native = strings.TrimSuffix(base, ".db")
	default:
		return "", false
	}

	entries, err := d.reg.List()
	if err != nil {
		logging.LogWarn("listing registry: %v", err)
		return "", false
	}
	for _, entry := range entries {
		if entry.NativeIDs[storeID] == native {
			return entry.Tag, true
		}
	}
	// A session registered under its tag with no explicit native mapping.
	for _, entry := range entries {
		if entry.Tag == native && entry.NativeIDs[storeID] == "" {
			return entry.Tag, true
		}
	}
	return "", false
}

// withinDir reports whether path is directly inside dir (backup
// subdirectories don't count).
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == filepath.Base(path)
}
