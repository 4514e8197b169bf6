// Package engine orchestrates the end-to-end reconcile-and-verify protocol
// between two stores: acquire the session lock, initialize state, diff each
// direction, apply to the other store, write through its converter, verify,
// and persist sync state. All collaborators are constructor-injected.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/diff"
	"github.com/iksnae/session-bridge/internal/lockfile"
	"github.com/iksnae/session-bridge/internal/logging"
	"github.com/iksnae/session-bridge/internal/state"
	"github.com/iksnae/session-bridge/internal/store"
)

// Direction selects which way messages flow in one SyncSession call.
type Direction string

const (
	// DirectionPush replays primary-store changes into the secondary store.
	DirectionPush Direction = "push"
	// DirectionPull replays secondary-store changes into the primary store.
	DirectionPull Direction = "pull"
	// DirectionBidirectional runs push then pull.
	DirectionBidirectional Direction = "bidirectional"
)

// ParseDirection validates a user-supplied direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionPush, DirectionPull, DirectionBidirectional:
		return Direction(s), nil
	case "":
		return DirectionBidirectional, nil
	default:
		return "", fmt.Errorf("unknown direction %q (want push, pull, or bidirectional)", s)
	}
}

// Session identifies one logical conversation: the user-facing tag plus each
// store's native session id (they differ, and the native side can change on
// continuation).
type Session struct {
	Tag       string
	NativeIDs map[string]string // store id -> native session id
}

// NativeID returns the session id a store knows this session by, defaulting
// to the tag for stores with no registered mapping.
func (s Session) NativeID(storeID string) string {
	if id := s.NativeIDs[storeID]; id != "" {
		return id
	}
	return s.Tag
}

// SyncResult is what callers get back. A failed sync never panics or returns
// a bare error: Errors carries the per-direction failures so the caller can
// show a qualified status.
type SyncResult struct {
	Success     bool
	OperationID string
	SyncedItems int
	Errors      []string
	Duration    time.Duration
}

// Engine drives synchronization between a primary and a secondary store.
type Engine struct {
	primary   store.Store
	secondary store.Store
	locks     *lockfile.Service
	states    *state.Service
	history   *historyLog
}

// New assembles an engine. historySize bounds the in-memory operation log;
// zero means DefaultHistorySize.
func New(primary, secondary store.Store, locks *lockfile.Service, states *state.Service, historySize int) *Engine {
	return &Engine{
		primary:   primary,
		secondary: secondary,
		locks:     locks,
		states:    states,
		history:   newHistoryLog(historySize),
	}
}

// CleanupStaleLocks reclaims abandoned locks from crashed prior runs. Run it
// opportunistically at startup.
func (e *Engine) CleanupStaleLocks() (int, error) {
	return e.locks.CleanupStaleLocks()
}

// SyncSession reconciles one session in the given direction(s). The session
// lock is held for the whole call and released on every exit path.
func (e *Engine) SyncSession(ctx context.Context, sess Session, direction Direction) SyncResult {
	start := time.Now()
	result := SyncResult{OperationID: uuid.NewString()}

	finish := func() SyncResult {
		result.Duration = time.Since(start)
		result.Success = len(result.Errors) == 0
		e.history.record(result, sess.Tag, direction)
		return result
	}

	if err := e.locks.Acquire(sess.Tag); err != nil {
		result.Errors = append(result.Errors, err.Error())
		logging.LogWarn("sync %s session %s: %v", result.OperationID, sess.Tag, err)
		return finish()
	}
	defer func() {
		if err := e.locks.Release(sess.Tag); err != nil {
			logging.LogError("sync %s session %s: releasing lock: %v", result.OperationID, sess.Tag, err)
		}
	}()

	if err := e.ensureInitialized(sess); err != nil {
		result.Errors = append(result.Errors, err.Error())
		logging.LogError("sync %s session %s: %v", result.OperationID, sess.Tag, err)
		return finish()
	}

	// Plan every direction before applying any: the first apply writes into
	// a store the second direction diffs, so diffs must be captured from the
	// pre-sync state.
	var plans []directionPlan
	for _, dir := range directionsOf(direction) {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		src, dst := e.endpoints(dir)
		plan, err := e.planDirection(dir, src, dst, sess)
		if err != nil {
			// One direction failing must not prevent the other from running.
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dir, err))
			logging.LogError("sync %s session %s direction %s: %v", result.OperationID, sess.Tag, dir, err)
			continue
		}
		if plan != nil {
			plans = append(plans, *plan)
		}
	}

	finalCount := -1
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		synced, count, err := e.applyDirection(plan, sess)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", plan.dir, err))
			logging.LogError("sync %s session %s direction %s: %v", result.OperationID, sess.Tag, plan.dir, err)
			continue
		}
		result.SyncedItems += synced
		if count >= 0 {
			finalCount = count
		}
		logging.LogDebug("sync %s session %s direction %s: %d item(s)", result.OperationID, sess.Tag, plan.dir, synced)
	}

	if len(result.Errors) == 0 {
		if err := e.afterSync(sess, finalCount); err != nil {
			result.Errors = append(result.Errors, err.Error())
			logging.LogError("sync %s session %s: %v", result.OperationID, sess.Tag, err)
		}
	}

	logging.LogInfo("sync %s session %s: %d item(s), %d error(s)",
		result.OperationID, sess.Tag, result.SyncedItems, len(result.Errors))
	return finish()
}

// HasChangesToSync computes both directions' diffs without applying
// anything. Cheap pre-check so callers skip lock contention when nothing
// changed.
func (e *Engine) HasChangesToSync(sess Session) (bool, error) {
	for _, s := range []store.Store{e.primary, e.secondary} {
		native := sess.NativeID(s.ID())
		before, err := s.ReadConversation(s.BeforeFile(native), native)
		if err != nil {
			return false, err
		}
		after, err := s.ReadConversation(s.AfterFile(native), native)
		if err != nil {
			return false, err
		}
		if diff.Compute(before, after).HasChanges {
			return true, nil
		}
	}
	return false, nil
}

// OperationHistory returns the bounded in-memory log of past operations,
// newest first.
func (e *Engine) OperationHistory() []HistoryEntry {
	return e.history.list()
}

// Stores returns the primary and secondary store, in that order.
func (e *Engine) Stores() (store.Store, store.Store) {
	return e.primary, e.secondary
}

func directionsOf(d Direction) []Direction {
	switch d {
	case DirectionPush, DirectionPull:
		return []Direction{d}
	default:
		return []Direction{DirectionPush, DirectionPull}
	}
}

func (e *Engine) endpoints(d Direction) (src, dst store.Store) {
	if d == DirectionPull {
		return e.secondary, e.primary
	}
	return e.primary, e.secondary
}

func (e *Engine) ensureInitialized(sess Session) error {
	has, err := e.states.Has(sess.Tag)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	for _, s := range []store.Store{e.primary, e.secondary} {
		if err := s.InitializeState(sess.NativeID(s.ID())); err != nil {
			return fmt.Errorf("initializing %s store: %w", s.ID(), err)
		}
	}
	if err := e.states.Initialize(sess.Tag); err != nil {
		return err
	}
	return e.states.Update(sess.Tag, state.Patch{
		BackupPaths: map[string]string{
			e.primary.ID():   e.primary.BeforeFile(sess.NativeID(e.primary.ID())),
			e.secondary.ID(): e.secondary.BeforeFile(sess.NativeID(e.secondary.ID())),
		},
	})
}

// directionPlan is one direction's edit script, computed from the source's
// before/after snapshots prior to any write.
type directionPlan struct {
	dir Direction
	dst store.Store
	ops []diff.Operation
}

// planDirection diffs the source store's before snapshot against its current
// state. Returns nil when the direction has nothing to do.
func (e *Engine) planDirection(dir Direction, src, dst store.Store, sess Session) (*directionPlan, error) {
	srcID := sess.NativeID(src.ID())

	before, err := src.ReadConversation(src.BeforeFile(srcID), srcID)
	if err != nil {
		return nil, fmt.Errorf("reading %s before snapshot: %w", src.ID(), err)
	}
	after, err := src.ReadConversation(src.AfterFile(srcID), srcID)
	if err != nil {
		return nil, fmt.Errorf("reading %s after snapshot: %w", src.ID(), err)
	}

	d := diff.Compute(before, after)
	if !d.HasChanges {
		return nil, nil
	}
	return &directionPlan{dir: dir, dst: dst, ops: d.Operations}, nil
}

// applyDirection replays a plan onto the target's current array, writes, and
// verifies. Returns the number of added messages and the target's resulting
// message count.
func (e *Engine) applyDirection(plan directionPlan, sess Session) (int, int, error) {
	dst := plan.dst
	dstID := sess.NativeID(dst.ID())

	current, err := dst.ReadConversation(dst.AfterFile(dstID), dstID)
	if err != nil {
		return 0, -1, fmt.Errorf("reading %s current state: %w", dst.ID(), err)
	}
	ops := pruneApplied(current, plan.ops)
	if len(ops) == 0 {
		return 0, -1, nil
	}
	updated, err := diff.Apply(current, ops)
	if err != nil {
		return 0, -1, fmt.Errorf("applying %d operation(s) to %s: %w", len(ops), dst.ID(), err)
	}

	target := dst.AfterFile(dstID)
	if err := dst.WriteConversation(target, updated, dstID); err != nil {
		return 0, -1, fmt.Errorf("writing %s: %w", dst.ID(), err)
	}

	// Verify: the write already happened, so a mismatch fails this direction
	// only and the file stays as written; the next sync reconciles it.
	verify, err := dst.ReadConversation(target, dstID)
	if err != nil {
		return 0, -1, fmt.Errorf("verifying %s write: %w", dst.ID(), err)
	}
	if len(verify) != len(updated) {
		return 0, -1, &store.WriteVerificationError{
			Store:    dst.ID(),
			Path:     target,
			Expected: len(updated),
			Actual:   len(verify),
		}
	}

	return diff.CountAdds(ops), len(updated), nil
}

// pruneApplied drops operations the target already reflects: adds whose
// message id is present, removes whose message id is gone. Message ids are
// preserved across stores, so an id match means the edit landed in an earlier
// run or the message reached the target independently. Kept operation indexes
// remain valid: a pruned add's message occupies exactly the slot the plan
// reserved for it. This is what makes re-invoking a sync safe after a partial
// failure.
func pruneApplied(current []canon.Message, ops []diff.Operation) []diff.Operation {
	present := make(map[string]struct{}, len(current))
	for _, m := range current {
		if m.ID != "" {
			present[m.ID] = struct{}{}
		}
	}

	kept := make([]diff.Operation, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case diff.OpAdd:
			if op.Message != nil && op.Message.ID != "" {
				if _, ok := present[op.Message.ID]; ok {
					continue
				}
			}
		case diff.OpRemove:
			if op.OldMessage != nil && op.OldMessage.ID != "" {
				if _, ok := present[op.OldMessage.ID]; !ok {
					continue
				}
			}
		}
		kept = append(kept, op)
	}
	return kept
}

// afterSync runs both stores' post-sync hooks, then persists the new sync
// state. State is only persisted when every hook succeeded.
func (e *Engine) afterSync(sess Session, messageCount int) error {
	for _, s := range []store.Store{e.primary, e.secondary} {
		native := sess.NativeID(s.ID())
		if err := s.UpdateAfterSync(native); err != nil {
			return fmt.Errorf("post-sync update for %s: %w", s.ID(), err)
		}
		if tracker, ok := s.(store.SessionTracker); ok {
			if err := tracker.UpdateSessionTracking(native); err != nil {
				return fmt.Errorf("session tracking for %s: %w", s.ID(), err)
			}
		}
	}

	now := time.Now().UTC()
	patch := state.Patch{LastSyncTimestamp: &now}
	if messageCount >= 0 {
		patch.MessageCount = &messageCount
	}
	return e.states.Update(sess.Tag, patch)
}
