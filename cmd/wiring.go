package cmd

import (
	"fmt"
	"time"

	"github.com/iksnae/session-bridge/internal/config"
	"github.com/iksnae/session-bridge/internal/engine"
	"github.com/iksnae/session-bridge/internal/lockfile"
	"github.com/iksnae/session-bridge/internal/registry"
	"github.com/iksnae/session-bridge/internal/state"
	"github.com/iksnae/session-bridge/internal/store/claude"
	"github.com/iksnae/session-bridge/internal/store/cursor"
)

// app is the composition root: every service is built here and injected
// explicitly; nothing below this layer does ambient lookup.
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	registry *registry.Registry
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	groupWindow := time.Duration(cfg.GroupWindow)
	claudeStore := claude.NewStore(cfg.ClaudeRoot, groupWindow)
	cursorStore := cursor.NewStore(cfg.CursorRoot, groupWindow)

	locks := lockfile.NewService(cfg.LocksDir(), time.Duration(cfg.LockStaleAfter))
	states := state.NewService(cfg.StateDir())
	reg := registry.New(cfg.RegistryDir())

	eng := engine.New(claudeStore, cursorStore, locks, states, cfg.HistorySize)
	return &app{cfg: cfg, engine: eng, registry: reg}, nil
}

// sessionFor resolves a tag through the registry; unregistered tags fall
// back to using the tag as the native id in both stores.
func (a *app) sessionFor(tag string) (engine.Session, error) {
	entry, err := a.registry.Get(tag)
	if err != nil {
		return engine.Session{}, err
	}
	sess := engine.Session{Tag: tag}
	if entry != nil {
		sess.NativeIDs = entry.NativeIDs
	}
	return sess, nil
}
