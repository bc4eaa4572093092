package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/config"
	"github.com/lumenflow-dev/lumenflow/internal/gitadapter"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/spawn"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/internal/telemetry"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
)

// engineCtx bundles the collaborators every verb needs, built once per
// invocation at the CLI boundary (§9 "shared mutable modules" redesign note:
// config, lock root, and project root are an explicit value here, never
// package-scope mutable state).
type engineCtx struct {
	Cfg    config.Config
	Store  *store.Store
	Locks  *lock.Manager
	Spawns *spawn.Registry
	Git    gitadapter.Adapter
	Sink   telemetry.Sink
}

func newEngineCtx() (*engineCtx, error) {
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg := config.FromEnv(config.Default(baseDir), nil)

	st := store.New(cfg.EventLogPath())
	if err := st.Load(); err != nil {
		return nil, err
	}

	spawns := spawn.New(cfg.SpawnRegistryPath())
	if err := spawns.Load(); err != nil {
		return nil, err
	}

	return &engineCtx{
		Cfg:    cfg,
		Store:  st,
		Locks:  lock.NewManager(cfg.LockDir),
		Spawns: spawns,
		Git:    gitadapter.New(cfg.SubprocessTimeout, cfg.OutputBufferCap),
		Sink:   telemetry.NoopSink{},
	}, nil
}

// scanOffStore lists WU files on disk that the store has no projection for
// yet (e.g. created by hand, or by a process that crashed before its first
// event landed), per §4.F "WUs that exist on disk ... but not in the store".
func (e *engineCtx) scanOffStore() ([]backlog.OffStoreWU, error) {
	entries, err := os.ReadDir(e.Cfg.WUDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []backlog.OffStoreWU
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		wuID := strings.TrimSuffix(entry.Name(), ".yaml")
		if _, ok := e.Store.GetState(wuID); ok {
			continue
		}
		wu, err := wufile.Load(filepath.Join(e.Cfg.WUDir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, backlog.OffStoreWU{WUID: wu.WUID, Title: wu.Title, Lane: wu.Lane, Status: wu.Status})
	}
	return out, nil
}

// regenerateProjections re-renders backlog.md and status.md from the
// current store projection, for every operation that mutates a WU outside
// of the merge pipeline (which stages its own regeneration inside its
// Transaction, see internal/merge).
func (e *engineCtx) regenerateProjections() error {
	offStore, err := e.scanOffStore()
	if err != nil {
		return err
	}
	states := e.Store.All()

	if err := os.MkdirAll(e.Cfg.TasksDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(e.Cfg.BacklogPath(), []byte(backlog.Render(states, offStore)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(e.Cfg.StatusPath(), []byte(backlog.RenderStatus(states)), 0o644)
}

// nextWUID scans both the store and the WU directory for the highest
// existing WU-<n> and returns the next one, so wu:create needs no external
// ID allocator.
func (e *engineCtx) nextWUID() (string, error) {
	max := 0
	for _, st := range e.Store.All() {
		if n, ok := wufile.NumericID(st.WUID); ok && n > max {
			max = n
		}
	}
	entries, err := os.ReadDir(e.Cfg.WUDir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		if n, ok := wufile.NumericID(id); ok && n > max {
			max = n
		}
	}
	return "WU-" + strconv.Itoa(max+1), nil
}

// initiativePath returns the on-disk path for a named initiative grouping
// file, mirroring wufile.PathFor's one-file-per-entity convention.
func initiativePath(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// laneLockPolicy resolves the effective lock policy for lane, honoring a
// CLI override (empty string means "no override"). There is no separate
// lane-policy config file in this engine yet (§12 supplement scopes
// internal/lanepolicy.Resolve to a pure function of configured+override);
// "all" is the engine-wide default absent a per-lane policy source.
func laneLockPolicy(override string) lock.Policy {
	if override == "" {
		return lock.PolicyAll
	}
	return lock.Policy(override)
}

func ensureEngineDirs(cfg config.Config) error {
	dirs := []string{
		cfg.StateDir, cfg.TasksDir, cfg.WUDir, cfg.InitiativesDir,
		cfg.StampsDir(), cfg.RecoveryDir(), cfg.LockDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
