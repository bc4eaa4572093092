package doctor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/config"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (config.Config, *store.Store, *lock.Manager) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default(base)
	cfg.LockDir = filepath.Join(base, "locks")
	require.NoError(t, os.MkdirAll(cfg.StateDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.TasksDir, 0o755))
	st := store.New(cfg.EventLogPath())
	require.NoError(t, st.Load())
	return cfg, st, lock.NewManager(cfg.LockDir)
}

func TestRunCleanOnFreshState(t *testing.T) {
	cfg, st, locks := newFixture(t)
	report, err := Run(cfg, st, locks)
	require.NoError(t, err)
	require.True(t, report.Clean())
}

func TestRunFindsZombieWU(t *testing.T) {
	cfg, st, locks := newFixture(t)
	worktree := filepath.Join(t.TempDir(), "wt-1")
	require.NoError(t, os.MkdirAll(worktree, 0o755))

	require.NoError(t, st.Append(events.Event{WUID: "WU-1", Kind: events.KindCreated, Timestamp: time.Now()}))
	require.NoError(t, st.Append(events.Event{WUID: "WU-1", Kind: events.KindClaimed, Timestamp: time.Now(),
		Details: map[string]any{"worktree_path": worktree}}))
	require.NoError(t, st.Append(events.Event{WUID: "WU-1", Kind: events.KindCompleted, Timestamp: time.Now()}))

	report, err := Run(cfg, st, locks)
	require.NoError(t, err)
	require.Equal(t, []string{"WU-1"}, report.ZombieWUs)
	require.False(t, report.Clean())
}

func TestRunFindsStaleAndZombieLocks(t *testing.T) {
	cfg, st, locks := newFixture(t)
	cfg.StaleLockThreshold = time.Hour

	_, err := locks.Acquire("lane-a", "WU-1", lock.Options{})
	require.NoError(t, err)
	writeRawLock(t, cfg.LockDir, "lane-b", lock.Record{WUID: "WU-2", LockID: "y", PID: 99999999, CreatedAt: time.Now()})
	writeRawLock(t, cfg.LockDir, "lane-c", lock.Record{WUID: "WU-3", LockID: "z", PID: os.Getpid(), CreatedAt: time.Now().Add(-2 * time.Hour)})

	report, err := Run(cfg, st, locks)
	require.NoError(t, err)
	require.Len(t, report.ZombieLocks, 1)
	require.Equal(t, "lane-b", report.ZombieLocks[0].Resource)
	require.Len(t, report.StaleLocks, 1)
	require.Equal(t, "lane-c", report.StaleLocks[0].Resource)
}

func TestRunFlagsEventLogCorruption(t *testing.T) {
	cfg, st, locks := newFixture(t)
	require.NoError(t, os.WriteFile(cfg.EventLogPath(), []byte("{not json}\n"), 0o644))

	report, err := Run(cfg, st, locks)
	require.NoError(t, err)
	require.Error(t, report.EventLogErr)
}

func TestRunFlagsRecoveryWarningsNearMax(t *testing.T) {
	cfg, st, locks := newFixture(t)
	cfg.MaxRecoveryAttempts = 3
	require.NoError(t, os.MkdirAll(cfg.RecoveryDir(), 0o755))

	counter := statemachine.NewRecoveryCounter(MarkerPath(cfg, "WU-1"), cfg.MaxRecoveryAttempts)
	require.NoError(t, counter.RecordFailure())
	require.NoError(t, counter.RecordFailure())

	report, err := Run(cfg, st, locks)
	require.NoError(t, err)
	require.Len(t, report.RecoveryWarning, 1)
	require.Equal(t, "WU-1", report.RecoveryWarning[0].WUID)
	require.Equal(t, 2, report.RecoveryWarning[0].Attempts)
}

func writeRawLock(t *testing.T, dir, resource string, rec lock.Record) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, resource+".lock")
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
