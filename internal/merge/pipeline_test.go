package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/civildate"
	"github.com/lumenflow-dev/lumenflow/internal/config"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/initiative"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/stretchr/testify/require"
)

func TestComputeRollbackScopeTable(t *testing.T) {
	cases := []struct {
		at       State
		expected RollbackScope
	}{
		{StateNone, RollbackScope{}},
		{StateValidating, RollbackScope{}},
		{StatePreparing, RollbackScope{}},
		{StateCommitting, RollbackScope{RestoreSnapshot: true}},
		{StateMerging, RollbackScope{RestoreSnapshot: true, ResetBranch: true}},
		{StatePushing, RollbackScope{RestoreSnapshot: true, ResetBranch: true}},
		{StateCleaningUp, RollbackScope{CleanupWorktree: true}},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, ComputeRollbackScope(c.at), "failedAt=%s", c.at)
	}
}

// fakeGit is a scriptable gitadapter.Adapter for pipeline tests; it never
// shells out, letting the pipeline's control flow be exercised in
// isolation from a real git binary.
type fakeGit struct {
	mergeFailuresBeforeSuccess int
	mergeCalls                 int
	pushErr                    error
	worktreesRemoved           []string
	resetCalls                 []string
	rawCalls                   [][]string
}

func (f *fakeGit) Fetch(ctx context.Context, dir, remote, branch string) error { return nil }
func (f *fakeGit) CommitHash(ctx context.Context, dir, ref string) (string, error) {
	return "precommitsha123", nil
}
func (f *fakeGit) MergeBase(ctx context.Context, dir, a, b string) (string, error) { return "", nil }
func (f *fakeGit) Merge(ctx context.Context, dir, ref string, ffOnly bool) error {
	f.mergeCalls++
	if f.mergeCalls <= f.mergeFailuresBeforeSuccess {
		return assertionError("non-fast-forward")
	}
	return nil
}
func (f *fakeGit) Rebase(ctx context.Context, dir, ref string) error { return nil }
func (f *fakeGit) Commit(ctx context.Context, dir, message string) error { return nil }
func (f *fakeGit) Add(ctx context.Context, dir string, paths []string) error { return nil }
func (f *fakeGit) Push(ctx context.Context, dir, refspec string) error { return f.pushErr }
func (f *fakeGit) CreateBranchNoCheckout(ctx context.Context, dir, name, start string) error {
	return nil
}
func (f *fakeGit) WorktreeAddExisting(ctx context.Context, dir, path, branch string) error {
	return nil
}
func (f *fakeGit) WorktreeRemove(ctx context.Context, dir, path string) error {
	f.worktreesRemoved = append(f.worktreesRemoved, path)
	return nil
}
func (f *fakeGit) ResetHard(ctx context.Context, dir, ref string) error {
	f.resetCalls = append(f.resetCalls, ref)
	return nil
}
func (f *fakeGit) Raw(ctx context.Context, dir string, args ...string) (string, error) {
	f.rawCalls = append(f.rawCalls, args)
	return "", nil
}

// deletedBranches returns the names passed to `git branch -D <name>` calls
// recorded in rawCalls, in order.
func (f *fakeGit) deletedBranches() []string {
	var out []string
	for _, call := range f.rawCalls {
		if len(call) == 3 && call[0] == "branch" && call[1] == "-D" {
			out = append(out, call[2])
		}
	}
	return out
}

func setupFixture(t *testing.T) (Input, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	wuID := "WU-900"

	wuPath := filepath.Join(dir, "WU-900.yaml")
	wu := wufile.WU{
		WUID: wuID, Title: "Test completion", Lane: "Framework: Core",
		Type: "feature", Priority: "P2", Status: "in_progress",
		Acceptance: []string{"merges cleanly"},
		Tests:      wufile.Tests{Unit: []string{"pipeline_test.go"}},
		Created:    civildate.Today(),
	}
	require.NoError(t, wufile.Save(wuPath, wu))

	backlogPath := filepath.Join(dir, "backlog.md")
	statusPath := filepath.Join(dir, "status.md")
	stampPath := filepath.Join(dir, "stamps", "WU-900.done")
	require.NoError(t, os.WriteFile(backlogPath, []byte("placeholder"), 0o644))
	require.NoError(t, os.WriteFile(statusPath, []byte("placeholder"), 0o644))

	storePath := filepath.Join(dir, "wu-events.jsonl")
	st := store.New(storePath)
	require.NoError(t, st.Load())
	require.NoError(t, st.Append(events.Event{WUID: wuID, Kind: events.KindCreated, Timestamp: time.Now(),
		Details: map[string]any{"title": wu.Title, "lane": wu.Lane}}))
	require.NoError(t, st.Append(events.Event{WUID: wuID, Kind: events.KindClaimed, Timestamp: time.Now()}))

	in := Input{
		WUID:            wuID,
		LaneWorktreeDir: dir,
		LaneBranch:      "lane/core/wu-900",
		TrunkDir:        dir,
		TrunkBranch:     "main",
		RemoteName:      "origin",
		ScratchParent:   dir,
		WUFilePath:      wuPath,
		BacklogPath:     backlogPath,
		StatusPath:      statusPath,
		StampPath:       stampPath,
	}
	return in, st
}

func TestRunHappyPathCompletesWU(t *testing.T) {
	in, st := setupFixture(t)
	cfg := config.Default(t.TempDir())
	locks := lock.NewManager(t.TempDir())
	git := &fakeGit{mergeFailuresBeforeSuccess: 1} // non-ff on first attempt, ff on rebase retry

	p := New(cfg, locks, st, git, nil)
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 2, res.MergeAttempts)

	reloaded, err := wufile.Load(in.WUFilePath)
	require.NoError(t, err)
	require.Equal(t, "done", reloaded.Status)

	_, statErr := os.Stat(in.StampPath)
	require.NoError(t, statErr)

	wuState, ok := st.GetState(in.WUID)
	require.True(t, ok)
	require.Equal(t, "done", wuState.Status)

	backlogBytes, err := os.ReadFile(in.BacklogPath)
	require.NoError(t, err)
	require.Contains(t, string(backlogBytes), in.WUID)
	require.NotContains(t, string(backlogBytes), "placeholder")

	statusBytes, err := os.ReadFile(in.StatusPath)
	require.NoError(t, err)
	require.Contains(t, string(statusBytes), in.WUID)

	require.Len(t, git.worktreesRemoved, 1, "scratch worktree must be removed on success")
	require.Len(t, git.deletedBranches(), 1, "scratch branch must be deleted on success, not just its worktree")
}

func TestRunRollsBackLaneBranchAndSnapshotOnPushFailure(t *testing.T) {
	in, st := setupFixture(t)
	cfg := config.Default(t.TempDir())
	locks := lock.NewManager(t.TempDir())
	git := &fakeGit{pushErr: assertionError("push rejected")}

	originalWU, err := os.ReadFile(in.WUFilePath)
	require.NoError(t, err)

	p := New(cfg, locks, st, git, nil)
	_, err = p.Run(context.Background(), in)
	require.Error(t, err)
	require.Equal(t, StatePushing, FailedAt(err))

	restoredWU, err := os.ReadFile(in.WUFilePath)
	require.NoError(t, err)
	require.Equal(t, string(originalWU), string(restoredWU))

	restoredBacklog, err := os.ReadFile(in.BacklogPath)
	require.NoError(t, err)
	require.Equal(t, "placeholder", string(restoredBacklog))

	require.Len(t, git.resetCalls, 1)
	require.Equal(t, "precommitsha123", git.resetCalls[0])

	wuState, ok := st.GetState(in.WUID)
	require.True(t, ok)
	require.NotEqual(t, "done", wuState.Status)

	require.Len(t, git.worktreesRemoved, 1, "scratch worktree must be removed on rollback too")
	require.Len(t, git.deletedBranches(), 1, "scratch branch must be deleted on rollback, not leaked")
}

func TestRunStagesInitiativeBidirectionalUpdate(t *testing.T) {
	in, st := setupFixture(t)
	dir := filepath.Dir(in.WUFilePath)
	oldPath := filepath.Join(dir, "old-initiative.yaml")
	newPath := filepath.Join(dir, "new-initiative.yaml")
	require.NoError(t, os.WriteFile(oldPath, []byte("title: Old\nwus:\n  - "+in.WUID+"\n"), 0o644))
	in.OldInitiativePath = oldPath
	in.NewInitiativePath = newPath

	cfg := config.Default(t.TempDir())
	locks := lock.NewManager(t.TempDir())
	git := &fakeGit{}

	p := New(cfg, locks, st, git, nil)
	_, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	oldInit, err := initiative.Load(oldPath)
	require.NoError(t, err)
	require.NotContains(t, oldInit.WUs, in.WUID)

	newInit, err := initiative.Load(newPath)
	require.NoError(t, err)
	require.Contains(t, newInit.WUs, in.WUID)
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
