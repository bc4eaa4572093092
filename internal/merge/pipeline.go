// Package merge implements the Atomic Merge Pipeline (§4.E): the hardest
// subsystem, completing a WU by merging its lane branch to trunk with
// bounded retries and surgical rollback, without ever dirtying the trunk
// checkout.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/config"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/gitadapter"
	"github.com/lumenflow-dev/lumenflow/internal/initiative"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/internal/telemetry"
	"github.com/lumenflow-dev/lumenflow/internal/txn"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/constants"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/sony/gobreaker"
)

var log = logger.New("lumenflow:merge")

// State is one of the six ordered pipeline states (§4.E).
type State string

const (
	StateNone       State = ""
	StateValidating State = "validating"
	StatePreparing  State = "preparing"
	StateCommitting State = "committing"
	StateMerging    State = "merging"
	StatePushing    State = "pushing"
	StateCleaningUp State = "cleaningUp"
)

// RollbackScope is the set of rollback actions to perform for a given
// failedAt state (§4.E "State-driven rollback scope").
type RollbackScope struct {
	RestoreSnapshot bool
	ResetBranch     bool
	CleanupWorktree bool
}

// ComputeRollbackScope is the single pure function driving all rollback;
// every executor is a dumb consumer of its verdict (§9 "Rollback coupling").
func ComputeRollbackScope(failedAt State) RollbackScope {
	switch failedAt {
	case StateCommitting:
		return RollbackScope{RestoreSnapshot: true}
	case StateMerging, StatePushing:
		return RollbackScope{RestoreSnapshot: true, ResetBranch: true}
	case StateCleaningUp:
		return RollbackScope{CleanupWorktree: true}
	default: // "", validating, preparing, gating
		return RollbackScope{}
	}
}

// Input describes one WU's completion request.
type Input struct {
	WUID            string
	LaneWorktreeDir string
	LaneBranch      string
	TrunkDir        string
	TrunkBranch     string
	RemoteName      string
	ScratchParent   string // directory under which the scratch worktree is created
	WUFilePath      string
	BacklogPath     string
	StatusPath      string
	StampPath       string
	RecoveryMarker  string
	// OldInitiativePath/NewInitiativePath stage the Initiative bidirectional
	// update (§4.D) when completing this WU also moves it between
	// initiatives. Both empty (the common case) is a no-op.
	OldInitiativePath string
	NewInitiativePath string
}

// Result reports the outcome of a successful Run.
type Result struct {
	CompletedAt    time.Time
	MergeAttempts  int
	ScratchRemoved bool
}

// Progress receives coarse state-change notifications from Run, letting a
// CLI-layer spinner report the long merging/pushing states without the
// pipeline itself importing any terminal library (§10.1 "core stays
// spinner-agnostic and testable").
type Progress interface {
	OnState(state State)
}

type noopProgress struct{}

func (noopProgress) OnState(State) {}

// Pipeline wires together every collaborator the merge operation needs.
type Pipeline struct {
	Cfg       config.Config
	Locks     *lock.Manager
	Store     *store.Store
	Git       gitadapter.Adapter
	Telemetry telemetry.Sink
	Progress  Progress

	breaker *gobreaker.CircuitBreaker
}

// New constructs a Pipeline. telemetrySink may be nil, defaulting to a
// no-op sink.
func New(cfg config.Config, locks *lock.Manager, st *store.Store, git gitadapter.Adapter, sink telemetry.Sink) *Pipeline {
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "merge-push",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Pipeline{Cfg: cfg, Locks: locks, Store: st, Git: git, Telemetry: sink, Progress: noopProgress{}, breaker: breaker}
}

func (p *Pipeline) progress() Progress {
	if p.Progress == nil {
		return noopProgress{}
	}
	return p.Progress
}

// pipelineError carries the state at which the pipeline failed so the
// caller (and tests) can assert the exact rollback scope that was applied.
type pipelineError struct {
	failedAt State
	cause    error
}

func (e *pipelineError) Error() string { return fmt.Sprintf("merge pipeline failed at %s: %v", e.failedAt, e.cause) }
func (e *pipelineError) Unwrap() error { return e.cause }

// FailedAt returns the pipeline state at which err occurred, StateNone if
// err did not originate from this package.
func FailedAt(err error) State {
	var pe *pipelineError
	if ok := asPipelineError(err, &pe); ok {
		return pe.failedAt
	}
	return StateNone
}

func asPipelineError(err error, target **pipelineError) bool {
	for err != nil {
		if pe, ok := err.(*pipelineError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// projectedStates returns states with wuID's status overridden to status,
// so the backlog/status projections staged during preparing already
// reflect the in-flight completion rather than the store's pre-commit view.
func projectedStates(states []store.WuState, wuID, status string) []store.WuState {
	out := make([]store.WuState, len(states))
	copy(out, states)
	for i := range out {
		if out[i].WUID == wuID {
			out[i].Status = status
		}
	}
	return out
}

// Run executes the full pipeline for in. On any failure it computes the
// rollback scope from the state reached and executes it before returning.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	var snap txn.Snapshot
	var preCommitSHA string
	var scratchDir string
	var scratchBranch string

	fail := func(at State, cause error) (Result, error) {
		pe := &pipelineError{failedAt: at, cause: cause}
		scope := ComputeRollbackScope(at)
		p.rollback(ctx, scope, snap, in, preCommitSHA, scratchDir, scratchBranch)
		p.progress().OnState(StateNone)
		return Result{}, pe
	}

	// --- validating ---
	st, ok := p.Store.GetState(in.WUID)
	if !ok {
		return fail(StateValidating, errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", in.WUID))
	}
	if err := statemachine.CheckTransition(st.Status, "done"); err != nil {
		return fail(StateValidating, err)
	}
	if statemachine.IsZombie(st) {
		return fail(StateValidating, errs.New(errs.KindStateTransition, "WU is a zombie").WithContext("wu_id", in.WUID))
	}
	wu, err := wufile.Load(in.WUFilePath)
	if err != nil {
		return fail(StateValidating, err)
	}
	if err := wufile.Validate(wu); err != nil {
		return fail(StateValidating, err)
	}
	if err := wufile.DoneCompleteness(wu); err != nil {
		return fail(StateValidating, err)
	}
	if err := p.Git.Fetch(ctx, in.TrunkDir, in.RemoteName, in.TrunkBranch); err != nil {
		// Network probes fail open per §4.E precondition 2.
		log.Printf("trunk fetch probe failed, proceeding fail-open: %v", err)
	}

	// --- preparing ---
	paths := []string{in.WUFilePath, in.BacklogPath, in.StatusPath, in.StampPath}
	if in.OldInitiativePath != "" {
		paths = append(paths, in.OldInitiativePath)
	}
	if in.NewInitiativePath != "" && in.NewInitiativePath != in.OldInitiativePath {
		paths = append(paths, in.NewInitiativePath)
	}
	snap, err = txn.TakeSnapshot(paths)
	if err != nil {
		return fail(StatePreparing, err)
	}
	wu.Status = "done"
	wuBytes, err := wufile.Marshal(wu)
	if err != nil {
		return fail(StatePreparing, err)
	}
	tx := txn.New(in.WUID, snap)
	tx.Stage(in.WUFilePath, wuBytes, "mark WU done")
	tx.Stage(in.StampPath, []byte(in.WUID+" completed "+time.Now().UTC().Format(time.RFC3339)+"\n"), "write completion stamp")

	projected := projectedStates(p.Store.All(), in.WUID, "done")
	tx.Stage(in.BacklogPath, []byte(backlog.Render(projected, nil)), "regenerate backlog projection")
	tx.Stage(in.StatusPath, []byte(backlog.RenderStatus(projected)), "regenerate status projection")

	if in.OldInitiativePath != "" || in.NewInitiativePath != "" {
		if err := initiative.StageBidirectionalUpdate(tx, in.OldInitiativePath, in.NewInitiativePath, in.WUID); err != nil {
			return fail(StatePreparing, err)
		}
	}

	tx.AddValidator(func() error { return wufile.Validate(wu) })
	tx.AddPostCheck(func() error {
		reloaded, err := wufile.Load(in.WUFilePath)
		if err != nil {
			return err
		}
		if reloaded.Status != "done" {
			return errs.New(errs.KindTransaction, "WU file status did not persist as done")
		}
		if _, err := os.Stat(in.StampPath); err != nil {
			return errs.Wrap(errs.KindTransaction, "completion stamp missing", err)
		}
		return nil
	})
	if verrs := tx.Validate(); len(verrs) > 0 {
		return fail(StatePreparing, verrs[0])
	}

	// --- committing ---
	preCommitSHA, err = p.Git.CommitHash(ctx, in.LaneWorktreeDir, "HEAD")
	if err != nil {
		return fail(StateCommitting, err)
	}
	if _, err := tx.Commit(); err != nil {
		return fail(StateCommitting, err)
	}
	addPaths := []string{in.WUFilePath, in.BacklogPath, in.StatusPath, in.StampPath}
	if in.OldInitiativePath != "" {
		addPaths = append(addPaths, in.OldInitiativePath)
	}
	if in.NewInitiativePath != "" && in.NewInitiativePath != in.OldInitiativePath {
		addPaths = append(addPaths, in.NewInitiativePath)
	}
	if err := p.Git.Add(ctx, in.LaneWorktreeDir, addPaths); err != nil {
		return fail(StateCommitting, err)
	}
	msg := fmt.Sprintf("lumenflow: complete %s", in.WUID)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if err := p.Git.Commit(ctx, in.LaneWorktreeDir, msg); err != nil {
		return fail(StateCommitting, err)
	}

	// --- merging + pushing, under the global merge lock ---
	acq, err := p.Locks.Acquire(constants.MergeLockResource, in.WUID, lock.Options{WaitBudget: p.Cfg.MergeLockWaitBudget})
	if err != nil {
		return fail(StateMerging, err)
	}
	if !acq.Acquired {
		return fail(StateMerging, errs.New(errs.KindLockBusy, "merge lock busy").WithContext("held_by", acq.HeldBy))
	}
	defer p.Locks.Release(constants.MergeLockResource, acq.LockID, lock.Options{})

	p.progress().OnState(StateMerging)
	scratchBranch = "lumenflow-scratch-" + uuid.NewString()[:8]
	scratchDir = filepath.Join(in.ScratchParent, scratchBranch)

	if err := p.Git.Fetch(ctx, in.TrunkDir, in.RemoteName, in.TrunkBranch); err != nil {
		return fail(StateMerging, errs.Wrap(errs.KindNetwork, "fetch trunk for merge", err))
	}
	remoteTrunkRef := in.RemoteName + "/" + in.TrunkBranch
	if err := p.Git.CreateBranchNoCheckout(ctx, in.TrunkDir, scratchBranch, remoteTrunkRef); err != nil {
		return fail(StateMerging, err)
	}
	if err := p.Git.WorktreeAddExisting(ctx, in.TrunkDir, scratchDir, scratchBranch); err != nil {
		return fail(StateMerging, err)
	}

	maxRetries := p.Cfg.MaxMergeRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxMergeRetries
	}
	attempts := 0
	merged := false
	for attempts < maxRetries {
		attempts++
		mergeErr := p.Git.Merge(ctx, scratchDir, in.LaneBranch, true)
		if mergeErr == nil {
			merged = true
			break
		}
		if err := p.Git.Fetch(ctx, scratchDir, in.RemoteName, in.TrunkBranch); err != nil {
			log.Printf("merge attempt %d: refetch failed: %v", attempts, err)
		}
		if err := p.Git.Rebase(ctx, scratchDir, remoteTrunkRef); err != nil {
			log.Printf("merge attempt %d: rebase onto %s failed: %v", attempts, remoteTrunkRef, err)
		}
	}
	if !merged {
		p.removeScratch(ctx, in.TrunkDir, scratchDir, scratchBranch)
		return fail(StateMerging, errs.New(errs.KindRetryExhaustion, "merge retries exhausted").
			WithContext("attempts", attempts).WithContext("max_retries", maxRetries).
			WithNextSteps("resolve the conflict manually in the lane worktree", "re-run wu:done once resolved"))
	}

	p.progress().OnState(StatePushing)
	_, pushErr := p.breaker.Execute(func() (any, error) {
		return nil, p.Git.Push(ctx, scratchDir, scratchBranch+":"+in.TrunkBranch)
	})
	if pushErr != nil {
		p.removeScratch(ctx, in.TrunkDir, scratchDir, scratchBranch)
		return fail(StatePushing, errs.Wrap(errs.KindNetwork, "push to trunk failed", pushErr))
	}

	if err := p.Git.Fetch(ctx, in.TrunkDir, in.RemoteName, in.TrunkBranch); err != nil {
		log.Printf("post-push trunk refresh fetch failed (non-fatal): %v", err)
	} else if err := p.Git.Merge(ctx, in.TrunkDir, remoteTrunkRef, true); err != nil {
		log.Printf("post-push local trunk fast-forward failed (non-fatal): %v", err)
	}

	p.removeScratch(ctx, in.TrunkDir, scratchDir, scratchBranch)
	p.progress().OnState(StateCleaningUp)

	// --- cleaningUp ---
	completedAt := time.Now().UTC()
	if err := p.Store.Append(events.Event{
		WUID: in.WUID, Kind: events.KindCompleted, Timestamp: completedAt,
		Details: map[string]any{"merge_attempts": attempts},
	}); err != nil {
		return fail(StateCleaningUp, err)
	}
	if in.RecoveryMarker != "" {
		if err := os.Remove(in.RecoveryMarker); err != nil && !os.IsNotExist(err) {
			log.Printf("cleanup: failed to clear recovery marker: %v", err)
		}
	}
	p.Telemetry.Emit(telemetry.Signal{Name: "wu_completed", WUID: in.WUID, Lane: in.LaneBranch,
		Fields: map[string]any{"merge_attempts": attempts}})

	return Result{CompletedAt: completedAt, MergeAttempts: attempts, ScratchRemoved: true}, nil
}

func (p *Pipeline) rollback(ctx context.Context, scope RollbackScope, snap txn.Snapshot, in Input, preCommitSHA, scratchDir, scratchBranch string) {
	if scope.RestoreSnapshot {
		if err := txn.Restore(snap); err != nil {
			log.Printf("rollback: restore snapshot failed: %v", err)
		}
	}
	if scope.ResetBranch && preCommitSHA != "" {
		if err := p.Git.ResetHard(ctx, in.LaneWorktreeDir, preCommitSHA); err != nil {
			log.Printf("rollback: reset lane branch to %s failed: %v", preCommitSHA, err)
		}
	}
	if scope.CleanupWorktree {
		p.removeScratch(ctx, in.TrunkDir, scratchDir, scratchBranch)
	}
}

// removeScratch always deletes both the scratch worktree and its branch,
// on every path that reached far enough to create them — success or
// failure (§4.E "Always delete the scratch worktree and scratch branch").
// `git worktree remove` alone does not delete the underlying branch, so
// the branch is removed separately via a raw `git branch -D`.
func (p *Pipeline) removeScratch(ctx context.Context, trunkDir, scratchDir, scratchBranch string) {
	if scratchDir != "" {
		if err := p.Git.WorktreeRemove(ctx, trunkDir, scratchDir); err != nil {
			log.Printf("scratch worktree removal failed: %v", err)
		}
	}
	if scratchBranch != "" {
		if _, err := p.Git.Raw(ctx, trunkDir, "branch", "-D", scratchBranch); err != nil {
			log.Printf("scratch branch deletion failed: %v", err)
		}
	}
}
