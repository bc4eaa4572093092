package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/cloudmode"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/merge"
	"github.com/lumenflow-dev/lumenflow/internal/report"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/internal/txn"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/constants"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuDoneLog = logger.New("lumenflow:cmd:wu-done")

func newWUDoneCommand() *cobra.Command {
	var (
		id      string
		noMerge bool
		pr      bool
		force   bool
		cloud   bool
	)

	cmd := &cobra.Command{
		Use:   "wu:done",
		Short: "Complete a WU, merging its lane branch to trunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			_ = force // reserved for lock-force semantics elsewhere; done never bypasses DoneCompleteness

			e, err := newEngineCtx()
			if err != nil {
				return err
			}

			branch, branchErr := e.Git.Raw(cmd.Context(), e.Cfg.BaseDir, "rev-parse", "--abbrev-ref", "HEAD")
			if branchErr != nil {
				branch = ""
			}
			cloudVal, _ := os.LookupEnv(constants.EnvCloudMode)
			envCloud := cloudVal == "1"
			_, envSignal := os.LookupEnv(constants.EnvAmbientCloudSignal)
			cloudResult := cloudmode.Detect(cloud, envCloud, envSignal, e.Cfg.CloudSignalOptIn, branch, e.Cfg.TrunkBranches)
			if cloudResult.Active {
				wuDoneLog.Printf("%s: cloud mode active (%s); pushing lane branch instead of merging to trunk", id, cloudResult.Reason)
				pr = true
			} else if cloudResult.Reason == cloudmode.ReasonBlockedTrunk {
				wuDoneLog.Printf("%s: cloud mode blocked on protected branch %q", id, branch)
			}
			st, ok := e.Store.GetState(id)
			if !ok {
				return errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", id)
			}
			if err := statemachine.CheckTransition(st.Status, "done"); err != nil {
				return err
			}

			wuPath := wufile.PathFor(e.Cfg.WUDir, id)
			wu, err := wufile.Load(wuPath)
			if err != nil {
				return err
			}
			if err := wufile.Validate(wu); err != nil {
				return err
			}
			if err := wufile.DoneCompleteness(wu); err != nil {
				return err
			}
			for _, dep := range wu.Dependencies {
				if depState, ok := e.Store.GetState(dep); !ok || depState.Status != "done" {
					return errs.New(errs.KindStateTransition, "dependency not done").
						WithContext("wu_id", id).WithContext("dependency", dep)
				}
			}

			if dryRun {
				writeStdout(console.FormatSuccessMessage(id+" passes done preconditions (dry run, nothing written)") + "\n")
				return nil
			}

			if pr {
				if err := e.Git.Push(cmd.Context(), e.Cfg.BaseDir, wu.Lane+":"+wu.Lane); err != nil {
					return errs.Wrap(errs.KindNetwork, "push lane branch for PR", err)
				}
				writeStdout(console.FormatInfoMessage(id+" lane branch pushed; open a PR for "+wu.Lane+" instead of an automatic merge") + "\n")
				return nil
			}

			if noMerge {
				return completeWithoutMerge(e, id, wuPath, wu, jsonMode)
			}

			pipeline := merge.New(e.Cfg, e.Locks, e.Store, e.Git, e.Sink)
			pipeline.Progress = newMergeProgress(id, jsonMode)
			trunkBranch := "main"
			if len(e.Cfg.TrunkBranches) > 0 {
				trunkBranch = e.Cfg.TrunkBranches[0]
			}
			laneWorktreeDir := e.Cfg.BaseDir
			if st.WorktreePath != "" {
				laneWorktreeDir = st.WorktreePath
			}
			in := merge.Input{
				WUID:            id,
				LaneWorktreeDir: laneWorktreeDir,
				LaneBranch:      wu.Lane,
				TrunkDir:        e.Cfg.BaseDir,
				TrunkBranch:     trunkBranch,
				RemoteName:      "origin",
				ScratchParent:   filepath.Dir(e.Cfg.BaseDir),
				WUFilePath:      wuPath,
				BacklogPath:     e.Cfg.BacklogPath(),
				StatusPath:      e.Cfg.StatusPath(),
				StampPath:       filepath.Join(e.Cfg.StampsDir(), id+".stamp"),
				RecoveryMarker:  filepath.Join(e.Cfg.RecoveryDir(), id+".count"),
			}
			res, err := pipeline.Run(cmd.Context(), in)
			if err != nil {
				failedAt := merge.FailedAt(err)
				counter := statemachine.NewRecoveryCounter(in.RecoveryMarker, e.Cfg.MaxRecoveryAttempts)
				if recErr := counter.RecordFailure(); recErr != nil {
					wuDoneLog.Printf("%s: recovery counter exhausted after merge failure at %s", id, failedAt)
					return recErr
				}
				return err
			}
			wuDoneLog.Printf("%s completed (merge attempts=%d)", id, res.MergeAttempts)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "merge_attempts": res.MergeAttempts, "completed_at": res.CompletedAt})
			}
			writeStdout(report.MergeSummary(id, res))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to complete")
	cmd.Flags().BoolVar(&noMerge, "no-merge", false, "mark the WU done locally without running the merge pipeline")
	cmd.Flags().BoolVar(&pr, "pr", false, "push the lane branch and stop short of an automatic merge")
	cmd.Flags().BoolVar(&force, "force", false, "reserved; wu:done never bypasses done-completeness checks")
	cmd.Flags().BoolVar(&cloud, "cloud", false, "force cloud-mode semantics: push the lane branch instead of merging directly to trunk")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// completeWithoutMerge marks a WU done via a plain Transaction, skipping
// the lane-branch merge/push entirely (--no-merge, §6).
func completeWithoutMerge(e *engineCtx, id, wuPath string, wu wufile.WU, jsonMode bool) error {
	paths := []string{wuPath, e.Cfg.BacklogPath(), e.Cfg.StatusPath()}
	snap, err := txn.TakeSnapshot(paths)
	if err != nil {
		return err
	}
	wu.Status = "done"
	wuBytes, err := wufile.Marshal(wu)
	if err != nil {
		return err
	}
	tx := txn.New(id, snap)
	tx.Stage(wuPath, wuBytes, "mark WU done (no-merge)")

	states := make([]store.WuState, 0)
	for _, st := range e.Store.All() {
		if st.WUID == id {
			st.Status = "done"
		}
		states = append(states, st)
	}
	offStore, err := e.scanOffStore()
	if err != nil {
		return err
	}
	tx.Stage(e.Cfg.BacklogPath(), []byte(backlog.Render(states, offStore)), "regenerate backlog projection")
	tx.Stage(e.Cfg.StatusPath(), []byte(backlog.RenderStatus(states)), "regenerate status projection")
	tx.AddValidator(func() error { return wufile.Validate(wu) })
	if verrs := tx.Validate(); len(verrs) > 0 {
		return verrs[0]
	}
	if _, err := tx.Commit(); err != nil {
		return err
	}

	if err := e.Store.Append(events.Event{
		WUID: id, Kind: events.KindCompleted, Timestamp: time.Now().UTC(),
		Details: map[string]any{"merge_attempts": 0, "no_merge": true},
	}); err != nil {
		return err
	}
	wuDoneLog.Printf("%s marked done without merge", id)

	if jsonMode {
		return writeJSON(map[string]any{"wu_id": id, "merge_attempts": 0, "no_merge": true})
	}
	writeStdout(console.FormatSuccessMessage(id+" marked done (no merge)") + "\n")
	return nil
}
