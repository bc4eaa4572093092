package main

import (
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuClaimLog = logger.New("lumenflow:cmd:wu-claim")

func newWUClaimCommand() *cobra.Command {
	var (
		id           string
		laneOverride string
		wait         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wu:claim",
		Short: "Claim a ready WU, acquiring its lane lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}

			st, ok := e.Store.GetState(id)
			if !ok {
				return errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", id)
			}
			if err := statemachine.CheckTransition(st.Status, "in_progress"); err != nil {
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
			for _, dep := range wu.Dependencies {
				if depState, ok := e.Store.GetState(dep); !ok || depState.Status != "done" {
					return errs.New(errs.KindStateTransition, "dependency not done").
						WithContext("wu_id", id).WithContext("dependency", dep)
				}
			}

			lane := wu.Lane
			if laneOverride != "" {
				lane = laneOverride
			}
			policy := laneLockPolicy("")
			opts := lock.Options{
				WaitBudget:     e.Cfg.LaneLockWaitBudget,
				PolicyOverride: policy,
			}
			if wait > 0 {
				opts.WaitBudget = wait
				if w, werr := lock.NewWatcher(e.Cfg.LockDir); werr == nil {
					opts.Watcher = w
					defer w.Close()
				} else {
					wuClaimLog.Printf("lock directory watcher unavailable, falling back to plain polling: %v", werr)
				}
				progress := progressFor(jsonMode)
				progress.Start(id + ": waiting for lane " + lane + " lock")
				defer progress.Stop()
			}
			res, err := e.Locks.Acquire(lane, id, opts)
			if err != nil {
				return err
			}
			if !res.Acquired && !res.Skipped {
				return errs.New(errs.KindLockBusy, "lane busy").
					WithContext("lane", lane).WithContext("held_by", res.HeldBy)
			}

			wu.Status = "in_progress"
			if err := wufile.Save(wuPath, wu); err != nil {
				return err
			}
			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindClaimed,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"claimed_mode": "inline"},
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuClaimLog.Printf("%s claimed in lane %s", id, lane)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "lane": lane, "lock_acquired": res.Acquired})
			}
			writeStdout(console.FormatSuccessMessage(id+" claimed in lane "+lane) + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to claim")
	cmd.Flags().StringVar(&laneOverride, "lane", "", "override the WU's recorded lane")
	cmd.Flags().DurationVar(&wait, "wait", 0, "block up to this duration for a contested lane lock, showing progress")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
