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

var wuReleaseLog = logger.New("lumenflow:cmd:wu-release")

func newWUReleaseCommand() *cobra.Command {
	var (
		id     string
		reason string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "wu:release",
		Short: "Release a WU's lane lock and mark it released",
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
			// release is permitted from any non-terminal status per §4.C
			// (ready, in_progress, blocked); the WU lands on "released".
			if err := statemachine.CheckTransition(st.Status, "released"); err != nil {
				return err
			}

			wuPath := wufile.PathFor(e.Cfg.WUDir, id)
			wu, err := wufile.Load(wuPath)
			if err != nil {
				return err
			}

			res, err := e.Locks.AuditedRelease(wu.Lane, reason, force, lock.Options{})
			if err != nil {
				return err
			}

			wu.Status = "released"
			if reason != "" {
				wu.Notes = reason
			}
			if err := wufile.Save(wuPath, wu); err != nil {
				return err
			}

			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindReleased,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"reason": reason, "forced": force},
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuReleaseLog.Printf("%s released (lock denied=%v)", id, res.Denied)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "status": "released", "lock_released": !res.Denied})
			}
			writeStdout(console.FormatSuccessMessage(id+" released") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to release")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for release")
	cmd.Flags().BoolVar(&force, "force", false, "force-break the lane lock even if held by another WU")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
