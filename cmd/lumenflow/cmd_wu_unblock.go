package main

import (
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/lanepolicy"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuUnblockLog = logger.New("lumenflow:cmd:wu-unblock")

func newWUUnblockCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "wu:unblock",
		Short: "Return a blocked WU to in_progress",
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
			wu.Status = "in_progress"
			if err := wufile.Save(wuPath, wu); err != nil {
				return err
			}

			policy := lanepolicy.Resolve("", lock.Policy(""))
			res, err := lanepolicy.ReacquireForUnblock(e.Locks, policy, wu.Lane, id)
			if err != nil {
				return err
			}

			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindUnblocked,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuUnblockLog.Printf("%s unblocked (lane reacquired=%v)", id, res.Acquired)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "status": "in_progress", "lane_reacquired": res.Acquired})
			}
			writeStdout(console.FormatSuccessMessage(id+" unblocked") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to unblock")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
