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

var wuBlockLog = logger.New("lumenflow:cmd:wu-block")

func newWUBlockCommand() *cobra.Command {
	var (
		id     string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "wu:block",
		Short: "Mark an in-progress WU blocked",
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
			if err := statemachine.CheckTransition(st.Status, "blocked"); err != nil {
				return err
			}

			wuPath := wufile.PathFor(e.Cfg.WUDir, id)
			wu, err := wufile.Load(wuPath)
			if err != nil {
				return err
			}
			wu.Status = "blocked"
			if reason != "" {
				wu.Notes = reason
			}
			if err := wufile.Save(wuPath, wu); err != nil {
				return err
			}

			policy := lanepolicy.Resolve("", lock.Policy(""))
			if err := lanepolicy.ReleaseForBlock(e.Locks, policy, wu.Lane, id); err != nil {
				return err
			}

			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindBlocked,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"reason": reason},
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuBlockLog.Printf("%s blocked: %s", id, reason)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "status": "blocked"})
			}
			writeStdout(console.FormatWarningMessage(id+" blocked") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to block")
	cmd.Flags().StringVar(&reason, "reason", "", "reason the WU is blocked")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
