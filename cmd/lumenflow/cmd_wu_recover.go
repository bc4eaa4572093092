package main

import (
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/doctor"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuRecoverLog = logger.New("lumenflow:cmd:wu-recover")

func newWURecoverCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "wu:recover",
		Short: "Clear a WU's recovery-attempt counter after manual intervention",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}
			if _, ok := e.Store.GetState(id); !ok {
				return errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", id)
			}

			marker := doctor.MarkerPath(e.Cfg, id)
			counter := statemachine.NewRecoveryCounter(marker, e.Cfg.MaxRecoveryAttempts)
			attemptsBefore := counter.Attempts()
			if err := counter.Clear(); err != nil {
				return err
			}
			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindRecovered,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"attempts_cleared": attemptsBefore},
			}); err != nil {
				return err
			}
			wuRecoverLog.Printf("%s recovery marker cleared (had %d attempts)", id, attemptsBefore)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "attempts_cleared": attemptsBefore})
			}
			writeStdout(console.FormatSuccessMessage(id+" recovery marker cleared") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to recover")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
