package main

import (
	"os"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var gatesLog = logger.New("lumenflow:cmd:gates")

// newGatesCommand implements the pre-merge gate check: the guard
// predicates of the in_progress->done transition that don't require
// actually running the merge pipeline, scoped to one WU. A failure here
// is a gate regression, exit code 2, distinct from a generic CLI error.
func newGatesCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "gates",
		Short: "Run pre-merge gate checks for a single WU (exit 2 on regression)",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}

			if _, ok := e.Store.GetState(id); !ok {
				return errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", id)
			}

			wu, err := wufile.Load(wufile.PathFor(e.Cfg.WUDir, id))
			if err != nil {
				return &gateRegressionError{cause: err}
			}
			if err := wufile.Validate(wu); err != nil {
				return &gateRegressionError{cause: err}
			}
			if err := wufile.DoneCompleteness(wu); err != nil {
				return &gateRegressionError{cause: err}
			}
			for _, dep := range wu.Dependencies {
				depState, ok := e.Store.GetState(dep)
				if !ok || depState.Status != "done" {
					return &gateRegressionError{cause: errs.New(errs.KindStateTransition, "dependency not done").
						WithContext("wu_id", id).WithContext("dependency", dep)}
				}
			}

			rendered, err := os.ReadFile(e.Cfg.BacklogPath())
			if err == nil {
				for _, m := range backlog.CheckConsistency(string(rendered), e.Store.All()) {
					if m.WUID == id {
						return &gateRegressionError{cause: errs.New(errs.KindValidation, "backlog placement mismatch").
							WithContext("wu_id", id).WithContext("expected", m.ExpectedSection).WithContext("found", m.FoundSection)}
					}
				}
			}

			gatesLog.Printf("%s passed gates", id)
			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "gates": "passed"})
			}
			writeStdout(console.FormatSuccessMessage(id+" passes all gates") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to gate-check")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
