package main

import (
	"os"

	"github.com/lumenflow-dev/lumenflow/internal/cloudmode"
	"github.com/lumenflow-dev/lumenflow/internal/doctor"
	"github.com/lumenflow-dev/lumenflow/internal/report"
	"github.com/lumenflow-dev/lumenflow/pkg/constants"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var stateDoctorLog = logger.New("lumenflow:cmd:state-doctor")

// newStateDoctorCommand implements the read-only diagnostic sweep. It is
// advisory: findings are reported but never change the command's exit
// code, which is 0 unless the sweep itself fails to run.
func newStateDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state:doctor",
		Short: "Diagnose zombie WUs, stale locks, and backlog drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}
			rep, err := doctor.Run(e.Cfg, e.Store, e.Locks)
			if err != nil {
				return err
			}
			stateDoctorLog.Printf("sweep complete: clean=%v", rep.Clean())

			branch, branchErr := e.Git.Raw(cmd.Context(), e.Cfg.BaseDir, "rev-parse", "--abbrev-ref", "HEAD")
			if branchErr != nil {
				branch = ""
			}
			cloudVal, _ := os.LookupEnv(constants.EnvCloudMode)
			envCloud := cloudVal == "1"
			_, envSignal := os.LookupEnv(constants.EnvAmbientCloudSignal)
			cloudResult := cloudmode.Detect(false, envCloud, envSignal, e.Cfg.CloudSignalOptIn, branch, e.Cfg.TrunkBranches)

			if jsonMode {
				return writeJSON(map[string]any{
					"report":       rep,
					"cloud_mode":   cloudResult.Active,
					"cloud_reason": cloudResult.Reason,
				})
			}
			writeStdout(report.Doctor(rep))
			writeStdout(report.CloudMode(cloudResult))
			return nil
		},
	}
	return cmd
}
