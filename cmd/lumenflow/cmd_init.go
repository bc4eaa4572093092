package main

import (
	"os"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var initLog = logger.New("lumenflow:cmd:init")

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold the engine's state, tasks, and lock directories",
		Long: `Creates the event log's parent directory, the tasks directory (backlog.md
and status.md), the wu/ and initiatives/ directories, and the lock root, then
renders an empty backlog and status projection so the repository is ready
for wu:create.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}
			if err := ensureEngineDirs(e.Cfg); err != nil {
				return err
			}
			if _, err := os.Stat(e.Cfg.BacklogPath()); os.IsNotExist(err) {
				if err := os.WriteFile(e.Cfg.BacklogPath(), []byte(backlog.Render(nil, nil)), 0o644); err != nil {
					return err
				}
			}
			if _, err := os.Stat(e.Cfg.StatusPath()); os.IsNotExist(err) {
				if err := os.WriteFile(e.Cfg.StatusPath(), []byte(backlog.RenderStatus(nil)), 0o644); err != nil {
					return err
				}
			}
			initLog.Printf("initialized engine state under %s", e.Cfg.BaseDir)

			if jsonMode {
				return writeJSON(map[string]string{"status": "initialized", "base_dir": e.Cfg.BaseDir})
			}
			writeStdout(console.FormatSuccessMessage("lumenflow initialized at "+e.Cfg.BaseDir) + "\n")
			return nil
		},
	}
}
