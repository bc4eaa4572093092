package main

import (
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuValidateLog = logger.New("lumenflow:cmd:wu-validate")

func newWUValidateCommand() *cobra.Command {
	var (
		id   string
		done bool
	)

	cmd := &cobra.Command{
		Use:   "wu:validate",
		Short: "Validate a WU file against its schema (and done-completeness with --done)",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}
			wu, err := wufile.Load(wufile.PathFor(e.Cfg.WUDir, id))
			if err != nil {
				return err
			}
			if err := wufile.Validate(wu); err != nil {
				return err
			}
			if done {
				if err := wufile.DoneCompleteness(wu); err != nil {
					return err
				}
			}
			wuValidateLog.Printf("%s validated (done-completeness checked=%v)", id, done)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "valid": true, "done_checked": done})
			}
			writeStdout(console.FormatSuccessMessage(id+" is valid") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to validate")
	cmd.Flags().BoolVar(&done, "done", false, "also check done-completeness (acceptance criteria + test references)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
