package main

import (
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/civildate"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuCreateLog = logger.New("lumenflow:cmd:wu-create")

func newWUCreateCommand() *cobra.Command {
	var (
		id       string
		title    string
		lane     string
		wuType   string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "wu:create",
		Short: "Create a new Work Unit in ready status",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}

			wuID := id
			if wuID == "" {
				wuID, err = e.nextWUID()
				if err != nil {
					return err
				}
			}

			wu := wufile.WU{
				WUID:     wuID,
				Title:    title,
				Lane:     lane,
				Type:     wuType,
				Priority: priority,
				Status:   "ready",
				Created:  civildate.Today(),
			}
			if err := wufile.Validate(wu); err != nil {
				return err
			}
			if dryRun {
				return reportCreated(cmd, jsonMode, wu, true)
			}

			if err := ensureEngineDirs(e.Cfg); err != nil {
				return err
			}
			if err := wufile.Save(wufile.PathFor(e.Cfg.WUDir, wuID), wu); err != nil {
				return err
			}
			if err := e.Store.Append(events.Event{
				WUID:      wuID,
				Kind:      events.KindCreated,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"title": title, "lane": lane},
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuCreateLog.Printf("created %s in lane %s", wuID, lane)
			return reportCreated(cmd, jsonMode, wu, false)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "explicit WU id (default: next available WU-<n>)")
	cmd.Flags().StringVar(&title, "title", "", "WU title")
	cmd.Flags().StringVar(&lane, "lane", "", "lane to assign the WU to")
	cmd.Flags().StringVar(&wuType, "type", "feature", "WU type")
	cmd.Flags().StringVar(&priority, "priority", "P2", "WU priority")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("lane")
	return cmd
}

func reportCreated(cmd *cobra.Command, jsonMode bool, wu wufile.WU, dryRun bool) error {
	if jsonMode {
		return writeJSON(map[string]any{"wu_id": wu.WUID, "status": wu.Status, "dry_run": dryRun})
	}
	msg := wu.WUID + " created in lane " + wu.Lane
	if dryRun {
		msg += " (dry run, not written)"
	}
	writeStdout(console.FormatSuccessMessage(msg) + "\n")
	return nil
}
