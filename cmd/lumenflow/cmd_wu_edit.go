package main

import (
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/initiative"
	"github.com/lumenflow-dev/lumenflow/internal/txn"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
	"github.com/spf13/cobra"
)

var wuEditLog = logger.New("lumenflow:cmd:wu-edit")

func newWUEditCommand() *cobra.Command {
	var (
		id         string
		title      string
		lane       string
		notes      string
		initName   string
		clearInit  bool
	)

	cmd := &cobra.Command{
		Use:   "wu:edit",
		Short: "Edit a WU's mutable metadata atomically",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			e, err := newEngineCtx()
			if err != nil {
				return err
			}
			if _, ok := e.Store.GetState(id); !ok {
				return errs.New(errs.KindValidation, "unknown WU").WithContext("wu_id", id)
			}

			wuPath := wufile.PathFor(e.Cfg.WUDir, id)
			wu, err := wufile.Load(wuPath)
			if err != nil {
				return err
			}

			oldInitiative := wu.Initiative
			if title != "" {
				wu.Title = title
			}
			if lane != "" {
				wu.Lane = lane
			}
			if notes != "" {
				wu.Notes = notes
			}
			if clearInit {
				wu.Initiative = ""
			} else if initName != "" {
				wu.Initiative = initName
			}
			if err := wufile.Validate(wu); err != nil {
				return err
			}

			paths := []string{wuPath}
			var oldInitPath, newInitPath string
			if oldInitiative != wu.Initiative {
				if oldInitiative != "" {
					oldInitPath = initiativePath(e.Cfg.InitiativesDir, oldInitiative)
					paths = append(paths, oldInitPath)
				}
				if wu.Initiative != "" {
					newInitPath = initiativePath(e.Cfg.InitiativesDir, wu.Initiative)
					paths = append(paths, newInitPath)
				}
			}

			snap, err := txn.TakeSnapshot(paths)
			if err != nil {
				return err
			}
			wuBytes, err := wufile.Marshal(wu)
			if err != nil {
				return err
			}
			tx := txn.New(id, snap)
			tx.Stage(wuPath, wuBytes, "update WU metadata")
			if oldInitPath != "" || newInitPath != "" {
				if err := initiative.StageBidirectionalUpdate(tx, oldInitPath, newInitPath, id); err != nil {
					return err
				}
			}
			tx.AddValidator(func() error { return wufile.Validate(wu) })
			if verrs := tx.Validate(); len(verrs) > 0 {
				return verrs[0]
			}
			if _, err := tx.Commit(); err != nil {
				return err
			}

			if err := e.Store.Append(events.Event{
				WUID:      id,
				Kind:      events.KindEdited,
				Timestamp: time.Now().UTC(),
				Details:   map[string]any{"title": wu.Title, "lane": wu.Lane},
			}); err != nil {
				return err
			}
			if err := e.regenerateProjections(); err != nil {
				return err
			}
			wuEditLog.Printf("%s edited", id)

			if jsonMode {
				return writeJSON(map[string]any{"wu_id": id, "title": wu.Title, "lane": wu.Lane})
			}
			writeStdout(console.FormatSuccessMessage(id+" updated") + "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "WU id to edit")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&lane, "lane", "", "new lane")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().StringVar(&initName, "initiative", "", "move to a different initiative")
	cmd.Flags().BoolVar(&clearInit, "clear-initiative", false, "remove the WU from its initiative")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
