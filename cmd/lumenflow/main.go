// Command lumenflow is the thin CLI surface over the WU lifecycle engine
// (§6): cobra verbs that construct an engineCtx and delegate immediately to
// internal/* packages. Per §1's Non-goals, argument parsing and help
// formatting are the only things this package owns; every decision of
// substance lives in internal/*.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
	"github.com/lumenflow-dev/lumenflow/pkg/constants"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     constants.CLIExtensionPrefix,
		Short:   "LumenFlow workflow engine CLI",
		Version: version,
		Long: `LumenFlow coordinates concurrent AI coding agents against a single shared
git repository through a Work Unit lifecycle: create, claim, edit, block,
unblock, release, and complete (merge) WUs under file-based locks and an
append-only event log.`,
		Run: func(cmd *cobra.Command, args []string) { _ = cmd.Help() },
	}

	root.AddGroup(&cobra.Group{ID: "setup", Title: "Setup Commands:"})
	root.AddGroup(&cobra.Group{ID: "wu", Title: "Work Unit Commands:"})
	root.AddGroup(&cobra.Group{ID: "gate", Title: "Gate & Diagnostics Commands:"})

	root.PersistentFlags().Bool("json", false, "Emit machine-readable JSON on stdout instead of formatted text")
	root.PersistentFlags().Bool("dry-run", false, "Report what would happen without mutating any state")
	root.SetOut(os.Stderr)

	initCmd := newInitCommand()
	initCmd.GroupID = "setup"

	wuCommands := []*cobra.Command{
		newWUCreateCommand(),
		newWUClaimCommand(),
		newWUEditCommand(),
		newWUDoneCommand(),
		newWUBlockCommand(),
		newWUUnblockCommand(),
		newWUReleaseCommand(),
		newWURecoverCommand(),
		newWUValidateCommand(),
	}
	for _, c := range wuCommands {
		c.GroupID = "wu"
	}

	gatesCmd := newGatesCommand()
	gatesCmd.GroupID = "gate"
	doctorCmd := newStateDoctorCommand()
	doctorCmd.GroupID = "gate"

	root.AddCommand(initCmd)
	for _, c := range wuCommands {
		root.AddCommand(c)
	}
	root.AddCommand(gatesCmd, doctorCmd)

	return root
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err == nil {
		return
	}

	jsonMode, _ := root.PersistentFlags().GetBool("json")
	if jsonMode {
		if writeErr := writeJSON(errorJSON(err)); writeErr != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(writeErr.Error()))
		}
	} else {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
	}
	os.Exit(exitCodeFor(err))
}

func errorJSON(err error) errs.JSON {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.ToJSON()
	}
	return errs.JSON{ErrorKind: "Error", Message: err.Error()}
}
