// Package report renders engine state to the terminal using the teacher's
// own lipgloss-backed console helpers (ambient stack, §10): it is pure
// presentation over internal/doctor, internal/store, and internal/merge
// results, never a second source of truth.
package report

import (
	"fmt"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/cloudmode"
	"github.com/lumenflow-dev/lumenflow/internal/doctor"
	"github.com/lumenflow-dev/lumenflow/internal/merge"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/pkg/console"
)

// Doctor renders a doctor.Report as a human-facing terminal report.
func Doctor(r doctor.Report) string {
	if r.Clean() {
		return console.FormatSuccessMessage("state:doctor found nothing actionable") + "\n"
	}

	var out string
	if len(r.ZombieWUs) > 0 {
		out += console.FormatWarningMessage(fmt.Sprintf("%d zombie WU(s) found", len(r.ZombieWUs))) + "\n"
		out += console.RenderList(r.ZombieWUs, "-") + "\n"
	}
	if len(r.ZombieLocks) > 0 || len(r.StaleLocks) > 0 {
		out += lockTable(r)
	}
	if len(r.Misplacements) > 0 {
		out += misplacementTable(r.Misplacements)
	}
	if r.EventLogErr != nil {
		out += console.FormatErrorMessage("event log corruption: "+r.EventLogErr.Error()) + "\n"
	}
	if len(r.RecoveryWarning) > 0 {
		out += recoveryTable(r.RecoveryWarning)
	}
	return out
}

func lockTable(r doctor.Report) string {
	rows := make([][]string, 0, len(r.ZombieLocks)+len(r.StaleLocks))
	for _, e := range r.ZombieLocks {
		rows = append(rows, []string{e.Resource, e.HeldBy, "zombie"})
	}
	for _, e := range r.StaleLocks {
		rows = append(rows, []string{e.Resource, e.HeldBy, "stale"})
	}
	return console.RenderTable(console.TableConfig{
		Title:   "Locks requiring attention",
		Headers: []string{"Lane", "Held by", "Reason"},
		Rows:    rows,
	}) + "\n"
}

func misplacementTable(misplacements []backlog.Misplacement) string {
	rows := make([][]string, 0, len(misplacements))
	for _, m := range misplacements {
		found := m.FoundSection
		if found == "" {
			found = "(missing)"
		}
		rows = append(rows, []string{m.WUID, m.ExpectedSection, found})
	}
	return console.RenderTable(console.TableConfig{
		Title:   "Backlog inconsistencies",
		Headers: []string{"WU", "Expected section", "Found section"},
		Rows:    rows,
	}) + "\n"
}

func recoveryTable(warnings []doctor.RecoveryWarning) string {
	rows := make([][]string, 0, len(warnings))
	for _, w := range warnings {
		rows = append(rows, []string{w.WUID, fmt.Sprintf("%d", w.Attempts), fmt.Sprintf("%d", w.Max)})
	}
	return console.RenderTable(console.TableConfig{
		Title:   "Recovery attempts near ceiling",
		Headers: []string{"WU", "Attempts", "Max"},
		Rows:    rows,
	}) + "\n"
}

// MergeSummary renders the outcome of a completed merge pipeline run.
func MergeSummary(wuID string, res merge.Result) string {
	msg := fmt.Sprintf("%s merged (attempts=%d, scratch removed=%v)", wuID, res.MergeAttempts, res.ScratchRemoved)
	return console.FormatSuccessMessage(msg) + "\n"
}

// CloudMode renders the outcome of a single cloud-mode evaluation (§6),
// so state:doctor can explain why a WU would or wouldn't push-instead-of-merge.
func CloudMode(res cloudmode.Result) string {
	if res.Active {
		return console.FormatInfoMessage(fmt.Sprintf("cloud mode active (%s)", res.Reason)) + "\n"
	}
	return console.FormatInfoMessage(fmt.Sprintf("cloud mode inactive (%s)", res.Reason)) + "\n"
}

// Backlog renders a one-line-per-status summary table of the current
// projection, distinct from internal/backlog's markdown file projection.
func Backlog(states []store.WuState) string {
	counts := map[string]int{}
	for _, st := range states {
		counts[st.Status]++
	}
	statuses := []string{"ready", "in_progress", "blocked", "done", "released"}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{s, fmt.Sprintf("%d", counts[s])})
	}
	return console.RenderTable(console.TableConfig{
		Title:   "Backlog summary",
		Headers: []string{"Status", "Count"},
		Rows:    rows,
	})
}
