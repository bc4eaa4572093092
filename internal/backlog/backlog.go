// Package backlog implements the Backlog Projector (§4.F): a deterministic
// markdown rendering of the Event Store's state, a consistency checker
// that catches drift between the rendered document and the store, and a
// content checksum cheap enough to call on every read.
package backlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/internal/wufile"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:backlog")

const frontmatter = `---
# This file is generated by the backlog projector. Do not edit by hand.
sections:
  - Ready
  - In Progress
  - Blocked
  - Done
---

`

var sectionOrder = []string{"ready", "in_progress", "blocked", "done"}

var sectionTitle = map[string]string{
	"ready":       "## Ready",
	"in_progress": "## In Progress",
	"blocked":     "## Blocked",
	"done":        "## Done",
}

var emptyPlaceholder = map[string]string{
	"ready":       "_No WUs ready._",
	"in_progress": "_No WUs in progress._",
	"blocked":     "_No WUs blocked._",
	"done":        "_No WUs done yet._",
}

// OffStoreWU is a WU present as a YAML file on disk but absent from the
// store's projection (§4.F "WUs that exist on disk ... but not in the
// store are listed afterward").
type OffStoreWU struct {
	WUID   string
	Title  string
	Lane   string
	Status string
}

// Render produces the full backlog.md contents for states (store WUs) plus
// any off-store WUs discovered on disk, per the §4.F projection rules.
func Render(states []store.WuState, offStore []OffStoreWU) string {
	byStatus := map[string][]store.WuState{}
	for _, st := range states {
		byStatus[st.Status] = append(byStatus[st.Status], st)
	}
	offByStatus := map[string][]OffStoreWU{}
	for _, o := range offStore {
		offByStatus[o.Status] = append(offByStatus[o.Status], o)
	}

	var b strings.Builder
	b.WriteString(frontmatter)

	for _, status := range sectionOrder {
		b.WriteString(sectionTitle[status])
		b.WriteString("\n\n")

		inStore := append([]store.WuState{}, byStatus[status]...)
		sort.Slice(inStore, func(i, j int) bool { return inStore[i].WUID < inStore[j].WUID })

		off := append([]OffStoreWU{}, offByStatus[status]...)
		sort.Slice(off, func(i, j int) bool { return numericLess(off[i].WUID, off[j].WUID) })

		if len(inStore) == 0 && len(off) == 0 {
			b.WriteString(emptyPlaceholder[status])
			b.WriteString("\n\n")
			continue
		}

		for _, st := range inStore {
			b.WriteString(renderLine(st.WUID, st.Title, st.Lane, status))
			b.WriteString("\n")
		}
		for _, o := range off {
			b.WriteString(renderLine(o.WUID, o.Title, o.Lane, status))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func renderLine(wuID, title, lane, status string) string {
	link := fmt.Sprintf("[%s — %s](wu/%s.yaml)", wuID, title, wuID)
	if status == "done" {
		return "- " + link
	}
	return fmt.Sprintf("- %s — %s", link, lane)
}

func numericLess(a, b string) bool {
	na, aok := wufile.NumericID(a)
	nb, bok := wufile.NumericID(b)
	if aok && bok {
		return na < nb
	}
	return a < b
}

// RenderStatus produces the status.md contents: a per-lane rollup distinct
// from Render's per-status WU listing, per §6's separate "status
// projection" file. Lanes are sorted, and within a lane WUs are grouped by
// status in the same fixed section order as Render.
func RenderStatus(states []store.WuState) string {
	byLane := map[string][]store.WuState{}
	for _, st := range states {
		lane := st.Lane
		if lane == "" {
			lane = "(unassigned)"
		}
		byLane[lane] = append(byLane[lane], st)
	}

	lanes := make([]string, 0, len(byLane))
	for lane := range byLane {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)

	var b strings.Builder
	b.WriteString("# Status by lane\n\n")
	if len(lanes) == 0 {
		b.WriteString("_No lanes active._\n")
		return b.String()
	}

	for _, lane := range lanes {
		b.WriteString("## " + lane + "\n\n")
		wus := append([]store.WuState{}, byLane[lane]...)
		sort.Slice(wus, func(i, j int) bool {
			if wus[i].Status != wus[j].Status {
				return statusRank(wus[i].Status) < statusRank(wus[j].Status)
			}
			return wus[i].WUID < wus[j].WUID
		})
		for _, st := range wus {
			fmt.Fprintf(&b, "- %s — %s (%s)\n", st.WUID, st.Title, st.Status)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func statusRank(status string) int {
	for i, s := range sectionOrder {
		if s == status {
			return i
		}
	}
	return len(sectionOrder)
}

// Checksum computes the deterministic SHA-256 over the sorted
// (wu_id, status, title, lane) tuples, per §4.F. It is independent of
// markdown rendering details so it detects drift even if the rendering
// template changes.
func Checksum(states []store.WuState) string {
	sorted := append([]store.WuState{}, states...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WUID < sorted[j].WUID })

	h := sha256.New()
	for _, st := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\n", st.WUID, st.Status, st.Title, st.Lane)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// QuickHash returns a cheap xxhash digest of the same tuple stream as
// Checksum, for comparisons where a full SHA-256 is unnecessary overhead.
// Unlike Checksum it is not cryptographic.
func QuickHash(states []store.WuState) uint64 {
	sorted := append([]store.WuState{}, states...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WUID < sorted[j].WUID })

	digest := xxhash.New()
	for _, st := range sorted {
		fmt.Fprintf(digest, "%s\x00%s\x00%s\x00%s\n", st.WUID, st.Status, st.Title, st.Lane)
	}
	return digest.Sum64()
}

// Misplacement describes a WU found in a section other than the one its
// store status implies.
type Misplacement struct {
	WUID            string
	ExpectedSection string
	FoundSection    string
}

// CheckConsistency parses rendered and reports every WU that appears in
// the wrong section, is missing entirely, or appears in more than one
// section, per §4.F's consistency check contract.
func CheckConsistency(rendered string, states []store.WuState) []Misplacement {
	found := parseSections(rendered)

	expected := map[string]string{}
	for _, st := range states {
		expected[st.WUID] = st.Status
	}

	var problems []Misplacement
	seen := map[string]string{}
	for section, ids := range found {
		for _, id := range ids {
			if prior, ok := seen[id]; ok && prior != section {
				problems = append(problems, Misplacement{WUID: id, ExpectedSection: expected[id], FoundSection: section})
				continue
			}
			seen[id] = section
		}
	}

	for id, status := range expected {
		section, ok := seen[id]
		if !ok {
			problems = append(problems, Misplacement{WUID: id, ExpectedSection: status, FoundSection: ""})
			continue
		}
		if section != status {
			problems = append(problems, Misplacement{WUID: id, ExpectedSection: status, FoundSection: section})
		}
	}

	sort.Slice(problems, func(i, j int) bool { return problems[i].WUID < problems[j].WUID })
	log.Printf("consistency check found %d problem(s)", len(problems))
	return problems
}

var sectionHeadingToStatus = map[string]string{
	"## Ready":       "ready",
	"## In Progress": "in_progress",
	"## Blocked":     "blocked",
	"## Done":        "done",
}

func parseSections(rendered string) map[string][]string {
	out := map[string][]string{}
	current := ""
	for _, line := range strings.Split(rendered, "\n") {
		if status, ok := sectionHeadingToStatus[strings.TrimSpace(line)]; ok {
			current = status
			continue
		}
		if current == "" || !strings.HasPrefix(strings.TrimSpace(line), "- [") {
			continue
		}
		id := extractWUID(line)
		if id != "" {
			out[current] = append(out[current], id)
		}
	}
	return out
}

func extractWUID(line string) string {
	start := strings.Index(line, "[")
	if start < 0 {
		return ""
	}
	rest := line[start+1:]
	end := strings.IndexAny(rest, " —]")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
