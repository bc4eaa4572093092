// Package statemachine implements the WU State Machine (§4.C): the legal
// transition table, its guard predicates, and the recovery-attempt counter
// that escalates to manual intervention after repeated completion failures.
package statemachine

import (
	"os"
	"strconv"
	"strings"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/store"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:statemachine")

// transitions is the legal from→to table. Absence of a key means no
// outbound transitions are legal from that status (done, released are
// terminal per the table in §4.C).
var transitions = map[string]map[string]bool{
	"ready":       {"in_progress": true, "blocked": true, "released": true},
	"in_progress": {"ready": true, "blocked": true, "done": true, "released": true},
	"blocked":     {"in_progress": true, "released": true},
	"done":        {},
	"released":    {"ready": true},
}

// Allowed reports whether from→to is a legal transition per the table.
// Unknown "from" statuses (including the empty status of a brand-new WU)
// have no entry and so have no legal outbound transitions — callers
// creating a WU never go through Allowed, they call store.Append directly
// with KindCreated.
func Allowed(from, to string) bool {
	row, ok := transitions[from]
	if !ok {
		return false
	}
	return row[to]
}

// CheckTransition validates from→to and returns a *errs.Error of Kind
// KindStateTransition when illegal, per §4.C.
func CheckTransition(from, to string) error {
	if Allowed(from, to) {
		return nil
	}
	return errs.New(errs.KindStateTransition, "illegal transition "+from+" -> "+to).
		WithContext("from", from).
		WithContext("to", to)
}

// GuardFunc evaluates a single guard predicate for a transition; ok=false
// with a reason explains which precondition failed.
type GuardFunc func() (ok bool, reason string)

// CheckGuards runs every guard in order, short-circuiting on the first
// failure. Per §4.C, guards are checked only at transition time, never
// during replay.
func CheckGuards(guards ...GuardFunc) error {
	for _, g := range guards {
		ok, reason := g()
		if !ok {
			return errs.New(errs.KindStateTransition, "guard failed: "+reason)
		}
	}
	return nil
}

// IsZombie reports a WU flagged done with a worktree still present on
// disk — a post-crash partial per §4.C. The state machine only flags; the
// CLI surface decides what to do about it.
func IsZombie(st store.WuState) bool {
	if st.Status != "done" || st.WorktreePath == "" {
		return false
	}
	info, err := os.Stat(st.WorktreePath)
	return err == nil && info.IsDir()
}

// RecoveryCounter tracks failed completion attempts for a single WU via a
// marker file, per §4.C's recovery-attempt counter. Corrupt marker content
// is treated as zero attempts so far.
type RecoveryCounter struct {
	path string
	max  int
}

// NewRecoveryCounter returns a counter backed by the marker file at path,
// escalating to manual intervention once Attempts() reaches max.
func NewRecoveryCounter(path string, max int) *RecoveryCounter {
	return &RecoveryCounter{path: path, max: max}
}

// Attempts returns the current failure count, 0 if the marker is absent
// or unreadable/corrupt.
func (c *RecoveryCounter) Attempts() int {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RecordFailure increments the counter and returns an error once a prior
// call has already reached the configured maximum, refusing further
// automated recovery. The Nth failure itself still records and returns
// nil; only the (N+1)th call, finding the counter already at max, escalates.
func (c *RecoveryCounter) RecordFailure() error {
	current := c.Attempts()
	if current >= c.max {
		log.Printf("recovery attempts exhausted (%d/%d) at %s", current, c.max, c.path)
		return errs.New(errs.KindRecoveryExhausted, "manual intervention required").
			WithContext("attempts", current).
			WithContext("max", c.max).
			WithNextSteps("inspect the WU and lane manually", "clear the recovery marker once resolved")
	}
	n := current + 1
	if err := os.WriteFile(c.path, []byte(strconv.Itoa(n)), 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "write recovery marker", err)
	}
	return nil
}

// Clear removes the marker file, resetting the count to zero on success.
func (c *RecoveryCounter) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "clear recovery marker", err)
	}
	return nil
}
