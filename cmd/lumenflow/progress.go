package main

import (
	"time"

	"github.com/briandowns/spinner"
	"github.com/lumenflow-dev/lumenflow/internal/merge"
)

// ProgressReporter surfaces a long-running wait — a contested lane lock,
// a merge-retry loop — to an interactive terminal. JSON-mode runs get
// noopProgress so machine-readable output stays clean of spinner escape
// sequences.
type ProgressReporter interface {
	Start(message string)
	Stop()
}

type spinnerProgress struct {
	s *spinner.Spinner
}

func newSpinnerProgress() *spinnerProgress {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	return &spinnerProgress{s: s}
}

func (p *spinnerProgress) Start(message string) {
	p.s.Suffix = " " + message
	p.s.Start()
}

func (p *spinnerProgress) Stop() {
	p.s.Stop()
}

type noopProgress struct{}

func (noopProgress) Start(string) {}
func (noopProgress) Stop()        {}

// progressFor picks a reporter for the current invocation: a spinner for
// an interactive terminal run, a no-op for --json output.
func progressFor(jsonMode bool) ProgressReporter {
	if jsonMode {
		return noopProgress{}
	}
	return newSpinnerProgress()
}

// mergeProgress adapts a ProgressReporter to merge.Progress, labeling the
// two states worth surfacing to an operator (merging and pushing are the
// only states with unbounded, network- or retry-bound wait times).
type mergeProgress struct {
	wuID string
	r    ProgressReporter
}

func newMergeProgress(wuID string, jsonMode bool) *mergeProgress {
	return &mergeProgress{wuID: wuID, r: progressFor(jsonMode)}
}

func (m *mergeProgress) OnState(state merge.State) {
	switch state {
	case merge.StateMerging:
		m.r.Start(m.wuID + ": merging lane branch onto trunk")
	case merge.StatePushing:
		m.r.Start(m.wuID + ": pushing to trunk")
	default:
		m.r.Stop()
	}
}
