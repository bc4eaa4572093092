// Package doctor implements the state:doctor diagnostic sweep (§12
// supplement): a read-only pass over the engine's on-disk state that
// surfaces zombie WUs, stale/zombie locks, backlog drift, event-log
// corruption, and recovery markers approaching their attempt ceiling.
// Nothing in this package mutates state; every finding is advisory.
package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lumenflow-dev/lumenflow/internal/backlog"
	"github.com/lumenflow-dev/lumenflow/internal/config"
	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/internal/lock"
	"github.com/lumenflow-dev/lumenflow/internal/statemachine"
	"github.com/lumenflow-dev/lumenflow/internal/store"
)

// RecoveryWarning flags a WU whose recovery-attempt counter is at or near
// the configured ceiling (§4.C).
type RecoveryWarning struct {
	WUID     string
	Attempts int
	Max      int
}

// Report is the full output of a single sweep.
type Report struct {
	ZombieWUs       []string
	StaleLocks      []lock.LockEntry
	ZombieLocks     []lock.LockEntry
	Misplacements   []backlog.Misplacement
	EventLogErr     error
	RecoveryWarning []RecoveryWarning
}

// Clean reports whether the sweep found nothing actionable.
func (r Report) Clean() bool {
	return len(r.ZombieWUs) == 0 && len(r.StaleLocks) == 0 && len(r.ZombieLocks) == 0 &&
		len(r.Misplacements) == 0 && r.EventLogErr == nil && len(r.RecoveryWarning) == 0
}

// Run performs one sweep against the engine rooted at cfg, consulting st's
// current projection and locks' lock directory. It never writes to disk.
func Run(cfg config.Config, st *store.Store, locks *lock.Manager) (Report, error) {
	var report Report

	states := st.All()
	for _, wu := range states {
		if statemachine.IsZombie(wu) {
			report.ZombieWUs = append(report.ZombieWUs, wu.WUID)
		}
	}

	entries, err := locks.All(lock.Options{StaleThreshold: cfg.StaleLockThreshold})
	if err != nil {
		return Report{}, err
	}
	for _, e := range entries {
		switch {
		case e.IsZombie:
			report.ZombieLocks = append(report.ZombieLocks, e)
		case e.IsStale:
			report.StaleLocks = append(report.StaleLocks, e)
		}
	}

	if rendered, err := os.ReadFile(cfg.BacklogPath()); err == nil {
		report.Misplacements = backlog.CheckConsistency(string(rendered), states)
	}

	if _, err := events.ReadAllFile(cfg.EventLogPath()); err != nil {
		var parseErr *events.ParseError
		if errors.As(err, &parseErr) {
			report.EventLogErr = parseErr
		}
	}

	warnings, err := recoveryWarnings(cfg)
	if err != nil {
		return Report{}, err
	}
	report.RecoveryWarning = warnings

	return report, nil
}

// recoveryWarnings scans cfg.RecoveryDir() for per-WU marker files and
// flags any at or within one attempt of cfg.MaxRecoveryAttempts.
func recoveryWarnings(cfg config.Config) ([]RecoveryWarning, error) {
	entries, err := os.ReadDir(cfg.RecoveryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RecoveryWarning
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".count") {
			continue
		}
		wuID := strings.TrimSuffix(e.Name(), ".count")
		counter := statemachine.NewRecoveryCounter(filepath.Join(cfg.RecoveryDir(), e.Name()), cfg.MaxRecoveryAttempts)
		attempts := counter.Attempts()
		if attempts >= cfg.MaxRecoveryAttempts-1 {
			out = append(out, RecoveryWarning{WUID: wuID, Attempts: attempts, Max: cfg.MaxRecoveryAttempts})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WUID < out[j].WUID })
	return out, nil
}

// MarkerPath returns the recovery-marker path for wuID under cfg, matching
// the naming convention recoveryWarnings scans for.
func MarkerPath(cfg config.Config, wuID string) string {
	return filepath.Join(cfg.RecoveryDir(), wuID+".count")
}
