// Package config holds the engine's runtime configuration as an explicit,
// immutable value threaded through every constructor. The source system
// kept config, lock root, and project root as module-scope mutable state;
// this rewrite replaces that with a plain struct built once at the CLI
// boundary (see §9 "shared mutable modules").
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lumenflow-dev/lumenflow/pkg/constants"
)

// Config is the engine's fully-resolved runtime configuration.
type Config struct {
	// BaseDir is the repository root.
	BaseDir string
	// StateDir holds the event log, stamps, and recovery markers.
	StateDir string
	// TasksDir holds the rendered backlog/status markdown projections.
	TasksDir string
	// WUDir holds one YAML file per WorkUnit.
	WUDir string
	// InitiativesDir holds initiative grouping files.
	InitiativesDir string
	// LockDir is outside any worktree so lock files never pollute a branch.
	LockDir string

	StaleLockThreshold  time.Duration
	MaxRecoveryAttempts int
	MaxMergeRetries     int
	LaneLockWaitBudget  time.Duration
	MergeLockWaitBudget time.Duration
	SubprocessTimeout   time.Duration
	OutputBufferCap     int64

	TrunkBranches []string

	// CloudSignalOptIn gates whether env-signal cloud-mode activation
	// participates at all (see internal/cloudmode).
	CloudSignalOptIn bool
}

// Default returns the baseline configuration rooted at baseDir, with every
// tunable at its spec-mandated default.
func Default(baseDir string) Config {
	return Config{
		BaseDir:        baseDir,
		StateDir:       filepath.Join(baseDir, ".lumenflow"),
		TasksDir:       filepath.Join(baseDir, "tasks"),
		WUDir:          filepath.Join(baseDir, "tasks", constants.WUDirName),
		InitiativesDir: filepath.Join(baseDir, "tasks", constants.InitiativesDirName),
		LockDir:        filepath.Join(os.TempDir(), constants.LocksDirName),

		StaleLockThreshold:  constants.DefaultStaleLockThreshold,
		MaxRecoveryAttempts: constants.DefaultMaxRecoveryAttempts,
		MaxMergeRetries:     constants.DefaultMaxMergeRetries,
		LaneLockWaitBudget:  constants.DefaultLaneLockWaitBudget,
		MergeLockWaitBudget: constants.DefaultMergeLockWaitBudget,
		SubprocessTimeout:   constants.DefaultSubprocessTimeout,
		OutputBufferCap:     constants.DefaultOutputBufferCap,

		TrunkBranches: append([]string{}, constants.DefaultTrunkBranches...),
	}
}

// FromEnv overlays recognized environment variables onto base, returning a
// new Config. It is called exactly once at the CLI boundary; nothing below
// the CLI layer reads os.Getenv directly.
func FromEnv(base Config, lookup func(string) (string, bool)) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := base

	if v, ok := lookup(constants.EnvStaleLockThresholdHours); ok {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			out.StaleLockThreshold = time.Duration(hours * float64(time.Hour))
		}
	}

	return out
}

// EventLogPath is the full path to the append-only lifecycle event log.
func (c Config) EventLogPath() string {
	return filepath.Join(c.StateDir, constants.EventLogFileName)
}

// SpawnRegistryPath is the full path to the delegated-work registry log.
func (c Config) SpawnRegistryPath() string {
	return filepath.Join(c.StateDir, constants.SpawnRegistryFile)
}

// BacklogPath is the full path to the rendered backlog projection.
func (c Config) BacklogPath() string {
	return filepath.Join(c.TasksDir, constants.BacklogFileName)
}

// StatusPath is the full path to the rendered status projection.
func (c Config) StatusPath() string {
	return filepath.Join(c.TasksDir, constants.StatusFileName)
}

// StampsDir is the directory holding per-WU completion stamps.
func (c Config) StampsDir() string {
	return filepath.Join(c.StateDir, constants.StampsDirName)
}

// RecoveryDir is the directory holding per-WU recovery-attempt markers.
func (c Config) RecoveryDir() string {
	return filepath.Join(c.StateDir, constants.RecoveryDirName)
}

// IsTrunkBranch reports whether name is a protected trunk branch.
func (c Config) IsTrunkBranch(name string) bool {
	for _, b := range c.TrunkBranches {
		if b == name {
			return true
		}
	}
	return false
}
