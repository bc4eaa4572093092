// Package constants holds fixed names and defaults shared across the engine
// and its CLI surface.
package constants

import "time"

// CLIExtensionPrefix is the prefix used in user-facing output to refer to the CLI.
const CLIExtensionPrefix = "lumenflow"

// Default file and directory names under the engine's state/config roots.
const (
	EventLogFileName   = "wu-events.jsonl"
	SpawnRegistryFile  = "spawn-registry.jsonl"
	BacklogFileName    = "backlog.md"
	StatusFileName     = "status.md"
	StampsDirName      = "stamps"
	RecoveryDirName    = "recovery"
	LocksDirName       = "lumenflow-locks"
	WUDirName          = "wu"
	InitiativesDirName = "initiatives"

	MergeLockResource   = "merge"
	CleanupLockResource = "cleanup"
)

// Default tunables, overridable via environment or Config (see internal/config).
const (
	DefaultStaleLockThreshold  = 2 * time.Hour
	DefaultMaxRecoveryAttempts = 5
	DefaultMaxMergeRetries     = 5
	DefaultLaneLockWaitBudget  = 1 * time.Second
	DefaultMergeLockWaitBudget = 3 * time.Second
	DefaultSubprocessTimeout   = 30 * time.Second
	DefaultOutputBufferCap     = 10 * 1024 * 1024 // 10 MiB
)

// DefaultTrunkBranches is the fallback protected-branch list.
var DefaultTrunkBranches = []string{"main", "master"}

// Environment variable names recognized by the engine (§6).
const (
	EnvStaleLockThresholdHours = "STALE_LOCK_THRESHOLD_HOURS"
	EnvCloudMode               = "LUMENFLOW_CLOUD"

	// EnvAmbientCloudSignal is the opt-in env-signal internal/cloudmode
	// consults when a config has CloudSignalOptIn set — present in most
	// hosted CI/sandbox runners, absent on a developer's own machine.
	EnvAmbientCloudSignal = "CI"
)
