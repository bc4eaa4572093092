// Package lock implements the file-based Lock Manager (§4.A): mutual
// exclusion between cooperating processes using the filesystem as the
// arbitration medium, with stale and zombie lease reclaim.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:lock")

// Policy governs whether lane locks are taken at all (§4.A).
type Policy string

const (
	PolicyAll    Policy = "all"
	PolicyActive Policy = "active"
	PolicyNone   Policy = "none"
)

// Record is the on-disk lock file content (§6 wire format).
type Record struct {
	WUID         string `json:"wu_id"`
	LockID       string `json:"lock_id"`
	CreatedAt    time.Time `json:"created_at"`
	PID          int    `json:"pid"`
	Lane         string `json:"lane,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`
}

// Options configures a single acquire/release/peek call.
type Options struct {
	WaitBudget     time.Duration
	BaseDir        string // overrides Manager.dir for this call, if non-empty
	PolicyOverride Policy
	// StaleThreshold overrides the age past which a lease is reclaimed as
	// stale. Resolved once from config.Config by the caller and passed in
	// explicitly, per §9's "shared mutable modules → explicit context"
	// redesign note — there is no package-level mutable threshold here.
	StaleThreshold time.Duration
	// Watcher, when set, lets Acquire wake on a lock-directory filesystem
	// event instead of sleeping the full pollInterval while contested.
	// Optional; Acquire falls back to plain polling when nil.
	Watcher *Watcher
}

// AcquireResult is the outcome of a call to Acquire.
type AcquireResult struct {
	Acquired bool
	LockID   string
	HeldBy   string // wu_id of the current holder, set when Acquired is false
	Skipped  bool
	Reason   string // "stale" | "zombie" | "lock_policy=none" | "lock_policy!=active" (lanepolicy) | "" (fresh acquire)
}

// Manager coordinates lock files under a single root directory, kept
// outside any git worktree so lock files can never pollute a branch (§4.A).
type Manager struct {
	mu  sync.Mutex
	dir string
}

// NewManager constructs a Manager rooted at dir. The directory is created
// lazily on first acquire.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) resolveDir(opts Options) string {
	if opts.BaseDir != "" {
		return opts.BaseDir
	}
	return m.dir
}

func (m *Manager) pathFor(dir, resource string) string {
	return filepath.Join(dir, resource+".lock")
}

// Acquire attempts to take the lease for resource on behalf of wuID.
//
// A lease reclaimed as stale/zombie on the first attempt is retried at
// once, without waiting, per §9's "replace recursion with a bounded loop"
// redesign note; a live, contested lease is re-tried every pollInterval
// until the wait budget elapses.
func (m *Manager) Acquire(resource, wuID string, opts Options) (AcquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.PolicyOverride == PolicyNone {
		return AcquireResult{Skipped: true, Reason: "lock_policy=none"}, nil
	}

	dir := m.resolveDir(opts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AcquireResult{}, errs.Wrap(errs.KindIO, "create lock dir", err)
	}
	path := m.pathFor(dir, resource)

	deadline := time.Now().Add(waitBudget(opts))
	var reclaimReason string
	for attempt := 0; ; attempt++ {
		result, tryErr := m.tryCreate(path, resource, wuID, opts.StaleThreshold)
		if tryErr == nil {
			if result.Acquired && reclaimReason != "" {
				result.Reason = reclaimReason
			}
			return result, nil
		}

		var busy *busyError
		if !errors.As(tryErr, &busy) {
			return AcquireResult{}, tryErr
		}

		// A stale/zombie lease was already reclaimed by tryCreate; it
		// returns busyError only for a live, contested lease. Retry once
		// more only if reclaim happened, signalled by busy.reclaimed.
		if busy.reclaimed && attempt == 0 {
			reclaimReason = busy.reason
			continue
		}

		if time.Now().After(deadline) {
			return AcquireResult{Acquired: false, HeldBy: busy.heldBy}, nil
		}
		if opts.Watcher != nil {
			opts.Watcher.WaitForChange(pollInterval)
		} else {
			time.Sleep(pollInterval)
		}
	}
}

const pollInterval = 20 * time.Millisecond

func waitBudget(opts Options) time.Duration {
	if opts.WaitBudget > 0 {
		return opts.WaitBudget
	}
	return 1 * time.Second
}

type busyError struct {
	heldBy    string
	reclaimed bool
	reason    string
}

func (b *busyError) Error() string { return "lock busy" }

// tryCreate performs one exclusive-create attempt, handling EEXIST by
// inspecting the existing record for same-owner idempotence and
// stale/zombie reclaim (§4.A algorithm).
func (m *Manager) tryCreate(path, resource, wuID string, staleThreshold time.Duration) (AcquireResult, error) {
	rec := Record{
		WUID:      wuID,
		LockID:    uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		PID:       os.Getpid(),
		Lane:      resource,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return AcquireResult{}, errs.Wrap(errs.KindIO, "marshal lock record", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		if _, werr := f.Write(data); werr != nil {
			return AcquireResult{}, errs.Wrap(errs.KindIO, "write lock file", werr)
		}
		return AcquireResult{Acquired: true, LockID: rec.LockID}, nil
	}
	if !os.IsExist(err) {
		// Errors other than EEXIST fail open only for stale reclaim (§4.A);
		// the primary acquire attempt itself fails closed as Busy{io}.
		return AcquireResult{Acquired: false, HeldBy: ""}, nil
	}

	existing, readErr := readRecord(path)
	if readErr != nil {
		// Invalid JSON is treated as stale and reclaimed (§8 boundary behavior).
		log.Printf("lock file %s unreadable (%v), reclaiming as stale", path, readErr)
		return m.reclaimAndRetry(path, "stale")
	}

	if existing.WUID == wuID {
		return AcquireResult{Acquired: true, LockID: existing.LockID}, nil
	}

	if reason, stale := staleness(existing, staleThreshold); stale {
		return m.reclaimAndRetry(path, reason)
	}

	return AcquireResult{}, &busyError{heldBy: existing.WUID}
}

func (m *Manager) reclaimAndRetry(path, reason string) (AcquireResult, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return AcquireResult{}, errs.Wrap(errs.KindIO, "remove stale lock", err)
	}
	log.Printf("reclaimed lock %s (reason=%s)", path, reason)
	return AcquireResult{}, &busyError{reclaimed: true, reason: reason}
}

// staleness reports whether existing should be reclaimed, and the distinct
// reason ("stale" by age, "zombie" by dead PID). threshold of zero falls
// back to the spec default of two hours.
func staleness(existing Record, threshold time.Duration) (string, bool) {
	if threshold <= 0 {
		threshold = 2 * time.Hour
	}
	if time.Since(existing.CreatedAt) > threshold {
		return "stale", true
	}
	if existing.PID > 0 && !pidAlive(existing.PID) {
		return "zombie", true
	}
	return "", false
}

// pidAlive performs a permission-less signal(pid, 0) probe.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM means the process exists but we can't signal it: still alive.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPERM
	}
	return false
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ReleaseResult is the outcome of a call to Release.
type ReleaseResult struct {
	Released bool
	NotHeld  bool
	Denied   bool
	HeldBy   string
}

// Release removes resource's lock file if and only if lockID matches the
// current holder (ownership verified by lock_id match, §3.2).
func (m *Manager) Release(resource, lockID string, opts Options) (ReleaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.resolveDir(opts)
	path := m.pathFor(dir, resource)

	existing, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReleaseResult{NotHeld: true}, nil
		}
		return ReleaseResult{}, errs.Wrap(errs.KindIO, "read lock file", err)
	}

	if existing.LockID != lockID {
		return ReleaseResult{Denied: true, HeldBy: existing.WUID}, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ReleaseResult{}, errs.Wrap(errs.KindIO, "remove lock file", err)
	}
	return ReleaseResult{Released: true}, nil
}

// PeekResult reports a resource's lease state without mutating it.
type PeekResult struct {
	Held     bool
	HeldBy   string
	Since    time.Time
	PID      int
	IsStale  bool
	IsZombie bool
}

// Peek inspects resource's lock state without acquiring or releasing it.
func (m *Manager) Peek(resource string, opts Options) (PeekResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.resolveDir(opts)
	path := m.pathFor(dir, resource)

	existing, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PeekResult{Held: false}, nil
		}
		// An unreadable lock file behaves like a stale record for Peek too.
		return PeekResult{Held: true, IsStale: true}, nil
	}

	reason, stale := staleness(existing, opts.StaleThreshold)
	return PeekResult{
		Held:     true,
		HeldBy:   existing.WUID,
		Since:    existing.CreatedAt,
		PID:      existing.PID,
		IsStale:  stale && reason == "stale",
		IsZombie: stale && reason == "zombie",
	}, nil
}

// LockEntry pairs a resource name with its current lease state, for
// sweeps that need to inspect every lock file rather than one by name.
type LockEntry struct {
	Resource string
	PeekResult
}

// All inspects every lock file under the Manager's root (or opts.BaseDir)
// without acquiring or releasing any of them, for use by read-only sweeps
// such as state:doctor.
func (m *Manager) All(opts Options) ([]LockEntry, error) {
	m.mu.Lock()
	dir := m.resolveDir(opts)
	m.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(dir, "*.lock"))
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "glob lock dir", err)
	}

	out := make([]LockEntry, 0, len(matches))
	for _, path := range matches {
		resource := strings.TrimSuffix(filepath.Base(path), ".lock")
		peek, err := m.Peek(resource, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, LockEntry{Resource: resource, PeekResult: peek})
	}
	return out, nil
}

// AuditedRelease force-breaks a lease, requiring a non-empty reason and
// refusing to break an active (non-stale, non-zombie) lease unless
// force is true (§4.A).
func (m *Manager) AuditedRelease(resource, reason string, force bool, opts Options) (ReleaseResult, error) {
	if reason == "" {
		return ReleaseResult{}, errs.New(errs.KindValidation, "audited_release requires a non-empty reason")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.resolveDir(opts)
	path := m.pathFor(dir, resource)

	existing, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReleaseResult{NotHeld: true}, nil
		}
		return ReleaseResult{}, errs.Wrap(errs.KindIO, "read lock file", err)
	}

	_, stale := staleness(existing, opts.StaleThreshold)
	if !stale && !force {
		return ReleaseResult{Denied: true, HeldBy: existing.WUID}, fmt.Errorf(
			"lock held by %s is active; pass force=true to break it (reason=%s)", existing.WUID, reason)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ReleaseResult{}, errs.Wrap(errs.KindIO, "remove lock file", err)
	}
	log.Printf("audited release of %s: reason=%q force=%v", path, reason, force)
	return ReleaseResult{Released: true}, nil
}
