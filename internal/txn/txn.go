// Package txn implements the Transaction/Snapshot component (§4.D): a
// multi-file metadata mutation batch that either lands entirely or is
// rolled back entirely, with post-mutation invariant checks before a
// commit is declared successful.
package txn

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:txn")

// pendingWrite is one queued file mutation.
type pendingWrite struct {
	path        string
	bytes       []byte
	description string
}

// Snapshot remembers the pre-transaction bytes of a set of paths, or their
// absence, so a later rollback can restore exact prior state (§3.1
// Transaction entity, §4.D "snapshot(paths)").
type Snapshot struct {
	original map[string][]byte // pre-transaction bytes of every path that existed
	absent   map[string]bool   // paths that did not exist at snapshot time
}

// TakeSnapshot captures the current bytes (or absence) of every path.
func TakeSnapshot(paths []string) (Snapshot, error) {
	snap := Snapshot{original: map[string][]byte{}, absent: map[string]bool{}}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				snap.absent[p] = true
				continue
			}
			return Snapshot{}, errs.Wrap(errs.KindIO, "snapshot read", err).WithContext("path", p)
		}
		snap.original[p] = data
	}
	return snap, nil
}

// Restore writes back every path's pre-transaction bytes, or removes paths
// that did not previously exist. Used both for an aborted commit and for
// explicit post-stage rollback after a later pipeline failure (§4.D
// "restore_from_snapshot").
func Restore(snap Snapshot) error {
	var firstErr error
	for p, data := range snap.original {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil && firstErr == nil {
			firstErr = errs.Wrap(errs.KindRollback, "restore mkdir", err).WithContext("path", p)
			continue
		}
		if err := os.WriteFile(p, data, 0o644); err != nil && firstErr == nil {
			firstErr = errs.Wrap(errs.KindRollback, "restore write", err).WithContext("path", p)
		}
	}
	for p := range snap.absent {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errs.Wrap(errs.KindRollback, "restore remove", err).WithContext("path", p)
		}
	}
	if firstErr != nil {
		log.Printf("restore_from_snapshot encountered an error: %v", firstErr)
	}
	return firstErr
}

// Validator is a semantic precondition check run before commit (§4.D
// "transaction.validate()") — e.g. WU schema valid, backlog well-formed,
// stamp name matches WU.
type Validator func() error

// PostCheck is a post-mutation invariant check run after all writes land,
// before the commit is declared successful (§4.D "Post-mutation
// invariants").
type PostCheck func() error

// Transaction batches pending writes for a single WU under one snapshot.
type Transaction struct {
	mu         sync.Mutex
	wuID       string
	pending    []pendingWrite
	snapshot   Snapshot
	validators []Validator
	postChecks []PostCheck
	committed  bool
}

// New constructs a Transaction for wuID over snap, the snapshot taken of
// every path this transaction intends to touch.
func New(wuID string, snap Snapshot) *Transaction {
	return &Transaction{wuID: wuID, snapshot: snap}
}

// Stage queues a pending write; nothing is written to disk until Commit.
func (t *Transaction) Stage(path string, bytes []byte, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, pendingWrite{path: path, bytes: bytes, description: description})
}

// AddValidator registers a semantic precondition checked by Validate.
func (t *Transaction) AddValidator(v Validator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.validators = append(t.validators, v)
}

// AddPostCheck registers a post-mutation invariant checked after Commit's
// writes land, before Commit reports success.
func (t *Transaction) AddPostCheck(c PostCheck) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postChecks = append(t.postChecks, c)
}

// Validate runs every registered validator, collecting every failure
// rather than stopping at the first (§4.D "validate() → Ok | Errors").
func (t *Transaction) Validate() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errsOut []error
	for _, v := range t.validators {
		if err := v(); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}

// Result is the outcome of Commit.
type Result struct {
	OK     bool
	Failed []string
}

// Commit writes every pending mutation. On partial failure it restores the
// snapshot and reports the paths that failed; it never leaves a mix of old
// and new bytes on disk (§4.D "commit() → {ok, failed[]}").
func (t *Transaction) Commit() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.committed {
		return Result{}, errs.New(errs.KindTransaction, "transaction already committed").WithContext("wu_id", t.wuID)
	}

	var failed []string
	for _, pw := range t.pending {
		if err := os.MkdirAll(filepath.Dir(pw.path), 0o755); err != nil {
			failed = append(failed, pw.path)
			continue
		}
		if err := os.WriteFile(pw.path, pw.bytes, 0o644); err != nil {
			failed = append(failed, pw.path)
		}
	}

	if len(failed) > 0 {
		log.Printf("transaction for %s: %d write(s) failed, restoring snapshot", t.wuID, len(failed))
		if rerr := Restore(t.snapshot); rerr != nil {
			return Result{OK: false, Failed: failed}, errs.Wrap(errs.KindTransaction, "commit failed and rollback also failed", rerr).
				WithContext("wu_id", t.wuID).WithContext("failed_paths", failed)
		}
		return Result{OK: false, Failed: failed}, errs.New(errs.KindTransaction, "one or more staged writes failed").
			WithContext("wu_id", t.wuID).WithContext("failed_paths", failed)
	}

	for _, check := range t.postChecks {
		if err := check(); err != nil {
			log.Printf("transaction for %s: post-mutation invariant failed, restoring snapshot", t.wuID)
			if rerr := Restore(t.snapshot); rerr != nil {
				return Result{OK: false}, errs.Wrap(errs.KindTransaction, "post-check failed and rollback also failed", rerr).
					WithContext("wu_id", t.wuID)
			}
			return Result{OK: false}, errs.Wrap(errs.KindTransaction, "post-mutation invariant failed", err).
				WithContext("wu_id", t.wuID)
		}
	}

	t.committed = true
	return Result{OK: true}, nil
}

// Snapshot exposes the transaction's snapshot for explicit rollback by a
// later pipeline stage (§4.D "restore_from_snapshot(snap)").
func (t *Transaction) Snapshot() Snapshot {
	return t.snapshot
}
