// Package spawn implements the delegated-work registry (§3.1 SpawnRecord,
// §4.E "Delegated-work registry"): an append-only store of parent→target
// spawn intents and their pickup times, queryable in O(1) by parent and by
// target — the same event-sourced shape as internal/store, specialized to
// a narrower record type.
package spawn

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
)

// Record is one spawn intent: a parent WU delegating work to a target WU.
type Record struct {
	ParentWUID string     `json:"parent_wu_id"`
	TargetWUID string     `json:"target_wu_id"`
	CreatedAt  time.Time  `json:"created_at"`
	PickedUpAt *time.Time `json:"picked_up_at,omitempty"`
}

// Registry owns the append-only spawn log and its in-memory indices.
type Registry struct {
	mu       sync.RWMutex
	path     string
	records  []Record
	byParent map[string][]int // indices into records
	byTarget map[string][]int
}

// New constructs a Registry bound to the spawn log at path. Load must be
// called before querying.
func New(path string) *Registry {
	return &Registry{path: path, byParent: map[string][]int{}, byTarget: map[string][]int{}}
}

// Load scans the log and rebuilds every index from scratch.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.records = nil
			r.byParent = map[string][]int{}
			r.byTarget = map[string][]int{}
			r.mu.Unlock()
			return nil
		}
		return errs.Wrap(errs.KindIO, "read spawn registry", err)
	}

	var records []Record
	for i, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return errs.Wrap(errs.KindIO, fmt.Sprintf("parse spawn registry line %d", i+1), err)
		}
		records = append(records, rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
	r.byParent = map[string][]int{}
	r.byTarget = map[string][]int{}
	for i, rec := range records {
		r.byParent[rec.ParentWUID] = append(r.byParent[rec.ParentWUID], i)
		r.byTarget[rec.TargetWUID] = append(r.byTarget[rec.TargetWUID], i)
	}
	return nil
}

// splitLines splits on '\n', dropping a truncated trailing line the same
// way the event log tolerates crash-mid-append (§4.B "Crash semantics").
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	return lines
}

// Record appends a new spawn intent.
func (r *Registry) Record(parentWUID, targetWUID string) error {
	rec := Record{ParentWUID: parentWUID, TargetWUID: targetWUID, CreatedAt: time.Now().UTC()}
	if err := r.append(rec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.records)
	r.records = append(r.records, rec)
	r.byParent[parentWUID] = append(r.byParent[parentWUID], idx)
	r.byTarget[targetWUID] = append(r.byTarget[targetWUID], idx)
	return nil
}

// MarkPickedUp records that targetWUID's spawned work has been picked up.
func (r *Registry) MarkPickedUp(targetWUID string) error {
	now := time.Now().UTC()
	r.mu.Lock()
	idxs := r.byTarget[targetWUID]
	var last Record
	if len(idxs) > 0 {
		last = r.records[idxs[len(idxs)-1]]
	}
	r.mu.Unlock()
	if len(idxs) == 0 {
		return errs.New(errs.KindValidation, "no spawn record for target").WithContext("target_wu_id", targetWUID)
	}
	last.PickedUpAt = &now
	if err := r.append(last); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.records)
	r.records = append(r.records, last)
	r.byParent[last.ParentWUID] = append(r.byParent[last.ParentWUID], idx)
	r.byTarget[last.TargetWUID] = append(r.byTarget[last.TargetWUID], idx)
	return nil
}

func (r *Registry) append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.KindIO, "marshal spawn record", err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindIO, "open spawn registry", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errs.Wrap(errs.KindIO, "append spawn record", err)
	}
	return f.Sync()
}

// ByParent returns every spawn record for parentWUID, most recent last.
func (r *Registry) ByParent(parentWUID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byParent[parentWUID])
}

// ByTarget returns every spawn record for targetWUID, most recent last.
func (r *Registry) ByTarget(targetWUID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byTarget[targetWUID])
}

func (r *Registry) collect(idxs []int) []Record {
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.records[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
