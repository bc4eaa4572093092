// Package store implements the append-only Event Store (§4.B): the sole
// ground truth for a WorkUnit's lifecycle, with an in-memory projection
// rebuilt by replaying the log so queries after Load are O(1).
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/events"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:store")

// WuState is the derived, in-memory-only projection of a WorkUnit's latest
// terminal-per-field view (§3.1). It is never persisted; it is always
// reconstructible by replaying Events.
type WuState struct {
	WUID         string
	Status       string
	Title        string
	Lane         string
	CompletedAt  *time.Time
	ClaimedMode  string // inline | worktree | micro_worktree
	WorktreePath string
}

// Store owns the append-only log and its in-memory projections.
type Store struct {
	mu       sync.RWMutex
	path     string
	loaded   bool
	states   map[string]*WuState
	byStatus map[string]map[string]struct{}
	byLane   map[string]map[string]struct{}
}

// New constructs a Store bound to the event log at path. Load must be
// called before querying.
func New(path string) *Store {
	return &Store{
		path:     path,
		states:   make(map[string]*WuState),
		byStatus: make(map[string]map[string]struct{}),
		byLane:   make(map[string]map[string]struct{}),
	}
}

// Load scans the log and rebuilds every projection from scratch. Safe to
// call repeatedly (e.g. after another process appends).
func (s *Store) Load() error {
	evs, err := events.ReadAllFile(s.path)
	if err != nil {
		return fmt.Errorf("store: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states = make(map[string]*WuState)
	s.byStatus = make(map[string]map[string]struct{})
	s.byLane = make(map[string]map[string]struct{})

	for _, e := range evs {
		// Replay applies events without re-validating transitions: the log
		// is authoritative (§4.B "State projection rules").
		s.applyLocked(e)
	}
	s.loaded = true
	log.Printf("loaded %d states from %d events", len(s.states), len(evs))
	return nil
}

// Append validates e against the event schema, appends it to the log, and
// applies it to the in-memory projection so the caller observes its own
// write immediately without a reload.
func (s *Store) Append(e events.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	if err := events.Append(s.path, e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(e)
	s.loaded = true
	return nil
}

// GetState returns the current projection for wuID, if any.
func (s *Store) GetState(wuID string) (WuState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[wuID]
	if !ok {
		return WuState{}, false
	}
	return *st, true
}

// GetByStatus returns the wu_ids currently in status, sorted for
// deterministic output.
func (s *Store) GetByStatus(status string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byStatus[status]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetByLane returns the wu_ids currently assigned to lane, sorted.
func (s *Store) GetByLane(lane string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byLane[lane]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// All returns every projected WuState, sorted by wu_id.
func (s *Store) All() []WuState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WuState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WUID < out[j].WUID })
	return out
}

// CheckpointOpts carries the optional fields of a checkpoint event.
type CheckpointOpts struct {
	Session   string
	Progress  string
	NextSteps string
}

// Checkpoint emits a cheap checkpoint event. It never mutates the WU's
// status projection (§4.B).
func (s *Store) Checkpoint(wuID, note string, opts CheckpointOpts, actorID *string) error {
	details := map[string]any{"note": note}
	if opts.Session != "" {
		details["session"] = opts.Session
	}
	if opts.Progress != "" {
		details["progress"] = opts.Progress
	}
	if opts.NextSteps != "" {
		details["next_steps"] = opts.NextSteps
	}
	return s.Append(events.Event{
		WUID:      wuID,
		Kind:      events.KindCheckpoint,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
		Details:   details,
	})
}

// applyLocked updates every projection for a single event. Last-write-wins
// for scalar fields; called both during replay (Load) and live (Append),
// so must never itself validate — the caller decides whether validation
// applies.
func (s *Store) applyLocked(e events.Event) {
	st, exists := s.states[e.WUID]
	if !exists {
		st = &WuState{WUID: e.WUID}
		s.states[e.WUID] = st
	}
	prevStatus := st.Status
	prevLane := st.Lane

	switch e.Kind {
	case events.KindCreated:
		st.Status = "ready"
		if v, ok := stringDetail(e.Details, "title"); ok {
			st.Title = v
		}
		if v, ok := stringDetail(e.Details, "lane"); ok {
			st.Lane = v
		}
	case events.KindClaimed:
		st.Status = "in_progress"
		if v, ok := stringDetail(e.Details, "claimed_mode"); ok {
			st.ClaimedMode = v
		} else {
			st.ClaimedMode = "inline"
		}
		if v, ok := stringDetail(e.Details, "worktree_path"); ok {
			st.WorktreePath = v
		}
	case events.KindEdited:
		if v, ok := stringDetail(e.Details, "title"); ok {
			st.Title = v
		}
		if v, ok := stringDetail(e.Details, "lane"); ok {
			st.Lane = v
		}
	case events.KindCompleted:
		st.Status = "done"
		ts := e.Timestamp
		st.CompletedAt = &ts
	case events.KindBlocked:
		st.Status = "blocked"
	case events.KindUnblocked:
		st.Status = "in_progress"
	case events.KindReleased:
		st.Status = "released"
	case events.KindCheckpoint, events.KindRecovered:
		// No status mutation; these are informational per §4.B / §4.C.
	}

	s.reindexLocked(e.WUID, prevStatus, st.Status, prevLane, st.Lane)
}

func (s *Store) reindexLocked(wuID, prevStatus, status, prevLane, lane string) {
	if prevStatus != status {
		if prevStatus != "" {
			removeFromSet(s.byStatus, prevStatus, wuID)
		}
		addToSet(s.byStatus, status, wuID)
	} else if status != "" {
		addToSet(s.byStatus, status, wuID)
	}

	if prevLane != lane {
		if prevLane != "" {
			removeFromSet(s.byLane, prevLane, wuID)
		}
		if lane != "" {
			addToSet(s.byLane, lane, wuID)
		}
	} else if lane != "" {
		addToSet(s.byLane, lane, wuID)
	}
}

func addToSet(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFromSet(index map[string]map[string]struct{}, key, value string) {
	if set, ok := index[key]; ok {
		delete(set, value)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func stringDetail(details map[string]any, key string) (string, bool) {
	if details == nil {
		return "", false
	}
	v, ok := details[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
