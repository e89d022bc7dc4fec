package stores

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

const syncStateVersion = 1

// SyncScopeState tracks one scope's acknowledged baseline against the last observed live count.
type SyncScopeState struct {
	Scope               Scope      `json:"scope"`
	BaselineCount       int        `json:"baselineCount"`
	LiveCount           int        `json:"liveCount"`
	PendingNewCount     int        `json:"pendingNewCount"`
	PendingDeletedCount int        `json:"pendingDeletedCount"`
	IsPending           bool       `json:"isPending"`
	IsMinimized         bool       `json:"isMinimized"`
	IsRefreshing        bool       `json:"isRefreshing"`
	LastDetectedAt      *time.Time `json:"lastDetectedAt"`
	LastAckedAt         *time.Time `json:"lastAckedAt"`
}

type syncState struct {
	Entries map[string]SyncScopeState `json:"entries"`
}

// UpsertInput is a metadata observation. A zero DetectedAt means now.
type UpsertInput struct {
	Key           string
	Scope         Scope
	LiveCount     int
	BaselineCount *int
	DetectedAt    time.Time
}

// AcknowledgeInput accepts a baseline. A nil BaselineCount acknowledges the live count.
type AcknowledgeInput struct {
	Key           string
	BaselineCount *int
	AckedAt       time.Time
}

// SyncStateStore persists per-scope sync entries keyed by [BuildSyncKey].
type SyncStateStore struct {
	p     *persisted[syncState]
	clock shared.Clock
}

func NewSyncStateStore(s storage.Storage, clock shared.Clock, logger *log.Logger) *SyncStateStore {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &SyncStateStore{
		clock: clock,
		p: newPersisted(s, logger, persistOptions[syncState]{
			key:      shared.SyncStorageKey,
			version:  syncStateVersion,
			sanitize: sanitizeSyncState,
			prepare:  prepareSyncState,
		}),
	}
}

// deltas derives the pending counts for live against baseline.
func deltas(live, baseline int) (newCount, deletedCount int, pending bool) {
	newCount = max(0, live-baseline)
	deletedCount = max(0, baseline-live)
	return newCount, deletedCount, newCount > 0 || deletedCount > 0
}

// normalizeEntry restores the count invariants. A refresh never survives a reload,
// and a minimized flag without anything pending is stale.
func normalizeEntry(e SyncScopeState) SyncScopeState {
	e.PendingNewCount, e.PendingDeletedCount, e.IsPending = deltas(e.LiveCount, e.BaselineCount)
	e.IsRefreshing = false
	if !e.IsPending {
		e.IsMinimized = false
	}
	return e
}

func prepareSyncState(st syncState) syncState {
	out := syncState{Entries: make(map[string]SyncScopeState, len(st.Entries))}
	for k, e := range st.Entries {
		out.Entries[k] = normalizeEntry(e)
	}
	return out
}

func sanitizeSyncState(raw json.RawMessage, _ int) syncState {
	st := syncState{Entries: map[string]SyncScopeState{}}
	for key, rawEntry := range fields(fields(raw)["entries"]) {
		scope, _, ok := ParseSyncKey(key)
		if !ok {
			continue
		}
		m := fields(rawEntry)
		if len(m) == 0 {
			continue
		}
		live, _ := intField(m, "liveCount")
		baseline, ok := intField(m, "baselineCount")
		if !ok {
			baseline = live
		}
		minimized, _ := boolField(m, "isMinimized")
		st.Entries[key] = normalizeEntry(SyncScopeState{
			Scope:          scope,
			BaselineCount:  baseline,
			LiveCount:      live,
			IsMinimized:    minimized,
			LastDetectedAt: timeField(m, "lastDetectedAt"),
			LastAckedAt:    timeField(m, "lastAckedAt"),
		})
	}
	return st
}

// timeField accepts RFC 3339 strings and epoch milliseconds.
func timeField(m map[string]json.RawMessage, name string) *time.Time {
	if s, ok := stringField(m, name); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &t
	}
	if ms, ok := intField(m, name); ok {
		t := time.UnixMilli(int64(ms))
		return &t
	}
	return nil
}

func (s *SyncStateStore) now(t time.Time) time.Time {
	if t.IsZero() {
		return s.clock.Now()
	}
	return t
}

// Entry returns the entry for key.
func (s *SyncStateStore) Entry(key string) (SyncScopeState, bool) {
	e, ok := s.p.get().Entries[key]
	return e, ok
}

// Entries returns a copy of every entry.
func (s *SyncStateStore) Entries() map[string]SyncScopeState {
	return maps.Clone(s.p.get().Entries)
}

// withEntry returns st with key set to e, leaving st itself untouched.
func withEntry(st syncState, key string, e SyncScopeState) syncState {
	entries := maps.Clone(st.Entries)
	if entries == nil {
		entries = map[string]SyncScopeState{}
	}
	entries[key] = e
	return syncState{Entries: entries}
}

// UpsertFromMetadata records a live count. A new entry starts from the supplied baseline, or the live count.
// An existing entry keeps its baseline; if its pending counts changed while minimized, it is reopened.
// It reports whether anything changed.
func (s *SyncStateStore) UpsertFromMetadata(in UpsertInput) bool {
	now := s.now(in.DetectedAt)
	return s.p.update(func(st syncState) (syncState, bool) {
		existing, ok := st.Entries[in.Key]
		if !ok {
			baseline := in.LiveCount
			if in.BaselineCount != nil {
				baseline = *in.BaselineCount
			}
			newCount, deletedCount, pending := deltas(in.LiveCount, baseline)
			e := SyncScopeState{
				Scope:               in.Scope,
				BaselineCount:       baseline,
				LiveCount:           in.LiveCount,
				PendingNewCount:     newCount,
				PendingDeletedCount: deletedCount,
				IsPending:           pending,
				LastAckedAt:         &now,
			}
			if pending {
				e.LastDetectedAt = &now
			}
			return withEntry(st, in.Key, e), true
		}

		newCount, deletedCount, pending := deltas(in.LiveCount, existing.BaselineCount)
		pendingChanged := newCount != existing.PendingNewCount || deletedCount != existing.PendingDeletedCount
		minimized := existing.IsMinimized
		if pending && existing.IsMinimized && pendingChanged {
			minimized = false
		}
		detectedAt := existing.LastDetectedAt
		if pending && pendingChanged {
			detectedAt = &now
		}

		if existing.LiveCount == in.LiveCount &&
			existing.PendingNewCount == newCount &&
			existing.PendingDeletedCount == deletedCount &&
			existing.IsPending == pending &&
			existing.IsMinimized == minimized &&
			detectedAt == existing.LastDetectedAt {
			return st, false
		}

		next := existing
		next.Scope = in.Scope
		next.LiveCount = in.LiveCount
		next.PendingNewCount = newCount
		next.PendingDeletedCount = deletedCount
		next.IsPending = pending
		next.IsMinimized = minimized
		next.LastDetectedAt = detectedAt
		return withEntry(st, in.Key, next), true
	})
}

// SetMinimized is a no-op for unknown keys.
func (s *SyncStateStore) SetMinimized(key string, minimized bool) {
	s.p.update(func(st syncState) (syncState, bool) {
		e, ok := st.Entries[key]
		if !ok || e.IsMinimized == minimized {
			return st, false
		}
		e.IsMinimized = minimized
		return withEntry(st, key, e), true
	})
}

// SetRefreshing is a no-op for unknown keys.
func (s *SyncStateStore) SetRefreshing(key string, refreshing bool) {
	s.p.update(func(st syncState) (syncState, bool) {
		e, ok := st.Entries[key]
		if !ok || e.IsRefreshing == refreshing {
			return st, false
		}
		e.IsRefreshing = refreshing
		return withEntry(st, key, e), true
	})
}

// AcknowledgeBaseline moves the baseline and clears the refresh flag. A minimized entry that is
// still pending stays minimized.
func (s *SyncStateStore) AcknowledgeBaseline(in AcknowledgeInput) {
	ackedAt := s.now(in.AckedAt)
	s.p.update(func(st syncState) (syncState, bool) {
		e, ok := st.Entries[in.Key]
		if !ok {
			return st, false
		}
		baseline := e.LiveCount
		if in.BaselineCount != nil {
			baseline = *in.BaselineCount
		}
		e.BaselineCount = baseline
		e.PendingNewCount, e.PendingDeletedCount, e.IsPending = deltas(e.LiveCount, baseline)
		if !e.IsPending {
			e.IsMinimized = false
		}
		e.IsRefreshing = false
		e.LastAckedAt = &ackedAt
		return withEntry(st, in.Key, e), true
	})
}

func (s *SyncStateStore) ClearScope(key string) {
	s.p.update(func(st syncState) (syncState, bool) {
		if _, ok := st.Entries[key]; !ok {
			return st, false
		}
		entries := maps.Clone(st.Entries)
		delete(entries, key)
		return syncState{Entries: entries}, true
	})
}

func (s *SyncStateStore) ClearAll() {
	s.p.update(func(st syncState) (syncState, bool) {
		return syncState{Entries: map[string]SyncScopeState{}}, len(st.Entries) > 0
	})
}

// Subscribe registers fn for every change. fn receives a copy of all entries.
func (s *SyncStateStore) Subscribe(fn func(map[string]SyncScopeState)) func() {
	return s.p.subscribe(func(st syncState) { fn(maps.Clone(st.Entries)) })
}

func (s *SyncStateStore) Close() { s.p.close() }
