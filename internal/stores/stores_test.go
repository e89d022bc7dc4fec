package stores

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
	tu "github.com/desertthunder/vinyldeck/internal/testing"
)

// countingStorage counts writes made through it.
type countingStorage struct {
	*storage.Memory
	sets int
}

func (c *countingStorage) Set(key string, value []byte) error {
	c.sets++
	return c.Memory.Set(key, value)
}

func newStores(s storage.Storage) (*AuthStore, *PreferencesStore, *ProfileStore) {
	prefs := NewPreferencesStore(s, nil)
	profile := NewProfileStore(s, nil)
	return NewAuthStore(s, prefs, profile, nil), prefs, profile
}

func TestAuthStore(t *testing.T) {
	tokens := &models.AuthTokens{AccessToken: "a", AccessTokenSecret: "b"}

	t.Run("defaults", func(t *testing.T) {
		auth, _, _ := newStores(storage.NewMemory())
		if auth.Tokens() != nil || auth.SessionActive() {
			t.Errorf("expected empty auth state, got %+v", auth.Snapshot())
		}
	})

	t.Run("session requires tokens", func(t *testing.T) {
		auth, _, _ := newStores(storage.NewMemory())
		auth.SetSessionActive(true)
		if auth.SessionActive() {
			t.Error("expected session to stay inactive without tokens")
		}

		auth.SetTokens(tokens)
		auth.SetSessionActive(true)
		if !auth.SessionActive() {
			t.Error("expected session to be active")
		}
	})

	t.Run("sign out keeps tokens", func(t *testing.T) {
		auth, _, _ := newStores(storage.NewMemory())
		auth.SetTokens(tokens)
		auth.SetSessionActive(true)
		auth.SignOut()

		if auth.SessionActive() {
			t.Error("expected session to end")
		}
		if !auth.Tokens().Equal(tokens) {
			t.Errorf("expected tokens to survive sign out, got %+v", auth.Tokens())
		}
	})

	t.Run("disconnect cascades", func(t *testing.T) {
		auth, prefs, profile := newStores(storage.NewMemory())
		auth.SetTokens(tokens)
		auth.SetSessionActive(true)
		prefs.SetAvatarSource(AvatarGravatar)
		prefs.SetGravatarEmail("me@example.com")
		prefs.SetViewMode(ViewTable)
		profile.SetProfile(models.CachedProfile{ID: 1, Username: "digger"})

		auth.Disconnect()

		if auth.Tokens() != nil || auth.SessionActive() {
			t.Errorf("expected cleared auth, got %+v", auth.Snapshot())
		}
		if profile.Profile() != nil {
			t.Error("expected profile to be cleared")
		}
		p := prefs.Get()
		if p.AvatarSource != AvatarDiscogs || p.GravatarEmail != "" || p.GravatarURL != nil {
			t.Errorf("expected avatar settings reset, got %+v", p)
		}
		if p.ViewMode != ViewTable {
			t.Errorf("expected view mode to survive disconnect, got %s", p.ViewMode)
		}
	})

	t.Run("persists across handles", func(t *testing.T) {
		mem := storage.NewMemory()
		auth, _, _ := newStores(mem)
		auth.SetTokens(tokens)
		auth.SetSessionActive(true)

		reopened, _, _ := newStores(mem)
		snap := reopened.Snapshot()
		if !snap.Tokens.Equal(tokens) || !snap.SessionActive {
			t.Errorf("expected persisted session, got %+v", snap)
		}
	})

	t.Run("returns copies", func(t *testing.T) {
		auth, _, _ := newStores(storage.NewMemory())
		auth.SetTokens(tokens)
		got := auth.Tokens()
		got.AccessToken = "mutated"
		if auth.Tokens().AccessToken != "a" {
			t.Error("expected store state to be unaffected by caller mutation")
		}
	})
}

func TestSanitizeAuth(t *testing.T) {
	tc := []struct {
		name   string
		raw    string
		tokens bool
		active bool
	}{
		{"valid", `{"tokens":{"accessToken":"a","accessTokenSecret":"b"},"sessionActive":true}`, true, true},
		{"active without tokens", `{"tokens":null,"sessionActive":true}`, false, false},
		{"empty secret", `{"tokens":{"accessToken":"a","accessTokenSecret":""},"sessionActive":true}`, false, false},
		{"wrong types", `{"tokens":{"accessToken":1,"accessTokenSecret":"b"},"sessionActive":"yes"}`, false, false},
		{"non-bool session", `{"tokens":{"accessToken":"a","accessTokenSecret":"b"},"sessionActive":"yes"}`, true, false},
		{"not an object", `[1,2]`, false, false},
		{"missing", ``, false, false},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeAuth(json.RawMessage(tt.raw), 1)
			if (got.Tokens != nil) != tt.tokens {
				t.Errorf("expected tokens present=%v, got %+v", tt.tokens, got.Tokens)
			}
			if got.SessionActive != tt.active {
				t.Errorf("expected sessionActive=%v, got %v", tt.active, got.SessionActive)
			}
		})
	}
}

func TestCorruptStorage(t *testing.T) {
	mem := storage.NewMemory()
	mem.Set(shared.AuthStorageKey, []byte("{not json"))
	mem.Set(shared.PreferencesStorageKey, []byte(`{"state":{"viewMode":42,"avatarSource":"gravatar"},"version":1}`))
	mem.Set(shared.SyncStorageKey, []byte(`{"state":{"entries":{"bogus":{},"collection:me":"x"}},"version":1}`))

	auth, prefs, _ := newStores(mem)
	syncStore := NewSyncStateStore(mem, nil, nil)

	if auth.Tokens() != nil {
		t.Error("expected corrupt auth state to load as empty")
	}
	p := prefs.Get()
	if p.ViewMode != ViewGrid || p.AvatarSource != AvatarGravatar {
		t.Errorf("expected field-wise recovery, got %+v", p)
	}
	if n := len(syncStore.Entries()); n != 0 {
		t.Errorf("expected malformed entries to be dropped, got %d", n)
	}
}

func TestPreferencesStore(t *testing.T) {
	t.Run("gravatar url follows email", func(t *testing.T) {
		prefs := NewPreferencesStore(storage.NewMemory(), nil)
		prefs.SetGravatarEmail("  Me@Example.com ")

		p := prefs.Get()
		if p.GravatarURL == nil || *p.GravatarURL != GravatarURL("me@example.com") {
			t.Errorf("expected normalized gravatar url, got %v", p.GravatarURL)
		}

		prefs.SetGravatarEmail("")
		if prefs.Get().GravatarURL != nil {
			t.Error("expected gravatar url to clear with email")
		}
	})

	t.Run("parse", func(t *testing.T) {
		if _, err := ParseViewMode("list"); err == nil {
			t.Error("expected error for unknown view mode")
		}
		if v, err := ParseAvatarSource("gravatar"); err != nil || v != AvatarGravatar {
			t.Errorf("expected gravatar, got %q (%v)", v, err)
		}
	})

	t.Run("unchanged writes are skipped", func(t *testing.T) {
		cs := &countingStorage{Memory: storage.NewMemory()}
		prefs := NewPreferencesStore(cs, nil)
		prefs.SetLastSeenVersion("1.0.0")
		prefs.SetLastSeenVersion("1.0.0")
		if cs.sets != 1 {
			t.Errorf("expected 1 write, got %d", cs.sets)
		}
	})
}

func TestProfileStore(t *testing.T) {
	mem := storage.NewMemory()
	profile := NewProfileStore(mem, nil)
	profile.SetProfile(models.CachedProfile{ID: 7, Username: "digger", Email: "d@example.com"})

	reopened := NewProfileStore(mem, nil)
	got := reopened.Profile()
	if got == nil || got.ID != 7 || got.Email != "d@example.com" {
		t.Fatalf("expected persisted profile, got %+v", got)
	}

	mem.Set(shared.ProfileStorageKey, []byte(`{"state":{"profile":{"id":0,"username":"x"}},"version":1}`))
	if NewProfileStore(mem, nil).Profile() != nil {
		t.Error("expected profile without id to be dropped")
	}
}

func TestExternalChanges(t *testing.T) {
	tokens := &models.AuthTokens{AccessToken: "a", AccessTokenSecret: "b"}

	t.Run("reload from peer", func(t *testing.T) {
		a := storage.NewMemory()
		b := a.Peer()
		authA, _, _ := newStores(a)
		authB, _, _ := newStores(b)

		var seen []AuthSnapshot
		authB.Subscribe(func(s AuthSnapshot) { seen = append(seen, s) })

		authA.SetTokens(tokens)
		if !authB.Tokens().Equal(tokens) {
			t.Errorf("expected peer to observe tokens, got %+v", authB.Tokens())
		}
		if len(seen) != 1 {
			t.Errorf("expected 1 notification, got %d", len(seen))
		}
	})

	t.Run("reload never writes back", func(t *testing.T) {
		cs := &countingStorage{Memory: storage.NewMemory()}
		auth, _, _ := newStores(cs)

		raw := []byte(`{"state":{"tokens":{"accessToken":"x","accessTokenSecret":"y"},"sessionActive":true},"version":1}`)
		cs.SimulateExternal(shared.AuthStorageKey, raw)
		cs.SimulateExternal(shared.AuthStorageKey, nil)

		if cs.sets != 0 {
			t.Errorf("expected no writes, got %d", cs.sets)
		}
		if auth.Tokens() != nil {
			t.Error("expected removal to clear tokens")
		}
	})
}

func TestSyncKeys(t *testing.T) {
	t.Run("build", func(t *testing.T) {
		key, ok := BuildSyncKey(ScopeCollection, "  DiggerJoe ")
		if !ok || key != "collection:diggerjoe" {
			t.Errorf("expected collection:diggerjoe, got %q", key)
		}
		if _, ok := BuildSyncKey(ScopeCollection, "   "); ok {
			t.Error("expected blank identity to be rejected")
		}
	})

	tc := []struct {
		key      string
		ok       bool
		identity string
	}{
		{"collection:me", true, "me"},
		{"collection:ME", true, "me"},
		{"wantlist:me", false, ""},
		{"collection:", false, ""},
		{":me", false, ""},
		{"collection:a:b", false, ""},
		{"collection", false, ""},
		{"collection: ", false, ""},
	}
	for _, tt := range tc {
		t.Run(tt.key, func(t *testing.T) {
			scope, identity, ok := ParseSyncKey(tt.key)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && (scope != ScopeCollection || identity != tt.identity) {
				t.Errorf("expected collection/%s, got %s/%s", tt.identity, scope, identity)
			}
		})
	}
}

func newSyncStore(t *testing.T) (*SyncStateStore, *countingStorage, *tu.FakeClock) {
	t.Helper()
	cs := &countingStorage{Memory: storage.NewMemory()}
	clock := tu.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewSyncStateStore(cs, clock, nil), cs, clock
}

func checkInvariants(t *testing.T, e SyncScopeState) {
	t.Helper()
	if e.PendingNewCount != max(0, e.LiveCount-e.BaselineCount) {
		t.Errorf("pendingNewCount %d does not match live %d baseline %d", e.PendingNewCount, e.LiveCount, e.BaselineCount)
	}
	if e.PendingDeletedCount != max(0, e.BaselineCount-e.LiveCount) {
		t.Errorf("pendingDeletedCount %d does not match live %d baseline %d", e.PendingDeletedCount, e.LiveCount, e.BaselineCount)
	}
	if e.IsPending != (e.PendingNewCount > 0 || e.PendingDeletedCount > 0) {
		t.Errorf("isPending %v inconsistent with counts %+v", e.IsPending, e)
	}
	if e.PendingNewCount > 0 && e.PendingDeletedCount > 0 {
		t.Errorf("expected at most one nonzero delta, got %+v", e)
	}
}

func intPtr(n int) *int { return &n }

func TestSyncStateStore(t *testing.T) {
	const key = "collection:me"

	t.Run("first observation seeds baseline", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 42})

		e, ok := s.Entry(key)
		if !ok {
			t.Fatal("expected entry")
		}
		if e.BaselineCount != 42 || e.PendingNewCount != 0 || e.IsPending {
			t.Errorf("expected zero-pending entry at 42, got %+v", e)
		}
		if e.LastDetectedAt != nil || e.LastAckedAt == nil {
			t.Errorf("expected only lastAckedAt to be stamped, got %+v", e)
		}
		checkInvariants(t, e)
	})

	t.Run("first observation with explicit baseline", func(t *testing.T) {
		s, _, clock := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 40, BaselineCount: intPtr(42)})

		e, _ := s.Entry(key)
		if e.PendingDeletedCount != 2 || !e.IsPending {
			t.Errorf("expected 2 pending deletions, got %+v", e)
		}
		if e.LastDetectedAt == nil || !e.LastDetectedAt.Equal(clock.Now()) {
			t.Errorf("expected detection stamp, got %v", e.LastDetectedAt)
		}
		checkInvariants(t, e)
	})

	t.Run("new items reopen a minimized entry", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 12})
		s.SetMinimized(key, true)

		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 13})
		e, _ := s.Entry(key)
		if e.PendingNewCount != 3 || e.PendingDeletedCount != 0 || !e.IsPending {
			t.Errorf("expected 3 pending new items, got %+v", e)
		}
		if e.IsMinimized {
			t.Error("expected changed pending state to reopen")
		}
		checkInvariants(t, e)
	})

	t.Run("unchanged pending stays minimized", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 13})
		s.SetMinimized(key, true)

		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 13})
		if e, _ := s.Entry(key); !e.IsMinimized {
			t.Error("expected entry to stay minimized")
		}
	})

	t.Run("existing baseline is not overwritten", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 11, BaselineCount: intPtr(11)})

		e, _ := s.Entry(key)
		if e.BaselineCount != 10 || e.PendingNewCount != 1 {
			t.Errorf("expected baseline 10 with 1 pending, got %+v", e)
		}
	})

	t.Run("idempotent upsert", func(t *testing.T) {
		s, cs, clock := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 14})
		before, _ := s.Entry(key)
		writes := cs.sets

		notified := 0
		s.Subscribe(func(map[string]SyncScopeState) { notified++ })
		clock.Advance(time.Minute)
		if s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 14}) {
			t.Error("expected no change")
		}

		after, _ := s.Entry(key)
		if cs.sets != writes || notified != 0 {
			t.Errorf("expected no write or notification, got %d writes, %d notifications", cs.sets-writes, notified)
		}
		if !after.LastDetectedAt.Equal(*before.LastDetectedAt) {
			t.Errorf("expected detection time to be kept, got %v", after.LastDetectedAt)
		}
	})

	t.Run("acknowledge live count", func(t *testing.T) {
		s, _, clock := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 13})
		s.SetRefreshing(key, true)
		clock.Advance(time.Second)

		s.AcknowledgeBaseline(AcknowledgeInput{Key: key})
		e, _ := s.Entry(key)
		if e.BaselineCount != 13 || e.PendingNewCount != 0 || e.IsPending || e.IsRefreshing {
			t.Errorf("expected acknowledged entry, got %+v", e)
		}
		if !e.LastAckedAt.Equal(clock.Now()) {
			t.Errorf("expected ack stamp %v, got %v", clock.Now(), e.LastAckedAt)
		}
		checkInvariants(t, e)
	})

	t.Run("acknowledge keeps minimized while pending", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 15})
		s.SetMinimized(key, true)

		s.AcknowledgeBaseline(AcknowledgeInput{Key: key, BaselineCount: intPtr(12)})
		e, _ := s.Entry(key)
		if !e.IsMinimized || e.PendingNewCount != 3 {
			t.Errorf("expected minimized entry with 3 pending, got %+v", e)
		}
	})

	t.Run("unknown keys are ignored", func(t *testing.T) {
		s, cs, _ := newSyncStore(t)
		s.SetMinimized("collection:nobody", true)
		s.SetRefreshing("collection:nobody", true)
		s.AcknowledgeBaseline(AcknowledgeInput{Key: "collection:nobody"})
		s.ClearScope("collection:nobody")
		if cs.sets != 0 || len(s.Entries()) != 0 {
			t.Errorf("expected no writes, got %d", cs.sets)
		}
	})

	t.Run("clear", func(t *testing.T) {
		s, _, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 1})
		s.UpsertFromMetadata(UpsertInput{Key: "collection:other", Scope: ScopeCollection, LiveCount: 2})

		s.ClearScope(key)
		if _, ok := s.Entry(key); ok {
			t.Error("expected scope to be cleared")
		}
		s.ClearAll()
		if len(s.Entries()) != 0 {
			t.Error("expected all entries cleared")
		}
	})

	t.Run("reload resets transient flags", func(t *testing.T) {
		s, cs, _ := newSyncStore(t)
		s.UpsertFromMetadata(UpsertInput{Key: key, Scope: ScopeCollection, LiveCount: 10})
		s.UpsertFromMetadata(UpsertInput{Key: "collection:other", Scope: ScopeCollection, LiveCount: 5})
		s.UpsertFromMetadata(UpsertInput{Key: "collection:other", Scope: ScopeCollection, LiveCount: 7})
		s.SetRefreshing(key, true)
		s.SetRefreshing("collection:other", true)

		if e, _ := s.Entry(key); !e.IsRefreshing {
			t.Fatal("expected in-memory refreshing flag")
		}

		reloaded := NewSyncStateStore(cs.Memory, nil, nil)
		for k, e := range reloaded.Entries() {
			if e.IsRefreshing {
				t.Errorf("expected %s to load with isRefreshing=false", k)
			}
			checkInvariants(t, e)
		}
		if e, _ := reloaded.Entry("collection:other"); e.PendingNewCount != 2 {
			t.Errorf("expected pending counts to survive reload, got %+v", e)
		}
	})

	t.Run("sanitizer repairs counts", func(t *testing.T) {
		raw := `{"entries":{"collection:me":{"baselineCount":5,"liveCount":9,"pendingNewCount":0,"isPending":false,"isMinimized":true,"isRefreshing":true,"lastDetectedAt":1714564800000}}}`
		st := sanitizeSyncState(json.RawMessage(raw), 1)
		e := st.Entries["collection:me"]
		if e.PendingNewCount != 4 || !e.IsPending || e.IsRefreshing {
			t.Errorf("expected repaired entry, got %+v", e)
		}
		if e.LastDetectedAt == nil || e.LastDetectedAt.UnixMilli() != 1714564800000 {
			t.Errorf("expected epoch milliseconds to parse, got %v", e.LastDetectedAt)
		}
		checkInvariants(t, e)

		raw = `{"entries":{"collection:me":{"baselineCount":5,"liveCount":5,"isMinimized":true}}}`
		if e := sanitizeSyncState(json.RawMessage(raw), 1).Entries["collection:me"]; e.IsMinimized {
			t.Error("expected minimized flag cleared on non-pending entry")
		}
	})
}
