package stores

import (
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

const authVersion = 1

// AuthSnapshot is the persisted auth state.
//
// SessionActive is only ever true while Tokens is set. Tokens outlive a signed-out session so a
// returning user can continue without authorizing again.
type AuthSnapshot struct {
	Tokens        *models.AuthTokens `json:"tokens"`
	SessionActive bool               `json:"sessionActive"`
}

// AuthStore holds the OAuth token pair and session flag.
type AuthStore struct {
	p           *persisted[AuthSnapshot]
	preferences *PreferencesStore
	profile     *ProfileStore
}

// NewAuthStore loads auth state from s. Disconnect cascades into preferences and profile when they are non-nil.
func NewAuthStore(s storage.Storage, preferences *PreferencesStore, profile *ProfileStore, logger *log.Logger) *AuthStore {
	return &AuthStore{
		p: newPersisted(s, logger, persistOptions[AuthSnapshot]{
			key:      shared.AuthStorageKey,
			version:  authVersion,
			sanitize: sanitizeAuth,
		}),
		preferences: preferences,
		profile:     profile,
	}
}

func sanitizeAuth(raw json.RawMessage, _ int) AuthSnapshot {
	m := fields(raw)
	tokens := sanitizeTokens(m["tokens"])
	active, _ := boolField(m, "sessionActive")
	return AuthSnapshot{Tokens: tokens, SessionActive: tokens != nil && active}
}

// sanitizeTokens returns nil unless both halves are non-empty strings.
func sanitizeTokens(raw json.RawMessage) *models.AuthTokens {
	m := fields(raw)
	access, ok := stringField(m, "accessToken")
	if !ok {
		return nil
	}
	secret, ok := stringField(m, "accessTokenSecret")
	if !ok {
		return nil
	}
	t := &models.AuthTokens{AccessToken: access, AccessTokenSecret: secret}
	if !t.Valid() {
		return nil
	}
	return t
}

// Snapshot returns a copy of the current state.
func (s *AuthStore) Snapshot() AuthSnapshot {
	snap := s.p.get()
	if snap.Tokens != nil {
		t := *snap.Tokens
		snap.Tokens = &t
	}
	return snap
}

// Tokens returns a copy of the stored pair, or nil.
func (s *AuthStore) Tokens() *models.AuthTokens { return s.Snapshot().Tokens }

func (s *AuthStore) SessionActive() bool { return s.p.get().SessionActive }

// SetTokens stores a new pair. Storing nil also ends the session.
func (s *AuthStore) SetTokens(tokens *models.AuthTokens) {
	var next *models.AuthTokens
	if tokens.Valid() {
		t := *tokens
		next = &t
	}
	s.p.update(func(cur AuthSnapshot) (AuthSnapshot, bool) {
		if cur.Tokens.Equal(next) {
			return cur, false
		}
		cur.Tokens = next
		if next == nil {
			cur.SessionActive = false
		}
		return cur, true
	})
}

// SetSessionActive flips the session flag. Activating without tokens is ignored.
func (s *AuthStore) SetSessionActive(active bool) {
	s.p.update(func(cur AuthSnapshot) (AuthSnapshot, bool) {
		if active && cur.Tokens == nil {
			return cur, false
		}
		if cur.SessionActive == active {
			return cur, false
		}
		cur.SessionActive = active
		return cur, true
	})
}

// SignOut ends the session and keeps the tokens.
func (s *AuthStore) SignOut() { s.SetSessionActive(false) }

// Disconnect forgets the tokens along with the avatar preferences and cached profile of the account.
func (s *AuthStore) Disconnect() {
	if s.preferences != nil {
		s.preferences.ResetAvatarSettings()
	}
	if s.profile != nil {
		s.profile.ClearProfile()
	}
	s.p.update(func(cur AuthSnapshot) (AuthSnapshot, bool) {
		if cur.Tokens == nil && !cur.SessionActive {
			return cur, false
		}
		return AuthSnapshot{}, true
	})
}

// Subscribe registers fn for every change, local or external.
func (s *AuthStore) Subscribe(fn func(AuthSnapshot)) func() { return s.p.subscribe(fn) }

// Close stops listening for external changes.
func (s *AuthStore) Close() { s.p.close() }
