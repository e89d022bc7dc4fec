package stores

import (
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

const profileVersion = 1

type profileState struct {
	Profile *models.CachedProfile `json:"profile"`
}

// ProfileStore keeps the last authenticated identity for instant rendering on the next start.
type ProfileStore struct {
	p *persisted[profileState]
}

func NewProfileStore(s storage.Storage, logger *log.Logger) *ProfileStore {
	return &ProfileStore{p: newPersisted(s, logger, persistOptions[profileState]{
		key:      shared.ProfileStorageKey,
		version:  profileVersion,
		sanitize: sanitizeProfile,
	})}
}

// sanitizeProfile drops profiles without a positive id and a username.
func sanitizeProfile(raw json.RawMessage, _ int) profileState {
	m := fields(fields(raw)["profile"])
	id, ok := intField(m, "id")
	if !ok || id == 0 {
		return profileState{}
	}
	username, _ := stringField(m, "username")
	if username == "" {
		return profileState{}
	}
	p := &models.CachedProfile{ID: id, Username: username}
	p.AvatarURL, _ = stringField(m, "avatar_url")
	p.Email, _ = stringField(m, "email")
	return profileState{Profile: p}
}

// Profile returns a copy of the cached profile, or nil.
func (s *ProfileStore) Profile() *models.CachedProfile {
	p := s.p.get().Profile
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (s *ProfileStore) SetProfile(profile models.CachedProfile) {
	s.p.update(func(cur profileState) (profileState, bool) {
		if cur.Profile != nil && *cur.Profile == profile {
			return cur, false
		}
		return profileState{Profile: &profile}, true
	})
}

func (s *ProfileStore) ClearProfile() {
	s.p.update(func(cur profileState) (profileState, bool) {
		return profileState{}, cur.Profile != nil
	})
}

// Subscribe registers fn for every change. fn receives nil after a clear.
func (s *ProfileStore) Subscribe(fn func(*models.CachedProfile)) func() {
	return s.p.subscribe(func(st profileState) { fn(st.Profile) })
}

func (s *ProfileStore) Close() { s.p.close() }
