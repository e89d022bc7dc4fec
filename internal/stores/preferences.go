package stores

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

const preferencesVersion = 1

type ViewMode string

const (
	ViewGrid  ViewMode = "grid"
	ViewTable ViewMode = "table"
)

type AvatarSource string

const (
	AvatarDiscogs  AvatarSource = "discogs"
	AvatarGravatar AvatarSource = "gravatar"
)

// Preferences are user-chosen settings.
type Preferences struct {
	ViewMode        ViewMode     `json:"viewMode"`
	AvatarSource    AvatarSource `json:"avatarSource"`
	GravatarEmail   string       `json:"gravatarEmail"`
	LastSeenVersion *string      `json:"lastSeenVersion"`
	GravatarURL     *string      `json:"gravatarUrl"`
}

func defaultPreferences() Preferences {
	return Preferences{ViewMode: ViewGrid, AvatarSource: AvatarDiscogs}
}

// PreferencesStore persists [Preferences].
type PreferencesStore struct {
	p *persisted[Preferences]
}

func NewPreferencesStore(s storage.Storage, logger *log.Logger) *PreferencesStore {
	return &PreferencesStore{p: newPersisted(s, logger, persistOptions[Preferences]{
		key:      shared.PreferencesStorageKey,
		version:  preferencesVersion,
		sanitize: sanitizePreferences,
	})}
}

func sanitizePreferences(raw json.RawMessage, _ int) Preferences {
	m := fields(raw)
	prefs := defaultPreferences()
	if v, _ := stringField(m, "viewMode"); v == string(ViewTable) {
		prefs.ViewMode = ViewTable
	}
	if v, _ := stringField(m, "avatarSource"); v == string(AvatarGravatar) {
		prefs.AvatarSource = AvatarGravatar
	}
	prefs.GravatarEmail, _ = stringField(m, "gravatarEmail")
	if v, ok := stringField(m, "lastSeenVersion"); ok {
		prefs.LastSeenVersion = &v
	}
	if v, ok := stringField(m, "gravatarUrl"); ok {
		prefs.GravatarURL = &v
	}
	return prefs
}

// ParseViewMode validates a user-supplied view mode.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(s) {
	case ViewGrid, ViewTable:
		return ViewMode(s), nil
	}
	return "", fmt.Errorf("%w: view mode must be grid or table, got %q", shared.ErrInvalidInput, s)
}

// ParseAvatarSource validates a user-supplied avatar source.
func ParseAvatarSource(s string) (AvatarSource, error) {
	switch AvatarSource(s) {
	case AvatarDiscogs, AvatarGravatar:
		return AvatarSource(s), nil
	}
	return "", fmt.Errorf("%w: avatar source must be discogs or gravatar, got %q", shared.ErrInvalidInput, s)
}

// GravatarURL builds the avatar URL for email, or "" when email is blank.
func GravatarURL(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return "https://gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=mp"
}

func (s *PreferencesStore) Get() Preferences { return s.p.get() }

func (s *PreferencesStore) set(fn func(*Preferences)) {
	s.p.update(func(cur Preferences) (Preferences, bool) {
		next := cur
		fn(&next)
		return next, !equalPreferences(cur, next)
	})
}

func (s *PreferencesStore) SetViewMode(mode ViewMode) {
	s.set(func(p *Preferences) { p.ViewMode = mode })
}

func (s *PreferencesStore) SetAvatarSource(source AvatarSource) {
	s.set(func(p *Preferences) { p.AvatarSource = source })
}

// SetGravatarEmail stores email and derives the gravatar URL from it.
func (s *PreferencesStore) SetGravatarEmail(email string) {
	s.set(func(p *Preferences) {
		p.GravatarEmail = email
		p.GravatarURL = nil
		if u := GravatarURL(email); u != "" {
			p.GravatarURL = &u
		}
	})
}

func (s *PreferencesStore) SetLastSeenVersion(version string) {
	s.set(func(p *Preferences) { p.LastSeenVersion = &version })
}

// ResetAvatarSettings returns the avatar fields to their defaults.
func (s *PreferencesStore) ResetAvatarSettings() {
	s.set(func(p *Preferences) {
		p.AvatarSource = AvatarDiscogs
		p.GravatarEmail = ""
		p.GravatarURL = nil
	})
}

func (s *PreferencesStore) Subscribe(fn func(Preferences)) func() { return s.p.subscribe(fn) }

func (s *PreferencesStore) Close() { s.p.close() }

func equalPreferences(a, b Preferences) bool {
	return a.ViewMode == b.ViewMode &&
		a.AvatarSource == b.AvatarSource &&
		a.GravatarEmail == b.GravatarEmail &&
		equalStringPtr(a.LastSeenVersion, b.LastSeenVersion) &&
		equalStringPtr(a.GravatarURL, b.GravatarURL)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
