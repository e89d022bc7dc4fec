package auth

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

// ExternalAuthChange is an auth write observed from another process.
// Tokens is nil when the write holds no usable token pair.
type ExternalAuthChange struct {
	Removed       bool
	Tokens        *models.AuthTokens
	SessionActive bool
}

// CrossTabListener forwards external auth writes for one storage key. It never writes storage.
type CrossTabListener struct {
	unsubscribe func()
}

// Listen subscribes handler to external writes of key. Unreadable payloads are logged and dropped.
func Listen(s storage.Storage, key string, handler func(ExternalAuthChange), logger *log.Logger) *CrossTabListener {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	l := &CrossTabListener{}
	l.unsubscribe = s.OnExternalChange(key, func(c storage.Change) {
		if c.Removed {
			handler(ExternalAuthChange{Removed: true})
			return
		}
		change, err := ParseAuthChange(c.Value)
		if err != nil {
			logger.Warn("ignoring unreadable auth change", "key", key, "err", err)
			return
		}
		handler(change)
	})
	return l
}

// Close stops forwarding. It is safe to call more than once.
func (l *CrossTabListener) Close() { l.unsubscribe() }

// ParseAuthChange decodes a persisted auth payload of the form {"state":{"tokens":{...},"sessionActive":bool}}.
func ParseAuthChange(raw []byte) (ExternalAuthChange, error) {
	var payload struct {
		State *struct {
			Tokens *struct {
				AccessToken       string `json:"accessToken"`
				AccessTokenSecret string `json:"accessTokenSecret"`
			} `json:"tokens"`
			SessionActive bool `json:"sessionActive"`
		} `json:"state"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ExternalAuthChange{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if payload.State == nil {
		return ExternalAuthChange{}, fmt.Errorf("%w: auth payload has no state", shared.ErrInvalidInput)
	}

	change := ExternalAuthChange{SessionActive: payload.State.SessionActive}
	if t := payload.State.Tokens; t != nil {
		tokens := &models.AuthTokens{AccessToken: t.AccessToken, AccessTokenSecret: t.AccessTokenSecret}
		if tokens.Valid() {
			change.Tokens = tokens
		}
	}
	if change.Tokens == nil {
		change.SessionActive = false
	}
	return change, nil
}
