package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
	"github.com/desertthunder/vinyldeck/internal/stores"
)

// Phase distinguishes an authenticated state taken on trust from one the identity endpoint confirmed.
type Phase int

const (
	PhaseNone       Phase = iota // Not authenticated
	PhaseOptimistic              // Authenticated from stored state, not yet validated
	PhaseConfirmed               // Tokens accepted by the identity endpoint

	keepPhase Phase = -1
)

func (p Phase) String() string {
	switch p {
	case PhaseOptimistic:
		return "optimistic"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return "none"
	}
}

// AuthState is what the rest of the application sees of the session.
type AuthState struct {
	IsAuthenticated bool               `json:"isAuthenticated"`
	IsLoading       bool               `json:"isLoading"`
	IsOnline        bool               `json:"isOnline"`
	HasStoredTokens bool               `json:"hasStoredTokens"`
	OAuthTokens     *models.AuthTokens `json:"-"`
}

// QueryCache is the query cache cleared on disconnect.
type QueryCache interface {
	ClearAll() error
}

// HTTPCache holds named response caches. Sensitive caches are deleted on disconnect.
type HTTPCache interface {
	DeleteCache(cacheName string) (int64, error)
}

// SessionDeps are the collaborators of a [Session]. QueryCache, HTTPCache, Network, and Logger are optional.
type SessionDeps struct {
	Auth        *stores.AuthStore
	Profile     *stores.ProfileStore
	Preferences *stores.PreferencesStore
	SyncState   *stores.SyncStateStore
	QueryCache  QueryCache
	HTTPCache   HTTPCache
	Discogs     services.Discogs
	Network     services.Connectivity
	Logger      *log.Logger
}

// Session is the auth state machine for one process.
type Session struct {
	auth        *stores.AuthStore
	profile     *stores.ProfileStore
	preferences *stores.PreferencesStore
	sync        *stores.SyncStateStore
	queryCache  QueryCache
	httpCache   HTTPCache
	discogs     services.Discogs
	network     services.Connectivity
	logger      *log.Logger

	queue  *deferQueue
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	bgIdle      *sync.Cond
	background  int
	state       AuthState
	phase       Phase
	initialized bool
	evalQueued  bool
	inFlight    int
	prevTokens  *models.AuthTokens
	hadProfile  bool
	wasOnline   bool
	nextID      int
	subs        map[int]func(AuthState)

	unsubscribe []func()
}

// alwaysOnline is used when no connectivity source is configured.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool                              { return true }
func (alwaysOnline) Subscribe(func(bool)) (unsubscribe func()) { return func() {} }

// NewSession starts in the loading state and follows the stores until [Session.Close].
// Call [Session.Init] to evaluate the stored state.
func NewSession(deps SessionDeps) *Session {
	if deps.Logger == nil {
		deps.Logger = shared.DiscardLogger()
	}
	if deps.Network == nil {
		deps.Network = alwaysOnline{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		auth:        deps.Auth,
		profile:     deps.Profile,
		preferences: deps.Preferences,
		sync:        deps.SyncState,
		queryCache:  deps.QueryCache,
		httpCache:   deps.HTTPCache,
		discogs:     deps.Discogs,
		network:     deps.Network,
		logger:      shared.WithLogger(deps.Logger, "component", "auth"),
		queue:       newDeferQueue(),
		ctx:         ctx,
		cancel:      cancel,
		state:       AuthState{IsLoading: true, IsOnline: true},
		prevTokens:  deps.Auth.Tokens(),
		hadProfile:  deps.Profile.Profile() != nil,
		wasOnline:   deps.Network.Online(),
		subs:        make(map[int]func(AuthState)),
	}

	s.bgIdle = sync.NewCond(&s.mu)

	s.unsubscribe = append(s.unsubscribe,
		deps.Auth.Subscribe(s.onAuthChange),
		deps.Profile.Subscribe(s.onProfileChange),
		deps.Network.Subscribe(s.onConnectivity),
	)
	return s
}

// WatchExternal reacts to auth writes made through other handles of st.
func (s *Session) WatchExternal(st storage.Storage) {
	l := Listen(st, shared.AuthStorageKey, s.HandleExternalChange, s.logger)
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, l.Close)
	s.mu.Unlock()
}

// State returns the current state. IsOnline and HasStoredTokens are read live.
func (s *Session) State() AuthState {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	st.IsOnline = s.network.Online()
	st.HasStoredTokens = s.auth.Tokens() != nil
	if st.OAuthTokens != nil {
		t := *st.OAuthTokens
		st.OAuthTokens = &t
	}
	return st
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Subscribe calls fn after every state change. fn must not call [Session.Flush].
func (s *Session) Subscribe(fn func(AuthState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// set applies fn to the state and notifies subscribers. keepPhase leaves the phase unchanged.
func (s *Session) set(phase Phase, fn func(*AuthState)) {
	s.mu.Lock()
	fn(&s.state)
	if phase != keepPhase {
		s.phase = phase
	}
	subs := make([]func(AuthState), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	st := s.State()
	for _, sub := range subs {
		sub(st)
	}
}

func (s *Session) setInitialized(v bool) {
	s.mu.Lock()
	s.initialized = v
	s.mu.Unlock()
}

// Init queues an evaluation of the stored state. Calls made before it runs coalesce.
func (s *Session) Init() {
	s.mu.Lock()
	if s.evalQueued {
		s.mu.Unlock()
		return
	}
	s.evalQueued = true
	s.mu.Unlock()

	s.queue.push(s.evaluate)
}

// evaluate derives the state from the stores without any network wait.
//
//   - no tokens: unauthenticated
//   - signed out, or offline without a cached profile: unauthenticated with stored tokens
//   - otherwise: authenticated on trust, validated in the background when online
func (s *Session) evaluate() {
	snap := s.auth.Snapshot()
	online := s.network.Online()
	hasProfile := s.profile.Profile() != nil

	s.mu.Lock()
	s.evalQueued = false
	if s.inFlight > 0 || (s.initialized && s.state.IsAuthenticated) {
		s.mu.Unlock()
		return
	}

	var (
		next     AuthState
		phase    = PhaseNone
		validate bool
	)
	switch {
	case snap.Tokens == nil:
		s.initialized = false
		next = AuthState{IsOnline: online}
	case !snap.SessionActive || (!online && !hasProfile):
		s.initialized = false
		next = AuthState{IsOnline: online, HasStoredTokens: true}
	default:
		s.initialized = true
		next = AuthState{IsAuthenticated: true, IsOnline: online, HasStoredTokens: true, OAuthTokens: snap.Tokens}
		phase = PhaseOptimistic
		validate = online
	}
	s.mu.Unlock()

	s.set(phase, func(st *AuthState) { *st = next })
	if validate {
		s.validateInBackground(snap.Tokens)
	}
}

// onAuthChange clears the cached profile when the token pair changes without a disconnect, so
// one account never sees another's identity.
func (s *Session) onAuthChange(snap stores.AuthSnapshot) {
	s.mu.Lock()
	prev := s.prevTokens
	changed := prev != nil && snap.Tokens != nil && !prev.Equal(snap.Tokens)
	s.prevTokens = snap.Tokens
	if changed {
		s.initialized = false
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("tokens changed, clearing cached profile")
		s.profile.ClearProfile()
	}
	s.Init()
}

func (s *Session) onProfileChange(p *models.CachedProfile) {
	s.mu.Lock()
	changed := s.hadProfile != (p != nil)
	s.hadProfile = p != nil
	s.mu.Unlock()

	if changed {
		s.Init()
	}
}

// onConnectivity re-evaluates on every change and revalidates on an offline to online transition.
func (s *Session) onConnectivity(online bool) {
	s.mu.Lock()
	wasOffline := !s.wasOnline
	s.wasOnline = online
	authenticated := s.state.IsAuthenticated
	s.mu.Unlock()

	s.Init()
	if !wasOffline || !online || !authenticated {
		return
	}
	snap := s.auth.Snapshot()
	if snap.SessionActive && snap.Tokens != nil {
		s.logger.Debug("back online, revalidating tokens")
		s.validateInBackground(snap.Tokens)
	}
}

func (s *Session) validateInBackground(tokens *models.AuthTokens) {
	s.mu.Lock()
	s.background++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.background--
			s.bgIdle.Broadcast()
			s.mu.Unlock()
		}()
		_ = s.backgroundValidation(s.ctx, tokens)
	}()
}

func (s *Session) waitBackground() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.background > 0 {
		s.bgIdle.Wait()
	}
}

// backgroundValidation checks tokens without a loading state. A profile is only fetched when
// none is cached. Only rejected credentials disconnect; any other failure is logged.
func (s *Session) backgroundValidation(ctx context.Context, tokens *models.AuthTokens) error {
	identity, err := s.discogs.GetIdentity(ctx, tokens)
	if !tokens.Equal(s.auth.Tokens()) {
		s.logger.Debug("discarding validation result for replaced tokens")
		return err
	}
	if err != nil {
		if shared.IsAuthError(err) {
			s.logger.Warn("stored tokens rejected, disconnecting", "err", err)
			s.disconnectAndClear()
			s.set(PhaseNone, func(st *AuthState) { *st = AuthState{IsOnline: s.network.Online()} })
			return err
		}
		s.logger.Warn("background token validation failed, will retry later", "err", err)
		return err
	}

	if s.profile.Profile() == nil {
		s.hydrateProfile(ctx, identity, tokens)
	}

	s.mu.Lock()
	if s.state.IsAuthenticated && s.state.OAuthTokens.Equal(tokens) {
		s.phase = PhaseConfirmed
	}
	s.mu.Unlock()
	return nil
}

// hydrateProfile caches the profile of identity, falling back to the identity itself. The
// gravatar email is seeded from the profile only when none is set.
func (s *Session) hydrateProfile(ctx context.Context, identity *models.Identity, tokens *models.AuthTokens) {
	p, err := s.discogs.GetUserProfile(ctx, tokens, identity.Username)
	if err != nil {
		s.logger.Warn("profile fetch failed, using identity data", "err", err)
		s.profile.SetProfile(models.CachedProfile{ID: identity.ID, Username: identity.Username})
		return
	}
	s.profile.SetProfile(models.CachedProfile{
		ID:        p.ID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		Email:     p.Email,
	})
	if p.Email != "" && s.preferences != nil && s.preferences.Get().GravatarEmail == "" {
		s.preferences.SetGravatarEmail(p.Email)
	}
}

// begin suppresses re-evaluation while an explicit flow runs; end re-queues it.
func (s *Session) begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	s.Init()
}

// validate is shared by [Session.EstablishSession] and [Session.ValidateOAuthTokens].
func (s *Session) validate(ctx context.Context, tokens *models.AuthTokens, forceProfile, storeTokens bool) error {
	identity, err := s.discogs.GetIdentity(ctx, tokens)
	if err != nil {
		if shared.IsAuthError(err) {
			s.logger.Warn("tokens rejected", "err", err)
			s.disconnectAndClear()
			s.set(PhaseNone, func(st *AuthState) { *st = AuthState{IsOnline: s.network.Online()} })
			return err
		}

		s.logger.Warn("token validation failed, will retry later", "err", err)
		// A cached profile only vouches for the pair it was fetched with.
		if s.profile.Profile() != nil && tokens.Equal(s.auth.Tokens()) {
			if storeTokens {
				s.auth.SetTokens(tokens)
			}
			s.auth.SetSessionActive(true)
			s.set(PhaseOptimistic, func(st *AuthState) {
				st.IsAuthenticated = true
				st.IsLoading = false
				st.OAuthTokens = tokens
			})
			s.setInitialized(true)
			return nil
		}
		s.set(keepPhase, func(st *AuthState) {
			st.IsLoading = false
			st.HasStoredTokens = true
		})
		return err
	}

	// Storing first lets a token change drop the previous account's profile before hydration.
	if storeTokens {
		s.auth.SetTokens(tokens)
	}
	if forceProfile || s.profile.Profile() == nil {
		s.hydrateProfile(ctx, identity, tokens)
	}
	s.auth.SetSessionActive(true)
	s.set(PhaseConfirmed, func(st *AuthState) {
		st.IsAuthenticated = true
		st.IsLoading = false
		st.OAuthTokens = tokens
	})
	s.setInitialized(true)
	return nil
}

// EstablishSession validates tokens and refreshes the cached profile. It is used at login and
// when continuing with stored tokens (nil). Offline, stored tokens are trusted when a profile is
// cached and [shared.ErrOfflineNoCache] is returned otherwise.
func (s *Session) EstablishSession(ctx context.Context, tokens *models.AuthTokens) error {
	fromStore := tokens == nil
	if fromStore {
		tokens = s.auth.Tokens()
	}
	if !tokens.Valid() {
		return fmt.Errorf("%w: no OAuth tokens found", shared.ErrNotAuthenticated)
	}

	s.begin()
	defer s.end()
	s.set(keepPhase, func(st *AuthState) { st.IsLoading = true })

	if fromStore && !s.network.Online() {
		if s.profile.Profile() == nil {
			s.set(keepPhase, func(st *AuthState) { st.IsLoading = false })
			return shared.ErrOfflineNoCache
		}
		s.auth.SetSessionActive(true)
		s.set(PhaseOptimistic, func(st *AuthState) {
			st.IsAuthenticated = true
			st.IsLoading = false
			st.OAuthTokens = tokens
		})
		s.setInitialized(true)
		return nil
	}
	return s.validate(ctx, tokens, true, !fromStore)
}

// ValidateOAuthTokens validates tokens, or the stored pair when tokens is nil, fetching a profile
// only when none is cached. Explicit tokens are stored once the identity endpoint accepts them.
func (s *Session) ValidateOAuthTokens(ctx context.Context, tokens *models.AuthTokens) error {
	explicit := tokens != nil
	if !explicit {
		tokens = s.auth.Tokens()
	}
	if !tokens.Valid() {
		return fmt.Errorf("%w: no OAuth tokens found", shared.ErrNotAuthenticated)
	}

	s.begin()
	defer s.end()
	s.set(keepPhase, func(st *AuthState) { st.IsLoading = true })
	return s.validate(ctx, tokens, false, explicit)
}

// Revalidate runs background validation now for an authenticated session. It never shows a loading state.
func (s *Session) Revalidate(ctx context.Context) error {
	snap := s.auth.Snapshot()
	if !snap.SessionActive || snap.Tokens == nil || !s.State().IsAuthenticated {
		return nil
	}
	return s.backgroundValidation(ctx, snap.Tokens)
}

// SignOut ends the session and keeps the tokens.
func (s *Session) SignOut() {
	s.auth.SignOut()
	s.setInitialized(false)
	s.set(PhaseNone, func(st *AuthState) {
		st.IsAuthenticated = false
		st.IsLoading = false
		st.OAuthTokens = nil
	})
}

// Disconnect removes the authorization and every cached trace of the account.
func (s *Session) Disconnect() {
	s.disconnectAndClear()
	s.set(PhaseNone, func(st *AuthState) { *st = AuthState{IsOnline: s.network.Online()} })
}

func (s *Session) disconnectAndClear() {
	s.setInitialized(false)
	s.auth.Disconnect()
	s.sync.ClearAll()
	s.queue.push(s.clearCaches)
}

// clearCaches drops the query cache and the sensitive HTTP caches. Failures are logged or ignored.
func (s *Session) clearCaches() {
	if s.queryCache != nil {
		if err := s.queryCache.ClearAll(); err != nil {
			s.logger.Warn("failed to clear query cache", "err", err)
		}
	}
	if s.httpCache != nil {
		for _, name := range shared.SensitiveCaches {
			_, _ = s.httpCache.DeleteCache(name)
		}
	}
}

// HandleExternalChange applies an auth write made by another process. It never writes auth state.
func (s *Session) HandleExternalChange(c ExternalAuthChange) {
	s.queue.push(func() { s.applyExternal(c) })
}

func (s *Session) applyExternal(c ExternalAuthChange) {
	s.mu.Lock()
	loading := s.state.IsLoading
	authenticated := s.state.IsAuthenticated
	s.mu.Unlock()
	if loading {
		return
	}

	if c.Removed || c.Tokens == nil {
		s.logger.Info("disconnected elsewhere, clearing local state")
		s.setInitialized(false)
		s.sync.ClearAll()
		s.clearCaches()
		s.set(PhaseNone, func(st *AuthState) {
			st.IsAuthenticated = false
			st.HasStoredTokens = false
			st.OAuthTokens = nil
		})
		return
	}
	if !c.SessionActive && authenticated {
		s.logger.Info("signed out elsewhere")
		s.setInitialized(false)
		s.set(PhaseNone, func(st *AuthState) {
			st.IsAuthenticated = false
			st.OAuthTokens = nil
		})
	}
}

// Flush waits until queued and background work has finished, including work it queued.
// It must not be called from a subscriber.
func (s *Session) Flush() {
	for {
		s.queue.wait()
		s.waitBackground()
		if s.queue.empty() {
			return
		}
	}
}

// Close stops following the stores and waits for background work.
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	s.cancel()
	s.queue.close()
	s.waitBackground()
}
