package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/collection"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/querycache"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/stores"
)

// MetadataScope holds the last observed collection size per user.
const MetadataScope = "collectionMetadata"

const (
	refreshingMessage    = "Refreshing collection…"
	refreshFailedMessage = "Could not refresh your collection. Try again."
)

// MetadataKey is the cache key of a user's collection metadata.
func MetadataKey(username string) querycache.Key {
	return querycache.Key{MetadataScope, username}
}

type SyncStatus string

const (
	StatusIdle       SyncStatus = "idle"
	StatusPending    SyncStatus = "pending"
	StatusRefreshing SyncStatus = "refreshing"
)

type SyncCounts struct {
	NewItems     int `json:"newItems"`
	DeletedItems int `json:"deletedItems"`
}

// SyncPendingDescriptor is what a sync surface renders for one scope.
type SyncPendingDescriptor struct {
	Key                  string       `json:"key"`
	Scope                stores.Scope `json:"scope"`
	Status               SyncStatus   `json:"status"`
	Counts               SyncCounts   `json:"counts"`
	IsMinimized          bool         `json:"isMinimized"`
	Message              string       `json:"message"`
	RefreshFailedMessage string       `json:"refreshFailedMessage"`
}

// Describe projects a sync entry. It returns nil when the entry is neither pending nor refreshing.
func Describe(key string, e stores.SyncScopeState) *SyncPendingDescriptor {
	if !e.IsPending && !e.IsRefreshing {
		return nil
	}
	d := &SyncPendingDescriptor{
		Key:                  key,
		Scope:                e.Scope,
		Status:               StatusPending,
		Counts:               SyncCounts{NewItems: e.PendingNewCount, DeletedItems: e.PendingDeletedCount},
		IsMinimized:          e.IsMinimized,
		Message:              pendingMessage(e.PendingNewCount, e.PendingDeletedCount),
		RefreshFailedMessage: refreshFailedMessage,
	}
	if e.IsRefreshing {
		d.Status = StatusRefreshing
		d.Message = refreshingMessage
	}
	return d
}

func pendingMessage(added, removed int) string {
	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d new item(s) in your collection", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) removed from your collection", removed))
	}
	return strings.Join(parts, " · ")
}

// CollectionSyncDeps are the collaborators of a [CollectionSync].
type CollectionSyncDeps struct {
	Auth      *stores.AuthStore
	Profile   *stores.ProfileStore
	SyncState *stores.SyncStateStore
	Cache     *querycache.Client
	Discogs   services.Discogs
	Logger    *log.Logger
}

// CollectionSyncOptions tune polling and refresh.
type CollectionSyncOptions struct {
	PollInterval      time.Duration         // Metadata poll interval (default: 5m)
	PageBatchSize     int                   // Pages fetched concurrently (default: 3)
	PerPage           int                   // Page size of fetched variants
	RequestsPerSecond float64               // Page request pacing; zero disables it
	Progress          chan<- ProgressUpdate // Optional, never blocks
}

// CollectionSync detects remote collection changes for the signed-in user and refreshes the
// cached collection on request.
type CollectionSync struct {
	auth      *stores.AuthStore
	profile   *stores.ProfileStore
	sync      *stores.SyncStateStore
	cache     *querycache.Client
	discogs   services.Discogs
	refresher *ScopeRefresher
	opts      CollectionSyncOptions
	logger    *log.Logger
}

func NewCollectionSync(deps CollectionSyncDeps, opts CollectionSyncOptions) *CollectionSync {
	if deps.Logger == nil {
		deps.Logger = shared.DiscardLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.PageBatchSize <= 0 {
		opts.PageBatchSize = DefaultPageBatchSize
	}
	logger := shared.WithLogger(deps.Logger, "component", "sync")
	return &CollectionSync{
		auth:      deps.Auth,
		profile:   deps.Profile,
		sync:      deps.SyncState,
		cache:     deps.Cache,
		discogs:   deps.Discogs,
		refresher: NewScopeRefresher(deps.SyncState, deps.Cache, logger),
		opts:      opts,
		logger:    logger,
	}
}

// identity returns the current username and tokens, or "" and nil when signed out.
func (s *CollectionSync) identity() (string, *models.AuthTokens) {
	tokens := s.auth.Tokens()
	profile := s.profile.Profile()
	if tokens == nil || !s.auth.SessionActive() || profile == nil {
		return "", nil
	}
	return profile.Username, tokens
}

func (s *CollectionSync) syncKey() (string, bool) {
	username, _ := s.identity()
	if username == "" {
		return "", false
	}
	return stores.BuildSyncKey(stores.ScopeCollection, username)
}

func (s *CollectionSync) fetchOptions() FetchOptions {
	return FetchOptions{
		PerPage:           s.opts.PerPage,
		BatchSize:         s.opts.PageBatchSize,
		RequestsPerSecond: s.opts.RequestsPerSecond,
	}
}

// Start polls immediately and then on every interval until ctx is done.
func (s *CollectionSync) Start(ctx context.Context) {
	s.pollLogged(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.markStale()
			s.pollLogged(ctx)
		}
	}
}

func (s *CollectionSync) pollLogged(ctx context.Context) {
	if err := s.Poll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("metadata poll failed", "err", err)
	}
}

func (s *CollectionSync) markStale() {
	if username, _ := s.identity(); username != "" {
		s.cache.Invalidate(MetadataKey(username))
	}
}

// Focus marks the metadata stale and polls, so regaining focus always checks for changes.
func (s *CollectionSync) Focus(ctx context.Context) error {
	s.markStale()
	return s.Poll(ctx)
}

// Poll fetches the collection size when the cached metadata is stale and records it.
// It does nothing while signed out.
func (s *CollectionSync) Poll(ctx context.Context) error {
	username, tokens := s.identity()
	if username == "" {
		return nil
	}
	key := MetadataKey(username)
	if !s.cache.IsStale(key) {
		return nil
	}

	meta, err := s.discogs.GetCollectionMetadata(ctx, tokens, username)
	if err != nil {
		return err
	}
	if err := s.cache.Set(key, meta); err != nil {
		s.logger.Warn("failed to cache metadata", "err", err)
	}
	sendProgress(s.opts.Progress, metadataUpdate(meta.TotalCount))
	s.observe(username, meta.TotalCount)
	return nil
}

// observe records a live count. The first observation for a user prefers the cached collection
// size as the baseline, and waits until the query cache has been restored from disk.
func (s *CollectionSync) observe(username string, live int) {
	key, ok := stores.BuildSyncKey(stores.ScopeCollection, username)
	if !ok {
		return
	}
	in := stores.UpsertInput{Key: key, Scope: stores.ScopeCollection, LiveCount: live}

	if _, exists := s.sync.Entry(key); !exists {
		if !s.cache.Restored() {
			s.logger.Debug("query cache not restored, deferring baseline", "key", key)
			s.cache.Invalidate(MetadataKey(username))
			return
		}
		if n, ok := s.cachedBaselineCount(username); ok {
			in.BaselineCount = &n
		}
	}
	s.sync.UpsertFromMetadata(in)
}

// cachedBaselineCount returns the largest total among cached collection variants.
func (s *CollectionSync) cachedBaselineCount(username string) (int, bool) {
	best, found := 0, false
	for _, e := range s.cache.Find(collection.UserPrefix(username)) {
		var resp models.CollectionResponse
		if err := e.Decode(&resp); err != nil {
			continue
		}
		if !found || resp.Pagination.Items > best {
			best, found = resp.Pagination.Items, true
		}
	}
	return best, found
}

// Descriptor returns the sync surface for the current user, or nil when there is nothing to show.
func (s *CollectionSync) Descriptor() *SyncPendingDescriptor {
	key, ok := s.syncKey()
	if !ok {
		return nil
	}
	e, ok := s.sync.Entry(key)
	if !ok {
		return nil
	}
	return Describe(key, e)
}

// Subscribe calls fn with the current descriptor after every sync-state change.
func (s *CollectionSync) Subscribe(fn func(*SyncPendingDescriptor)) func() {
	return s.sync.Subscribe(func(entries map[string]stores.SyncScopeState) {
		key, ok := s.syncKey()
		if !ok {
			fn(nil)
			return
		}
		e, ok := entries[key]
		if !ok {
			fn(nil)
			return
		}
		fn(Describe(key, e))
	})
}

func (s *CollectionSync) Minimize() {
	if key, ok := s.syncKey(); ok {
		s.sync.SetMinimized(key, true)
	}
}

func (s *CollectionSync) Open() {
	if key, ok := s.syncKey(); ok {
		s.sync.SetMinimized(key, false)
	}
}

// RefreshCollection re-fetches every cached view of the collection and acknowledges the new size.
func (s *CollectionSync) RefreshCollection(ctx context.Context) error {
	return s.refresh(ctx, RefreshOptions{})
}

// HardRefresh drops the cached collection first. When target is set it is fetched and cached
// so the next view has data.
func (s *CollectionSync) HardRefresh(ctx context.Context, target *collection.Variant) error {
	opts := RefreshOptions{ClearCache: true}
	if target != nil {
		opts.HydrateTarget = *target
	}
	return s.refresh(ctx, opts)
}

func (s *CollectionSync) refresh(ctx context.Context, opts RefreshOptions) error {
	username, tokens := s.identity()
	if username == "" || tokens == nil {
		return fmt.Errorf("%w: sign in to refresh the collection", shared.ErrNotAuthenticated)
	}

	spec := ScopeRefreshSpec{
		Scope:               stores.ScopeCollection,
		Identity:            username,
		CachedBaselineCount: func() (int, bool) { return s.cachedBaselineCount(username) },
		RefreshCachedData: func(ctx context.Context) (int, bool, error) {
			return s.refreshVariants(ctx, tokens, username)
		},
		HydrateIfMissing: func(ctx context.Context, target any) (int, bool, error) {
			v, ok := target.(collection.Variant)
			if !ok || v.Username != username {
				return 0, false, nil
			}
			resp, err := FetchCollection(ctx, s.discogs, tokens, v, s.fetchOptions(), s.opts.Progress)
			if err != nil {
				return 0, false, err
			}
			if err := s.cache.Set(v.Key(), resp); err != nil {
				s.logger.Warn("failed to cache collection", "err", err)
			}
			return resp.Pagination.Items, true, nil
		},
		FetchLiveCount: func(ctx context.Context) (int, error) {
			meta, err := s.discogs.GetCollectionMetadata(ctx, tokens, username)
			if err != nil {
				return 0, err
			}
			return meta.TotalCount, nil
		},
	}

	if err := s.refresher.Refresh(ctx, spec, opts); err != nil {
		return err
	}
	if e, ok := s.sync.Entry(collectionSyncKey(username)); ok {
		sendProgress(s.opts.Progress, reconcileUpdate(e.BaselineCount))
	}
	return nil
}

// refreshVariants re-fetches every cached variant for username. Malformed keys are skipped.
// It fails only when no variant could be refreshed, returning the last error.
func (s *CollectionSync) refreshVariants(ctx context.Context, tokens *models.AuthTokens, username string) (int, bool, error) {
	entries := s.cache.Find(collection.UserPrefix(username))
	if len(entries) == 0 {
		return 0, false, nil
	}

	var lastErr error
	best, refreshed := 0, false
	for i, e := range entries {
		v, err := collection.ParseQueryKey(e.Key)
		if err != nil {
			s.logger.Warn("skipping malformed collection query key", "key", e.Key, "err", err)
			continue
		}

		resp, err := FetchCollection(ctx, s.discogs, tokens, v, s.fetchOptions(), s.opts.Progress)
		if err != nil {
			if ctx.Err() != nil {
				return 0, false, ctx.Err()
			}
			s.logger.Warn("failed to refresh cached collection view", "key", e.Key, "err", err)
			lastErr = err
			continue
		}
		if err := s.cache.Set(e.Key, resp); err != nil {
			s.logger.Warn("failed to cache collection", "err", err)
		}

		best = max(best, resp.Pagination.Items)
		refreshed = true
		sendProgress(s.opts.Progress, variantUpdate(i+1, len(entries), fmt.Sprint(e.Key)))
	}

	if !refreshed {
		return 0, false, lastErr
	}
	return best, true, nil
}

func collectionSyncKey(username string) string {
	key, _ := stores.BuildSyncKey(stores.ScopeCollection, username)
	return key
}
