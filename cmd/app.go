package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/desertthunder/vinyldeck/internal/auth"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/querycache"
	"github.com/desertthunder/vinyldeck/internal/ratelimit"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
	"github.com/desertthunder/vinyldeck/internal/stores"
	"github.com/desertthunder/vinyldeck/internal/tasks"
	"github.com/urfave/cli/v3"
)

// app is the wired dependency graph for commands that touch local state.
type app struct {
	config    *shared.Config
	db        *sql.DB
	durable   *storage.Durable
	prefs     *stores.PreferencesStore
	profile   *stores.ProfileStore
	auth      *stores.AuthStore
	syncState *stores.SyncStateStore
	cache     *querycache.Client
	httpCache *repositories.HTTPCacheRepository
	discogs   services.Discogs
	oauth     services.OAuth
	network   *services.NetworkMonitor
	session   *auth.Session
	sync      *tasks.CollectionSync
	progress  chan tasks.ProgressUpdate
	relay     bool
}

// open loads config, opens the database, and wires stores, caches, and services.
// The caller must Close the result.
func (r *Runner) open(ctx context.Context, cmd *cli.Command) (*app, error) {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		config:    config,
		db:        db,
		httpCache: repositories.NewHTTPCacheRepository(db),
		progress:  make(chan tasks.ProgressUpdate, 64),
	}

	a.durable, err = storage.NewDurable(repositories.NewKVRepository(db), r.logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.prefs = stores.NewPreferencesStore(a.durable, r.logger)
	a.profile = stores.NewProfileStore(a.durable, r.logger)
	a.auth = stores.NewAuthStore(a.durable, a.prefs, a.profile, r.logger)
	a.syncState = stores.NewSyncStateStore(a.durable, shared.SystemClock{}, r.logger)

	a.cache = querycache.New(
		querycache.WithPersister(repositories.NewQueryCacheRepository(db)),
		querycache.WithLogger(r.logger),
	)
	if err := a.cache.Restore(); err != nil {
		r.logger.Warn("failed to restore query cache", "err", err)
	}

	a.discogs, a.oauth, a.relay = r.services(config, a.httpCache)

	probe := config.Discogs.BaseURL
	if a.relay {
		probe = strings.TrimRight(config.Discogs.RelayURL, "/") + "/health"
	}
	a.network = services.NewNetworkMonitor(probe, nil, r.logger)

	a.session = auth.NewSession(auth.SessionDeps{
		Auth:        a.auth,
		Profile:     a.profile,
		Preferences: a.prefs,
		SyncState:   a.syncState,
		QueryCache:  a.cache,
		HTTPCache:   a.httpCache,
		Discogs:     a.discogs,
		Network:     a.network,
		Logger:      r.logger,
	})

	a.sync = tasks.NewCollectionSync(tasks.CollectionSyncDeps{
		Auth:      a.auth,
		Profile:   a.profile,
		SyncState: a.syncState,
		Cache:     a.cache,
		Discogs:   a.discogs,
		Logger:    r.logger,
	}, tasks.CollectionSyncOptions{
		PollInterval:      config.Sync.PollInterval(),
		PageBatchSize:     config.Sync.PageBatchSize,
		PerPage:           config.Sync.PerPage,
		RequestsPerSecond: config.Sync.RequestsPerSecond,
		Progress:          a.progress,
	})

	return a, nil
}

// services picks the Discogs transport: injected fakes, the relay, or direct signed calls.
func (r *Runner) services(config *shared.Config, cache services.ResponseCache) (services.Discogs, services.OAuth, bool) {
	if r.discogs != nil {
		return r.discogs, r.oauth, false
	}

	if config.Discogs.RelayURL != "" {
		client := services.NewRelayClient(config.Discogs.RelayURL, r.httpClient)
		return client, client, true
	}

	limiter := ratelimit.New(ratelimit.WithLogger(r.logger))
	discogs := services.NewDiscogsService(config.Discogs,
		services.WithHTTPClient(r.httpClient),
		services.WithLimiter(limiter),
		services.WithResponseCache(cache),
		services.WithLogger(r.logger),
	)

	oauth, err := services.NewOAuthService(config.Discogs, r.httpClient)
	if err != nil {
		r.logger.Debug("oauth unavailable", "err", err)
		return discogs, nil, false
	}
	return discogs, oauth, false
}

func (a *app) Close() {
	a.session.Close()
	a.prefs.Close()
	a.profile.Close()
	a.auth.Close()
	a.syncState.Close()
	a.db.Close()
}

func (a *app) fetchOptions() tasks.FetchOptions {
	return tasks.FetchOptions{
		PerPage:           a.config.Sync.PerPage,
		BatchSize:         a.config.Sync.PageBatchSize,
		RequestsPerSecond: a.config.Sync.RequestsPerSecond,
	}
}

// identity returns the signed-in username and tokens, hydrating the profile when it is missing.
func (a *app) identity(ctx context.Context) (string, *models.AuthTokens, error) {
	snap := a.auth.Snapshot()
	if snap.Tokens == nil {
		return "", nil, fmt.Errorf("%w: run 'vinyldeck auth login' first", shared.ErrNotAuthenticated)
	}
	if !snap.SessionActive {
		return "", nil, fmt.Errorf("%w: signed out, run 'vinyldeck auth login' to continue", shared.ErrNotAuthenticated)
	}

	if p := a.profile.Profile(); p != nil && p.Username != "" {
		return p.Username, snap.Tokens, nil
	}
	if err := a.session.ValidateOAuthTokens(ctx, nil); err != nil {
		return "", nil, err
	}
	p := a.profile.Profile()
	if p == nil || p.Username == "" {
		return "", nil, fmt.Errorf("%w: profile unavailable", shared.ErrNotAuthenticated)
	}
	return p.Username, snap.Tokens, nil
}
