package tasks

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/stores"
)

// ScopeCache clears every cached query belonging to a scope.
type ScopeCache interface {
	ClearScope(scope string) error
}

// ScopeRefreshSpec supplies the data callbacks for one scope.
//
// RefreshCachedData returns ok=false when nothing was cached to refresh. HydrateIfMissing is
// optional and only called when RefreshOptions.HydrateTarget is set.
type ScopeRefreshSpec struct {
	Scope               stores.Scope
	Identity            string
	CachedBaselineCount func() (count int, ok bool)
	RefreshCachedData   func(ctx context.Context) (count int, ok bool, err error)
	FetchLiveCount      func(ctx context.Context) (int, error)
	HydrateIfMissing    func(ctx context.Context, target any) (count int, ok bool, err error)
}

// RefreshOptions modify one refresh.
type RefreshOptions struct {
	ClearCache    bool // Drop the scope's cached queries first
	HydrateTarget any  // Seeds the cache when nothing was cached
}

// ScopeRefresher runs refresh cycles for any sync scope and reconciles the sync-state store.
type ScopeRefresher struct {
	sync   *stores.SyncStateStore
	cache  ScopeCache
	logger *log.Logger
}

func NewScopeRefresher(sync *stores.SyncStateStore, cache ScopeCache, logger *log.Logger) *ScopeRefresher {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &ScopeRefresher{sync: sync, cache: cache, logger: logger}
}

// Refresh re-fetches a scope's data and sets its baseline to the resulting count.
//
// An empty identity is a no-op. Errors from the callbacks clear the refreshing flag and are
// returned unchanged. Overlapping calls for one scope are not guarded.
func (r *ScopeRefresher) Refresh(ctx context.Context, spec ScopeRefreshSpec, opts RefreshOptions) error {
	key, ok := stores.BuildSyncKey(spec.Scope, spec.Identity)
	if !ok {
		return nil
	}

	if _, exists := r.sync.Entry(key); !exists {
		cached := 0
		if spec.CachedBaselineCount != nil {
			if n, ok := spec.CachedBaselineCount(); ok {
				cached = n
			}
		}
		r.sync.UpsertFromMetadata(stores.UpsertInput{
			Key:           key,
			Scope:         spec.Scope,
			LiveCount:     cached,
			BaselineCount: &cached,
		})
	}

	r.sync.SetRefreshing(key, true)

	count, err := r.resolveCount(ctx, spec, opts)
	if err != nil {
		r.sync.SetRefreshing(key, false)
		return err
	}

	r.sync.UpsertFromMetadata(stores.UpsertInput{
		Key:           key,
		Scope:         spec.Scope,
		LiveCount:     count,
		BaselineCount: &count,
	})
	r.sync.AcknowledgeBaseline(stores.AcknowledgeInput{Key: key, BaselineCount: &count})
	r.logger.Debug("scope refreshed", "key", key, "count", count)
	return nil
}

func (r *ScopeRefresher) resolveCount(ctx context.Context, spec ScopeRefreshSpec, opts RefreshOptions) (int, error) {
	if opts.ClearCache && r.cache != nil {
		if err := r.cache.ClearScope(string(spec.Scope)); err != nil {
			return 0, err
		}
	}

	count, ok, err := spec.RefreshCachedData(ctx)
	if err != nil {
		return 0, err
	}

	if !ok && opts.HydrateTarget != nil && spec.HydrateIfMissing != nil {
		if count, ok, err = spec.HydrateIfMissing(ctx, opts.HydrateTarget); err != nil {
			return 0, err
		}
	}

	if !ok {
		return spec.FetchLiveCount(ctx)
	}
	return count, nil
}
