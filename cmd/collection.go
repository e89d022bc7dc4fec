package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/vinyldeck/internal/collection"
	"github.com/desertthunder/vinyldeck/internal/formatter"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/stores"
	"github.com/desertthunder/vinyldeck/internal/tasks"
	"github.com/urfave/cli/v3"
)

// viewOptions builds collection view options from list flags.
func viewOptions(cmd *cli.Command) (collection.Options, error) {
	opts := collection.DefaultOptions()
	opts.Page = max(1, cmd.Int("page"))

	sort, err := collection.ParseSortKey(cmd.String("sort"))
	if err != nil {
		return opts, err
	}
	opts.Sort = sort

	switch order := services.SortOrder(strings.ToLower(cmd.String("order"))); order {
	case services.SortAsc, services.SortDesc:
		opts.SortOrder = order
	default:
		return opts, fmt.Errorf("%w: order must be asc or desc", shared.ErrInvalidInput)
	}

	opts.Search = cmd.String("search")
	opts.Seed = uint32(cmd.Uint("seed"))
	opts.Filters = collection.Filters{
		Genres: cmd.StringSlice("genre"),
		Styles: cmd.StringSlice("style"),
		Labels: cmd.StringSlice("label"),
		Types:  cmd.StringSlice("type"),
		Sizes:  cmd.StringSlice("size"),
	}
	if minYear, maxYear := cmd.Int("year-min"), cmd.Int("year-max"); minYear > 0 || maxYear > 0 {
		if maxYear == 0 {
			maxYear = 9999
		}
		if minYear > maxYear {
			return opts, fmt.Errorf("%w: year-min is after year-max", shared.ErrInvalidInput)
		}
		opts.Filters.YearRange = &collection.YearRange{Min: minYear, Max: maxYear}
	}
	return opts, nil
}

// drainProgress logs progress updates until the returned stop function is called.
func (r *Runner) drainProgress(progress <-chan tasks.ProgressUpdate) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case u := <-progress:
				r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// loadVariant returns cached data for v, fetching it when missing, stale, or fresh is set.
func (r *Runner) loadVariant(ctx context.Context, a *app, tokens *models.AuthTokens, v collection.Variant, fresh bool) (*models.CollectionResponse, error) {
	key := v.Key()
	var cached models.CollectionResponse
	found, err := a.cache.Decode(key, &cached)
	if err != nil {
		r.logger.Warn("ignoring unreadable cached collection", "err", err)
		found = false
	}

	if found && !fresh && !a.cache.IsStale(key) {
		r.logger.Debug("using cached collection", "key", key)
		return &cached, nil
	}

	resp, err := tasks.FetchCollection(ctx, a.discogs, tokens, v, a.fetchOptions(), a.progress)
	if err != nil {
		if found {
			r.logger.Warn("fetch failed, showing cached collection", "err", err)
			return &cached, nil
		}
		return nil, err
	}
	if err := a.cache.Set(key, resp); err != nil {
		r.logger.Warn("failed to cache collection", "err", err)
	}
	return resp, nil
}

// CollectionList renders one page of the vinyl collection.
func (r *Runner) CollectionList(ctx context.Context, cmd *cli.Command) error {
	opts, err := viewOptions(cmd)
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	username, tokens, err := a.identity(ctx)
	if err != nil {
		return err
	}

	stop := r.drainProgress(a.progress)
	resp, err := r.loadVariant(ctx, a, tokens, opts.Variant(username), cmd.Bool("fresh"))
	stop()
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	view := collection.Build(resp, opts)
	title := fmt.Sprintf("%s's vinyl (page %d of %d)", username, view.Pagination.Page, view.Pagination.Pages)
	data, err := formatter.Render(view.Releases, format, title)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		r.logger.Info("collection written", "path", path, "releases", len(view.Releases))
		return nil
	}

	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if format == formatter.FormatTable {
		r.writePlain("\n%d vinyl · page %d/%d", view.VinylCount, view.Pagination.Page, view.Pagination.Pages)
		if view.NonVinylCount > 0 {
			r.writePlain(" · %d non-vinyl hidden", view.NonVinylCount)
		}
		if view.ActiveFilterCount > 0 {
			r.writePlain(" · %d filter(s)", view.ActiveFilterCount)
		}
		r.writePlain("\n")
	}
	return nil
}

type collectionCount struct {
	Username string                       `json:"username"`
	Total    int                          `json:"total"`
	Pending  *tasks.SyncPendingDescriptor `json:"pending,omitempty"`
}

// CollectionCount polls the collection size and reports changes since the last refresh.
func (r *Runner) CollectionCount(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	username, _, err := a.identity(ctx)
	if err != nil {
		return err
	}

	key := tasks.MetadataKey(username)
	a.cache.Invalidate(key)
	if err := a.sync.Poll(ctx); err != nil {
		return fmt.Errorf("failed to get collection size: %w", err)
	}
	var meta models.CollectionMetadata
	if found, err := a.cache.Decode(key, &meta); err != nil || !found {
		return fmt.Errorf("%w: collection size unavailable", shared.ErrAPIRequest)
	}

	out := collectionCount{Username: username, Total: meta.TotalCount, Pending: a.sync.Descriptor()}
	if cmd.Bool("json") {
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	r.writePlain("%s has %d item(s) in their collection\n", username, out.Total)
	if out.Pending != nil {
		r.writePlain("%s\n", out.Pending.Message)
	}
	return nil
}

// CollectionRefresh re-fetches cached views and acknowledges the current collection size.
func (r *Runner) CollectionRefresh(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	username, _, err := a.identity(ctx)
	if err != nil {
		return err
	}

	stop := r.drainProgress(a.progress)
	if cmd.Bool("hard") {
		target := collection.DefaultOptions().Variant(username)
		err = a.sync.HardRefresh(ctx, &target)
	} else {
		err = a.sync.RefreshCollection(ctx)
	}
	stop()
	if err != nil {
		return err
	}

	key, _ := stores.BuildSyncKey(stores.ScopeCollection, username)
	if e, ok := a.syncState.Entry(key); ok {
		return r.writePlain("✓ Collection refreshed (%d items)\n", e.BaselineCount)
	}
	return r.writePlain("✓ Collection refreshed\n")
}
