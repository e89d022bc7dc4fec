package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/vinyldeck/internal/collection"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultPageBatchSize is the number of pages fetched concurrently when loading a whole collection.
const DefaultPageBatchSize = 3

// FetchOptions tunes [FetchCollection].
type FetchOptions struct {
	PerPage           int     // Page size (default: shared.CollectionPerPage)
	BatchSize         int     // Pages fetched concurrently (default: 3)
	RequestsPerSecond float64 // Pacing across page requests; zero disables it
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.PerPage <= 0 {
		o.PerPage = shared.CollectionPerPage
	}
	if o.PerPage > services.MaxPerPage {
		o.PerPage = services.MaxPerPage
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultPageBatchSize
	}
	return o
}

// FetchCollection loads the data for one query variant.
//
// A single-page variant is one request. A fetch-all variant loads page 1, then the remaining
// pages in batches of BatchSize run concurrently, and returns page 1's pagination with every
// release appended in page order.
func FetchCollection(
	ctx context.Context,
	d services.Discogs,
	tokens *models.AuthTokens,
	v collection.Variant,
	opts FetchOptions,
	prog chan<- ProgressUpdate,
) (*models.CollectionResponse, error) {
	if v.Username == "" || tokens == nil {
		return nil, fmt.Errorf("%w: username and OAuth tokens are required", shared.ErrNotAuthenticated)
	}
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, opts.BatchSize)

	fetchPage := func(ctx context.Context, page int) (*models.CollectionResponse, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return d.GetCollectionReleases(ctx, tokens, v.Username, 0, services.CollectionParams{
			Page:      page,
			PerPage:   opts.PerPage,
			Sort:      v.Sort,
			SortOrder: v.SortOrder,
		})
	}

	if !v.FetchAll {
		return fetchPage(ctx, max(1, v.Page))
	}

	first, err := fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	totalPages := first.Pagination.Pages
	sendProgress(prog, pageUpdate(1, max(1, totalPages)))
	if totalPages <= 1 {
		return first, nil
	}

	releases := append([]models.CollectionRelease(nil), first.Releases...)
	for start := 2; start <= totalPages; start += opts.BatchSize {
		end := min(start+opts.BatchSize-1, totalPages)
		pages := make([]*models.CollectionResponse, end-start+1)

		g, gctx := errgroup.WithContext(ctx)
		for i := range pages {
			page := start + i
			g.Go(func() error {
				resp, err := fetchPage(gctx, page)
				if err != nil {
					return fmt.Errorf("failed to fetch page %d: %w", page, err)
				}
				pages[i] = resp
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, resp := range pages {
			releases = append(releases, resp.Releases...)
		}
		sendProgress(prog, pageUpdate(end, totalPages))
	}

	out := *first
	out.Releases = releases
	return &out, nil
}
