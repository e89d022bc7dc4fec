package collection

import (
	"strings"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Options describe one view of the collection.
type Options struct {
	Page      int
	PerPage   int
	Sort      SortKey
	SortOrder services.SortOrder
	Search    string
	Filters   Filters
	Seed      uint32
}

// DefaultOptions shows the newest additions first.
func DefaultOptions() Options {
	return Options{Page: 1, PerPage: shared.CollectionPerPage, Sort: SortAdded, SortOrder: services.SortDesc}
}

// ShouldFetchAllPages reports whether the view needs the whole collection in memory.
func ShouldFetchAllPages(o Options) bool {
	return o.Sort.IsClientSort() || strings.TrimSpace(o.Search) != "" || o.Filters.Active()
}

// Variant returns the cached query variant that backs this view.
func (o Options) Variant(username string) Variant {
	sort, order := ServerSort(o.Sort, o.SortOrder)
	fetchAll := ShouldFetchAllPages(o)
	v := Variant{Username: username, FetchAll: fetchAll, Sort: sort, SortOrder: order}
	if !fetchAll {
		v.Page = max(1, o.Page)
	}
	return v
}

// PageInfo describes the page being shown.
type PageInfo struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	PerPage int `json:"perPage"`
}

// Paginate slices items to page, clamping page into range.
func Paginate[T any](items []T, page, perPage int) ([]T, PageInfo) {
	if perPage <= 0 {
		perPage = shared.CollectionPerPage
	}
	pages := max(1, (len(items)+perPage-1)/perPage)
	page = min(max(1, page), pages)
	start := min((page-1)*perPage, len(items))
	end := min(start+perPage, len(items))
	return items[start:end], PageInfo{Page: page, Pages: pages, Total: len(items), PerPage: perPage}
}

// View is the result of applying [Options] to fetched data.
type View struct {
	Releases          []models.CollectionRelease `json:"releases"`
	VinylCount        int                        `json:"vinylCount"`
	Pagination        PageInfo                   `json:"pagination"`
	Facets            Facets                     `json:"facets"`
	YearRange         *YearRange                 `json:"yearRange,omitempty"`
	ActiveFilterCount int                        `json:"activeFilterCount"`
	NonVinylCount     int                        `json:"nonVinylCount"`
	NonVinylBreakdown []BreakdownItem            `json:"nonVinylBreakdown"`
	Complete          bool                       `json:"complete"`
}

// Build applies search, filters, sort, and pagination to resp, which must be the data cached
// for o's variant.
func Build(resp *models.CollectionResponse, o Options) View {
	if resp == nil {
		resp = &models.CollectionResponse{}
	}
	fetchAll := ShouldFetchAllPages(o)
	vinyl := VinylOnly(resp.Releases)
	facets := BuildFacets(vinyl, o.Filters)
	years := ClampYearRange(o.Filters.YearRange, facets.YearBounds)

	filtered := Apply(Search(vinyl, o.Search), o.Filters, years)
	switch o.Sort {
	case SortGenre:
		filtered = SortByGenre(filtered, o.SortOrder)
	case SortRandom:
		filtered = Shuffle(filtered, o.Seed)
	}

	v := View{
		VinylCount: len(vinyl),
		Facets:     facets,
		YearRange:  years,
		Complete:   fetchAll || resp.Pagination.Pages <= 1,
	}
	v.NonVinylCount, v.NonVinylBreakdown = NonVinylBreakdown(resp.Releases)

	yearActive := YearRangeActive(years, facets.YearBounds)
	f := o.Filters
	v.ActiveFilterCount = len(f.Genres) + len(f.Styles) + len(f.Labels) + len(f.Types) + len(f.Sizes)
	if yearActive {
		v.ActiveFilterCount++
	}

	if fetchAll {
		perPage := resp.Pagination.PerPage
		if perPage <= 0 {
			perPage = o.PerPage
		}
		v.Releases, v.Pagination = Paginate(filtered, o.Page, perPage)
		return v
	}

	total := resp.Pagination.Items
	if resp.Pagination.Pages <= 1 {
		total = len(vinyl)
	}
	v.Releases = filtered
	v.Pagination = PageInfo{
		Page:    resp.Pagination.Page,
		Pages:   resp.Pagination.Pages,
		Total:   total,
		PerPage: resp.Pagination.PerPage,
	}
	return v
}
