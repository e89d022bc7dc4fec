package collection

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/desertthunder/vinyldeck/internal/querycache"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// QueryScope is the first element of every collection query key.
const QueryScope = "collection"

// SortKey is a sort the collection view offers.
type SortKey string

const (
	SortArtist      SortKey = "artist"
	SortTitle       SortKey = "title"
	SortAdded       SortKey = "added"
	SortGenre       SortKey = "genre"
	SortReleaseYear SortKey = "releaseYear"
	SortLabel       SortKey = "label"
	SortFormat      SortKey = "format"
	SortRandom      SortKey = "random"
)

var sortKeys = []SortKey{SortArtist, SortTitle, SortAdded, SortGenre, SortReleaseYear, SortLabel, SortFormat, SortRandom}

// SortKeys lists every sort key.
func SortKeys() []SortKey { return append([]SortKey(nil), sortKeys...) }

// ParseSortKey validates s.
func ParseSortKey(s string) (SortKey, error) {
	for _, k := range sortKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown sort %q", shared.ErrInvalidInput, s)
}

// IsClientSort reports whether k can only be applied after every page is loaded.
func (k SortKey) IsClientSort() bool {
	return k == SortGenre || k == SortRandom
}

// ServerSort maps a view sort to the sort sent to Discogs.
// Client sorts fetch by date added, newest first.
func ServerSort(k SortKey, order services.SortOrder) (services.UserSort, services.SortOrder) {
	if k.IsClientSort() {
		return services.SortAdded, services.SortDesc
	}
	if order != services.SortAsc {
		order = services.SortDesc
	}
	switch k {
	case SortReleaseYear:
		return services.SortYear, order
	case SortLabel:
		return services.SortLabel, order
	case SortFormat:
		return services.SortFormat, order
	case SortArtist:
		return services.SortArtist, order
	case SortTitle:
		return services.SortTitle, order
	}
	return services.SortAdded, order
}

// Variant is one cached combination of collection query parameters.
type Variant struct {
	Username  string
	FetchAll  bool
	Page      int
	Sort      services.UserSort
	SortOrder services.SortOrder
}

// Key encodes v as ["collection", username, fetchAll, page|null, sort, sortOrder].
func (v Variant) Key() querycache.Key {
	return QueryKey(v.Username, v.FetchAll, v.Page, v.Sort, v.SortOrder)
}

// QueryKey builds a collection query key. page is stored as null when fetchAll is set.
func QueryKey(username string, fetchAll bool, page int, sort services.UserSort, order services.SortOrder) querycache.Key {
	var p any
	if !fetchAll {
		p = page
	}
	return querycache.Key{QueryScope, username, fetchAll, p, string(sort), string(order)}
}

// UserPrefix matches every cached variant for username.
func UserPrefix(username string) querycache.Key {
	return querycache.Key{QueryScope, username}
}

// ParseQueryKey decodes a key built by [QueryKey]. Keys restored from disk carry numbers as float64.
func ParseQueryKey(key querycache.Key) (Variant, error) {
	if len(key) != 6 {
		return Variant{}, fmt.Errorf("%w: collection key has %d elements", shared.ErrInvalidInput, len(key))
	}
	if key.Scope() != QueryScope {
		return Variant{}, fmt.Errorf("%w: not a collection key", shared.ErrInvalidInput)
	}

	var v Variant
	var ok bool
	if v.Username, ok = key[1].(string); !ok || v.Username == "" {
		return Variant{}, fmt.Errorf("%w: collection key has no username", shared.ErrInvalidInput)
	}
	if v.FetchAll, ok = key[2].(bool); !ok {
		return Variant{}, fmt.Errorf("%w: collection key fetch-all flag is not a bool", shared.ErrInvalidInput)
	}

	if !v.FetchAll {
		page, ok := intValue(key[3])
		if !ok || page < 1 {
			return Variant{}, fmt.Errorf("%w: collection key page is not a positive integer", shared.ErrInvalidInput)
		}
		v.Page = page
	}

	sort, _ := key[4].(string)
	order, _ := key[5].(string)
	v.Sort, v.SortOrder = services.UserSort(sort), services.SortOrder(order)
	if err := (services.CollectionParams{Sort: v.Sort, SortOrder: v.SortOrder}).Validate(); err != nil || sort == "" || order == "" {
		return Variant{}, fmt.Errorf("%w: collection key has invalid sort %q %q", shared.ErrInvalidInput, sort, order)
	}
	return v, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
