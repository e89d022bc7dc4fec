// Package discogstest provides a scriptable Discogs facade and collection fixtures for tests.
package discogstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/services"
)

// Fake is a test double for [services.Discogs] and [services.OAuth].
// Unset funcs return an error; every call is counted by method name.
type Fake struct {
	IdentityFn     func(ctx context.Context, tokens *models.AuthTokens) (*models.Identity, error)
	CollectionFn   func(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params services.CollectionParams) (*models.CollectionResponse, error)
	ProfileFn      func(ctx context.Context, tokens *models.AuthTokens, username string) (*models.UserProfile, error)
	MetadataFn     func(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error)
	RequestTokenFn func(ctx context.Context, callbackURL string) (*models.RequestToken, error)
	AccessTokenFn  func(ctx context.Context, requestToken, requestTokenSecret, verifier string) (*models.AuthTokens, error)

	mu    sync.Mutex
	calls map[string]int
}

var (
	_ services.Discogs = (*Fake)(nil)
	_ services.OAuth   = (*Fake)(nil)
)

var errUnconfigured = errors.New("fake discogs: method not configured")

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// Calls returns how many times the named method was called.
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Fake) GetIdentity(ctx context.Context, tokens *models.AuthTokens) (*models.Identity, error) {
	f.record("GetIdentity")
	if f.IdentityFn == nil {
		return nil, errUnconfigured
	}
	return f.IdentityFn(ctx, tokens)
}

func (f *Fake) GetCollectionReleases(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params services.CollectionParams) (*models.CollectionResponse, error) {
	f.record("GetCollectionReleases")
	if f.CollectionFn == nil {
		return nil, errUnconfigured
	}
	return f.CollectionFn(ctx, tokens, username, folderID, params)
}

func (f *Fake) GetUserProfile(ctx context.Context, tokens *models.AuthTokens, username string) (*models.UserProfile, error) {
	f.record("GetUserProfile")
	if f.ProfileFn == nil {
		return nil, errUnconfigured
	}
	return f.ProfileFn(ctx, tokens, username)
}

func (f *Fake) GetCollectionMetadata(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error) {
	f.record("GetCollectionMetadata")
	if f.MetadataFn == nil {
		return nil, errUnconfigured
	}
	return f.MetadataFn(ctx, tokens, username)
}

func (f *Fake) RequestToken(ctx context.Context, callbackURL string) (*models.RequestToken, error) {
	f.record("RequestToken")
	if f.RequestTokenFn == nil {
		return nil, errUnconfigured
	}
	return f.RequestTokenFn(ctx, callbackURL)
}

func (f *Fake) AccessToken(ctx context.Context, requestToken, requestTokenSecret, verifier string) (*models.AuthTokens, error) {
	f.record("AccessToken")
	if f.AccessTokenFn == nil {
		return nil, errUnconfigured
	}
	return f.AccessTokenFn(ctx, requestToken, requestTokenSecret, verifier)
}

// Releases builds n vinyl releases with ids starting at 1.
func Releases(n int) []models.CollectionRelease {
	out := make([]models.CollectionRelease, n)
	for i := range out {
		id := i + 1
		out[i] = models.CollectionRelease{
			ID:         id,
			InstanceID: 1000 + id,
			BasicInformation: models.BasicInformation{
				ID:      id,
				Title:   fmt.Sprintf("Record %d", id),
				Year:    1970 + id%30,
				Formats: []models.Format{{Name: "Vinyl", Qty: "1", Descriptions: []string{"LP", `12"`}}},
				Artists: []models.Artist{{Name: fmt.Sprintf("Artist %d", id)}},
				Labels:  []models.Label{{Name: "Label"}},
				Genres:  []string{"Rock"},
			},
		}
	}
	return out
}

// CollectionPage slices all into one Discogs page.
func CollectionPage(all []models.CollectionRelease, page, perPage int) *models.CollectionResponse {
	if perPage <= 0 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	pages := max(1, (len(all)+perPage-1)/perPage)
	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	return &models.CollectionResponse{
		Pagination: models.Pagination{Page: page, Pages: pages, PerPage: perPage, Items: len(all)},
		Releases:   append([]models.CollectionRelease(nil), all[start:end]...),
	}
}
