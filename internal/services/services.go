package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Discogs is the facade over the Discogs data API. Every call accepts an optional token pair;
// without one only public data is reachable.
type Discogs interface {
	// GetIdentity returns the account the tokens belong to. It always requires tokens.
	GetIdentity(ctx context.Context, tokens *models.AuthTokens) (*models.Identity, error)

	// GetCollectionReleases lists one page of a collection folder. Folders other than 0 require tokens.
	GetCollectionReleases(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params CollectionParams) (*models.CollectionResponse, error)

	// GetUserProfile returns a public profile, including the email when the tokens belong to username.
	GetUserProfile(ctx context.Context, tokens *models.AuthTokens, username string) (*models.UserProfile, error)

	// GetCollectionMetadata returns the collection size with a single one-item request.
	GetCollectionMetadata(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error)
}

// OAuth runs the two legs of the OAuth 1.0a handshake.
type OAuth interface {
	RequestToken(ctx context.Context, callbackURL string) (*models.RequestToken, error)
	AccessToken(ctx context.Context, requestToken, requestTokenSecret, verifier string) (*models.AuthTokens, error)
}

// UserSort is a server-side collection sort field.
type UserSort string

const (
	SortLabel  UserSort = "label"
	SortArtist UserSort = "artist"
	SortTitle  UserSort = "title"
	SortCatNo  UserSort = "catno"
	SortFormat UserSort = "format"
	SortRating UserSort = "rating"
	SortAdded  UserSort = "added"
	SortYear   UserSort = "year"
)

// UserSorts lists every sort Discogs accepts.
var UserSorts = []UserSort{SortLabel, SortArtist, SortTitle, SortCatNo, SortFormat, SortRating, SortAdded, SortYear}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Collection page size bounds.
const (
	MaxPerPage     = 100
	DefaultPerPage = 50
)

// CollectionParams selects a page of a collection. Zero values are omitted from the request.
type CollectionParams struct {
	Page      int
	PerPage   int
	Sort      UserSort
	SortOrder SortOrder
}

// Validate rejects values Discogs would refuse.
func (p CollectionParams) Validate() error {
	if p.Page < 0 {
		return fmt.Errorf("%w: page must be positive", shared.ErrInvalidInput)
	}
	if p.PerPage < 0 || p.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per page must be between 1 and %d", shared.ErrInvalidInput, MaxPerPage)
	}
	if p.Sort != "" && !slices.Contains(UserSorts, p.Sort) {
		return fmt.Errorf("%w: unknown sort %q", shared.ErrInvalidInput, p.Sort)
	}
	if p.SortOrder != "" && p.SortOrder != SortAsc && p.SortOrder != SortDesc {
		return fmt.Errorf("%w: sort order must be asc or desc", shared.ErrInvalidInput)
	}
	return nil
}
