package models

import "strings"

// AuthTokens is the OAuth 1.0a access token pair issued by Discogs.
type AuthTokens struct {
	AccessToken       string `json:"accessToken"`
	AccessTokenSecret string `json:"accessTokenSecret"`
}

// Valid reports whether both halves of the pair are present.
func (t *AuthTokens) Valid() bool {
	return t != nil && t.AccessToken != "" && t.AccessTokenSecret != ""
}

// Equal compares two token pairs, treating nil as a distinct value.
func (t *AuthTokens) Equal(o *AuthTokens) bool {
	if t == nil || o == nil {
		return t == nil && o == nil
	}
	return t.AccessToken == o.AccessToken && t.AccessTokenSecret == o.AccessTokenSecret
}

// RequestToken is returned by the first leg of the OAuth handshake.
type RequestToken struct {
	RequestToken       string `json:"requestToken"`
	RequestTokenSecret string `json:"requestTokenSecret"`
	AuthorizeURL       string `json:"authorizeUrl"`
}

// Identity is the response from GET /oauth/identity. It never includes an email.
type Identity struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	ResourceURL  string `json:"resource_url"`
	ConsumerName string `json:"consumer_name,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// UserProfile is the response from GET /users/{username}.
// Email is only visible when authenticated as the requested user.
type UserProfile struct {
	ID            int     `json:"id"`
	Username      string  `json:"username"`
	ResourceURL   string  `json:"resource_url"`
	Name          string  `json:"name,omitempty"`
	Location      string  `json:"location,omitempty"`
	Registered    string  `json:"registered,omitempty"`
	NumCollection int     `json:"num_collection,omitempty"`
	NumWantlist   int     `json:"num_wantlist,omitempty"`
	RatingAvg     float64 `json:"rating_avg,omitempty"`
	AvatarURL     string  `json:"avatar_url,omitempty"`
	BannerURL     string  `json:"banner_url,omitempty"`
	Email         string  `json:"email,omitempty"`
}

// CachedProfile is the identity kept across restarts.
type CachedProfile struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Artist credits an artist on a release.
type Artist struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	ANV  string `json:"anv,omitempty"`
	Join string `json:"join,omitempty"`
	Role string `json:"role,omitempty"`
}

// Label is a release label with its catalog number.
type Label struct {
	ID    int    `json:"id,omitempty"`
	Name  string `json:"name"`
	CatNo string `json:"catno"`
}

// Format describes a physical format, e.g. Vinyl with descriptions ["LP", "12\"", "Album"].
type Format struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Text         string   `json:"text,omitempty"`
	Descriptions []string `json:"descriptions,omitempty"`
}

// BasicInformation is the list-friendly summary of a release.
type BasicInformation struct {
	ID         int      `json:"id"`
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Thumb      string   `json:"thumb"`
	CoverImage string   `json:"cover_image"`
	Formats    []Format `json:"formats"`
	Labels     []Label  `json:"labels"`
	Artists    []Artist `json:"artists"`
	Genres     []string `json:"genres"`
	Styles     []string `json:"styles"`
	Country    string   `json:"country,omitempty"`
	MasterID   int      `json:"master_id,omitempty"`
}

// ArtistNames joins artist credits, stripping Discogs disambiguation suffixes like " (2)".
func (b BasicInformation) ArtistNames() string {
	var sb strings.Builder
	for i, a := range b.Artists {
		name := a.Name
		if idx := strings.LastIndex(name, " ("); idx > 0 && strings.HasSuffix(name, ")") {
			name = name[:idx]
		}
		sb.WriteString(name)
		if i < len(b.Artists)-1 {
			join := a.Join
			switch {
			case join == "" || join == ",":
				sb.WriteString(", ")
			default:
				sb.WriteString(" " + join + " ")
			}
		}
	}
	return sb.String()
}

// CollectionRelease is one item of a user's collection folder.
type CollectionRelease struct {
	ID               int              `json:"id"`
	InstanceID       int              `json:"instance_id"`
	DateAdded        string           `json:"date_added"`
	Rating           int              `json:"rating"`
	FolderID         int              `json:"folder_id,omitempty"`
	BasicInformation BasicInformation `json:"basic_information"`
}

// Pagination is the Discogs pagination envelope.
type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Items   int `json:"items"`
}

// CollectionResponse is one page of collection releases.
type CollectionResponse struct {
	Pagination Pagination          `json:"pagination"`
	Releases   []CollectionRelease `json:"releases"`
}

// CollectionMetadata carries only the total item count, for cheap change detection.
type CollectionMetadata struct {
	TotalCount int `json:"totalCount"`
}
