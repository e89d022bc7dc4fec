package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/dghubble/oauth1"
)

// Discogs OAuth 1.0a endpoints.
const (
	RequestTokenURL = "https://api.discogs.com/oauth/request_token"
	AuthorizeURL    = "https://www.discogs.com/oauth/authorize"
	AccessTokenURL  = "https://api.discogs.com/oauth/access_token"
)

// OAuthService performs the token exchanges with the consumer pair.
type OAuthService struct {
	consumerKey    string
	consumerSecret string
	endpoint       oauth1.Endpoint
	httpClient     *http.Client
}

// NewOAuthService returns an error when the consumer pair is missing.
func NewOAuthService(cfg shared.DiscogsConfig, client *http.Client) (*OAuthService, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, &shared.APIError{Message: "Missing OAuth credentials", Err: shared.ErrMissingCredentials}
	}
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := oauth1.Endpoint{
		RequestTokenURL: RequestTokenURL,
		AuthorizeURL:    AuthorizeURL,
		AccessTokenURL:  AccessTokenURL,
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" && base != discogsBaseURL {
		endpoint.RequestTokenURL = base + "/oauth/request_token"
		endpoint.AccessTokenURL = base + "/oauth/access_token"
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &OAuthService{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		endpoint:       endpoint,
		httpClient: &http.Client{
			Transport: &userAgentTransport{base: transport, userAgent: userAgent(cfg.UserAgentVersion)},
			Timeout:   client.Timeout,
		},
	}, nil
}

// userAgentTransport adds the User-Agent Discogs requires on token requests.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func (s *OAuthService) config(callbackURL string) *oauth1.Config {
	return &oauth1.Config{
		ConsumerKey:    s.consumerKey,
		ConsumerSecret: s.consumerSecret,
		CallbackURL:    callbackURL,
		Endpoint:       s.endpoint,
		HTTPClient:     s.httpClient,
	}
}

// RequestToken obtains a request token and the URL the user must visit to authorize it.
func (s *OAuthService) RequestToken(ctx context.Context, callbackURL string) (*models.RequestToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := s.config(callbackURL)
	token, secret, err := cfg.RequestToken()
	if err != nil {
		return nil, &shared.APIError{Message: "OAuth request token exchange failed", Err: err}
	}
	if token == "" || secret == "" {
		return nil, &shared.APIError{StatusCode: http.StatusBadRequest, Message: "Failed to obtain request token"}
	}
	authURL, err := cfg.AuthorizationURL(token)
	if err != nil {
		return nil, &shared.APIError{Message: "OAuth request token exchange failed", Err: err}
	}
	return &models.RequestToken{
		RequestToken:       token,
		RequestTokenSecret: secret,
		AuthorizeURL:       authURL.String(),
	}, nil
}

// AccessToken exchanges an authorized request token and verifier for an access pair.
func (s *OAuthService) AccessToken(ctx context.Context, requestToken, requestTokenSecret, verifier string) (*models.AuthTokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, secret, err := s.config("").AccessToken(requestToken, requestTokenSecret, verifier)
	if err != nil {
		return nil, &shared.APIError{Message: "OAuth access token exchange failed", Err: err}
	}
	tokens := &models.AuthTokens{AccessToken: token, AccessTokenSecret: secret}
	if !tokens.Valid() {
		return nil, &shared.APIError{StatusCode: http.StatusBadRequest, Message: "Failed to obtain access token"}
	}
	return tokens, nil
}
