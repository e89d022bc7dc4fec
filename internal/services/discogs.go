package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/ratelimit"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/dghubble/oauth1"
)

const (
	discogsBaseURL = "https://api.discogs.com"

	responseCacheMaxEntries = 100
	responseCacheMaxAge     = time.Hour
)

// ResponseCache stores response bodies for offline reads.
type ResponseCache interface {
	Put(resp repositories.CachedResponse) error
	Get(cacheName, url string) (*repositories.CachedResponse, error)
	Prune(cacheName string, maxEntries int, maxAge time.Duration) (int64, error)
}

// DiscogsService implements [Discogs] by calling the Discogs API directly.
type DiscogsService struct {
	baseURL    string
	userAgent  string
	oauth      *oauth1.Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      ResponseCache
	maxEntries int
	maxAge     time.Duration
	retry      RetryOptions
	logger     *log.Logger
}

// DiscogsOption configures a [DiscogsService].
type DiscogsOption func(*DiscogsService)

// WithHTTPClient sets the underlying client. Signed requests wrap its transport.
func WithHTTPClient(c *http.Client) DiscogsOption {
	return func(s *DiscogsService) { s.httpClient = c }
}

// WithLimiter shares a limiter between services.
func WithLimiter(l *ratelimit.Limiter) DiscogsOption {
	return func(s *DiscogsService) { s.limiter = l }
}

// WithResponseCache enables the offline fallback for collection reads.
func WithResponseCache(c ResponseCache) DiscogsOption {
	return func(s *DiscogsService) { s.cache = c }
}

// WithCachePolicy bounds the response cache. Entries older than maxAge are never served.
func WithCachePolicy(maxEntries int, maxAge time.Duration) DiscogsOption {
	return func(s *DiscogsService) {
		s.maxEntries = maxEntries
		s.maxAge = maxAge
	}
}

func WithRetryOptions(o RetryOptions) DiscogsOption {
	return func(s *DiscogsService) { s.retry = o }
}

func WithLogger(l *log.Logger) DiscogsOption {
	return func(s *DiscogsService) { s.logger = l }
}

// NewDiscogsService creates a service from config. Without a consumer pair only unauthenticated
// calls succeed.
func NewDiscogsService(cfg shared.DiscogsConfig, opts ...DiscogsOption) *DiscogsService {
	s := &DiscogsService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  userAgent(cfg.UserAgentVersion),
		httpClient: http.DefaultClient,
		maxEntries: responseCacheMaxEntries,
		maxAge:     responseCacheMaxAge,
		retry:      DefaultRetryOptions(),
	}
	if s.baseURL == "" {
		s.baseURL = discogsBaseURL
	}
	if cfg.ConsumerKey != "" && cfg.ConsumerSecret != "" {
		s.oauth = oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	if s.logger == nil {
		s.logger = shared.DiscardLogger()
	}
	return s
}

func userAgent(version string) string {
	if version == "" {
		version = shared.AppVersion
	}
	return "VinylDeck/" + version
}

// client returns an HTTP client that signs requests when tokens are present.
func (s *DiscogsService) client(ctx context.Context, tokens *models.AuthTokens) (*http.Client, error) {
	if tokens == nil {
		return s.httpClient, nil
	}
	if s.oauth == nil {
		return nil, &shared.APIError{Message: "Missing OAuth credentials", Err: shared.ErrMissingCredentials}
	}
	ctx = context.WithValue(ctx, oauth1.HTTPClient, s.httpClient)
	return s.oauth.Client(ctx, oauth1.NewToken(tokens.AccessToken, tokens.AccessTokenSecret)), nil
}

// request describes a GET against the API. Only requests marked offline may be answered from
// the response cache, and only with a body fetched by the same token pair.
type request struct {
	operation string
	endpoint  string
	query     url.Values
	tokens    *models.AuthTokens
	offline   bool
}

// doRequest performs a GET with rate-limit waiting, 429 retries, and error mapping.
func (s *DiscogsService) doRequest(ctx context.Context, r request, result any) error {
	client, err := s.client(ctx, r.tokens)
	if err != nil {
		return err
	}

	apiURL := s.baseURL + r.endpoint
	if len(r.query) > 0 {
		apiURL += "?" + r.query.Encode()
	}
	key := ""
	if r.offline && s.cache != nil {
		key = cacheKey(apiURL, r.tokens)
	}

	err = WithRateLimitRetry(ctx, s.retry, func() error {
		return s.fetch(ctx, client, apiURL, key, result)
	})
	return mapError(r.operation, r.tokens != nil, err)
}

// cacheKey scopes a cached response to the token pair that fetched it.
func cacheKey(apiURL string, tokens *models.AuthTokens) string {
	owner := "anonymous"
	if tokens != nil {
		sum := sha256.Sum256([]byte(tokens.AccessToken + "&" + tokens.AccessTokenSecret))
		owner = hex.EncodeToString(sum[:8])
	}
	return apiURL + "#" + owner
}

// fetch performs one attempt. A non-empty key stores the body on success and serves it when
// the request fails in transit.
func (s *DiscogsService) fetch(ctx context.Context, client *http.Client, apiURL, key string, result any) error {
	if err := s.limiter.WaitIfNeeded(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if key != "" && s.fromCache(key, result) {
			s.logger.Warn("serving cached response", "url", apiURL, "err", err)
			return nil
		}
		return &shared.APIError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	s.limiter.UpdateFromHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &shared.APIError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &shared.APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return &shared.APIError{StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
		}
	}

	if key != "" {
		s.store(key, body, resp.Header.Get("Content-Type"))
	}
	return nil
}

func (s *DiscogsService) store(key string, body []byte, contentType string) {
	err := s.cache.Put(repositories.CachedResponse{
		CacheName:   shared.DiscogsAPICache,
		URL:         key,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Warn("failed to cache response", "err", err)
		return
	}
	if _, err := s.cache.Prune(shared.DiscogsAPICache, s.maxEntries, s.maxAge); err != nil {
		s.logger.Warn("failed to prune response cache", "err", err)
	}
}

func (s *DiscogsService) fromCache(key string, result any) bool {
	cached, err := s.cache.Get(shared.DiscogsAPICache, key)
	if err != nil {
		return false
	}
	if s.maxAge > 0 && time.Since(cached.StoredAt) > s.maxAge {
		return false
	}
	if result != nil {
		if err := json.Unmarshal(cached.Body, result); err != nil {
			return false
		}
	}
	return true
}

// errorMessage prefers the "message" field Discogs puts in error bodies.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return fallback
}

// mapError converts transport and status failures into the shared taxonomy.
func mapError(operation string, authenticated bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isRateLimitError(err) {
		return err
	}

	var authErr *shared.AuthError
	if errors.As(err, &authErr) {
		return err
	}

	status := shared.StatusCode(err)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		msg := "Resource is private or requires owner authentication"
		if authenticated {
			msg = "Discogs authorization failed (token may be invalid, expired, or lacks access)"
		}
		return &shared.AuthError{StatusCode: status, Message: msg, Err: err}
	}

	return &shared.APIError{StatusCode: status, Message: operation + " failed", Err: err}
}

func (s *DiscogsService) GetIdentity(ctx context.Context, tokens *models.AuthTokens) (*models.Identity, error) {
	if tokens == nil {
		return nil, &shared.AuthError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Authentication required for getIdentity",
			Err:        shared.ErrNotAuthenticated,
		}
	}
	var identity models.Identity
	if err := s.doRequest(ctx, request{operation: "getIdentity", endpoint: "/oauth/identity", tokens: tokens}, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *DiscogsService) GetCollectionReleases(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params CollectionParams) (*models.CollectionResponse, error) {
	if tokens == nil && folderID != 0 {
		return nil, &shared.AuthError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Authentication required for non-zero collection folders",
			Err:        shared.ErrNotAuthenticated,
		}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(params.PerPage))
	}
	if params.Sort != "" {
		query.Set("sort", string(params.Sort))
		if params.SortOrder != "" {
			query.Set("sort_order", string(params.SortOrder))
		}
	}

	endpoint := fmt.Sprintf("/users/%s/collection/folders/%d/releases", url.PathEscape(username), folderID)
	var resp models.CollectionResponse
	if err := s.doRequest(ctx, request{
		operation: "getCollectionReleases",
		endpoint:  endpoint,
		query:     query,
		tokens:    tokens,
		offline:   true,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *DiscogsService) GetUserProfile(ctx context.Context, tokens *models.AuthTokens, username string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.doRequest(ctx, request{operation: "getUserProfile", endpoint: "/users/" + url.PathEscape(username), tokens: tokens}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *DiscogsService) GetCollectionMetadata(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error) {
	query := url.Values{"page": {"1"}, "per_page": {"1"}}
	endpoint := fmt.Sprintf("/users/%s/collection/folders/0/releases", url.PathEscape(username))

	var resp models.CollectionResponse
	if err := s.doRequest(ctx, request{
		operation: "getCollectionMetadata",
		endpoint:  endpoint,
		query:     query,
		tokens:    tokens,
		offline:   true,
	}, &resp); err != nil {
		return nil, err
	}
	return &models.CollectionMetadata{TotalCount: resp.Pagination.Items}, nil
}
