package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Relay routes.
const (
	RouteRequestToken = "/oauth/request-token"
	RouteAccessToken  = "/oauth/access-token"
	RouteIdentity     = "/discogs/identity"
	RouteCollection   = "/discogs/collection"
	RouteProfile      = "/discogs/profile"
	RouteMetadata     = "/discogs/metadata"
)

// TokenFields carries an optional token pair in relay request bodies.
type TokenFields struct {
	AccessToken       string `json:"accessToken,omitempty"`
	AccessTokenSecret string `json:"accessTokenSecret,omitempty"`
}

// Tokens returns the pair, or nil unless both halves are present.
func (f TokenFields) Tokens() *models.AuthTokens {
	t := &models.AuthTokens{AccessToken: f.AccessToken, AccessTokenSecret: f.AccessTokenSecret}
	if !t.Valid() {
		return nil
	}
	return t
}

func tokenFields(t *models.AuthTokens) TokenFields {
	if t == nil {
		return TokenFields{}
	}
	return TokenFields{AccessToken: t.AccessToken, AccessTokenSecret: t.AccessTokenSecret}
}

type RequestTokenRequest struct {
	CallbackURL string `json:"callbackUrl"`
}

type AccessTokenRequest struct {
	RequestToken       string `json:"requestToken"`
	RequestTokenSecret string `json:"requestTokenSecret"`
	Verifier           string `json:"verifier"`
}

type IdentityRequest struct {
	TokenFields
}

type CollectionRequest struct {
	TokenFields
	Username  string    `json:"username"`
	FolderID  *int      `json:"folderId,omitempty"`
	Page      *int      `json:"page,omitempty"`
	PerPage   *int      `json:"perPage,omitempty"`
	Sort      UserSort  `json:"sort,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

type UserRequest struct {
	TokenFields
	Username string `json:"username"`
}

// ErrorBody is the relay's error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	BackoffMs int64  `json:"backoffMs,omitempty"`
}

// RelayClient implements [Discogs] and [OAuth] against the relay server.
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRelayClient(baseURL string, client *http.Client) *RelayClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// post sends body as JSON and decodes a 2xx response into result.
func (r *RelayClient) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &shared.APIError{Message: "relay request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &shared.APIError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return relayError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &shared.APIError{StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return nil
}

func relayError(status int, raw []byte) error {
	var body ErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &shared.AuthError{StatusCode: status, Message: msg}
	case http.StatusTooManyRequests:
		return &shared.RateLimitError{BackoffMs: body.Error.BackoffMs}
	}
	return &shared.APIError{StatusCode: status, Message: msg}
}

func (r *RelayClient) GetIdentity(ctx context.Context, tokens *models.AuthTokens) (*models.Identity, error) {
	if tokens == nil {
		return nil, &shared.AuthError{StatusCode: http.StatusUnauthorized, Message: "Authentication required for getIdentity"}
	}
	var identity models.Identity
	if err := r.post(ctx, RouteIdentity, IdentityRequest{TokenFields: tokenFields(tokens)}, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *RelayClient) GetCollectionReleases(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params CollectionParams) (*models.CollectionResponse, error) {
	body := CollectionRequest{
		TokenFields: tokenFields(tokens),
		Username:    username,
		FolderID:    &folderID,
		Sort:        params.Sort,
		SortOrder:   params.SortOrder,
	}
	if params.Page > 0 {
		body.Page = &params.Page
	}
	if params.PerPage > 0 {
		body.PerPage = &params.PerPage
	}

	var resp models.CollectionResponse
	if err := r.post(ctx, RouteCollection, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *RelayClient) GetUserProfile(ctx context.Context, tokens *models.AuthTokens, username string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := r.post(ctx, RouteProfile, UserRequest{TokenFields: tokenFields(tokens), Username: username}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *RelayClient) GetCollectionMetadata(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error) {
	var meta models.CollectionMetadata
	if err := r.post(ctx, RouteMetadata, UserRequest{TokenFields: tokenFields(tokens), Username: username}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *RelayClient) RequestToken(ctx context.Context, callbackURL string) (*models.RequestToken, error) {
	var token models.RequestToken
	if err := r.post(ctx, RouteRequestToken, RequestTokenRequest{CallbackURL: callbackURL}, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *RelayClient) AccessToken(ctx context.Context, requestToken, requestTokenSecret, verifier string) (*models.AuthTokens, error) {
	body := AccessTokenRequest{RequestToken: requestToken, RequestTokenSecret: requestTokenSecret, Verifier: verifier}
	var tokens models.AuthTokens
	if err := r.post(ctx, RouteAccessToken, body, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}
