package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

func TestRelayClient(t *testing.T) {
	t.Run("posts collection request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != RouteCollection || r.Method != http.MethodPost {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var body CollectionRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			if body.Username != "digger" || body.Page == nil || *body.Page != 2 || body.PerPage != nil {
				t.Errorf("unexpected body %+v", body)
			}
			if body.Tokens() == nil {
				t.Error("expected tokens in body")
			}
			writeJSON(t, w, models.CollectionResponse{Pagination: models.Pagination{Page: 2, Items: 9}})
		}))
		defer server.Close()

		client := NewRelayClient(server.URL, server.Client())
		resp, err := client.GetCollectionReleases(context.Background(), testTokens, "digger", 0, CollectionParams{Page: 2})
		if err != nil {
			t.Fatalf("failed to get releases: %v", err)
		}
		if resp.Pagination.Items != 9 {
			t.Errorf("expected 9 items, got %d", resp.Pagination.Items)
		}
	})

	t.Run("maps error envelopes", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			code   string
			check  func(error) bool
		}{
			{"auth", http.StatusUnauthorized, "AUTH_ERROR", shared.IsAuthError},
			{"rate limit", http.StatusTooManyRequests, "RATE_LIMITED", func(err error) bool {
				var rl *shared.RateLimitError
				return errors.As(err, &rl) && rl.BackoffMs == 1500
			}},
			{"server", http.StatusBadGateway, "API_ERROR", func(err error) bool { return shared.StatusCode(err) == http.StatusBadGateway }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{Code: tt.code, Message: "nope", BackoffMs: 1500}})
				}))
				defer server.Close()

				client := NewRelayClient(server.URL, server.Client())
				_, err := client.GetUserProfile(context.Background(), nil, "digger")
				if !tt.check(err) {
					t.Errorf("unexpected error %v", err)
				}
			})
		}
	})

	t.Run("identity requires tokens", func(t *testing.T) {
		client := NewRelayClient("http://unused.invalid", nil)
		if _, err := client.GetIdentity(context.Background(), nil); !shared.IsAuthError(err) {
			t.Errorf("expected auth error, got %v", err)
		}
	})

	t.Run("oauth routes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case RouteRequestToken:
				writeJSON(t, w, models.RequestToken{RequestToken: "req", RequestTokenSecret: "s", AuthorizeURL: AuthorizeURL + "?oauth_token=req"})
			case RouteAccessToken:
				writeJSON(t, w, models.AuthTokens{AccessToken: "a", AccessTokenSecret: "b"})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		client := NewRelayClient(server.URL, server.Client())
		rt, err := client.RequestToken(context.Background(), "http://localhost/cb")
		if err != nil || rt.RequestToken != "req" {
			t.Fatalf("failed to get request token: %v", err)
		}
		tokens, err := client.AccessToken(context.Background(), rt.RequestToken, rt.RequestTokenSecret, "v")
		if err != nil || !tokens.Valid() {
			t.Fatalf("failed to get access token: %v", err)
		}
	})
}

func TestTokenFields(t *testing.T) {
	if (TokenFields{AccessToken: "a"}).Tokens() != nil {
		t.Error("expected half a pair to yield nil")
	}
	if got := (TokenFields{AccessToken: "a", AccessTokenSecret: "b"}).Tokens(); got == nil || got.AccessToken != "a" {
		t.Errorf("unexpected tokens %+v", got)
	}
}
