package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/ratelimit"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/shared"
	tu "github.com/desertthunder/vinyldeck/internal/testing"
)

var testTokens = &models.AuthTokens{AccessToken: "token", AccessTokenSecret: "secret"}

func testConfig(baseURL string) shared.DiscogsConfig {
	return shared.DiscogsConfig{
		ConsumerKey:      "key",
		ConsumerSecret:   "consumer-secret",
		BaseURL:          baseURL,
		UserAgentVersion: "9.9.9",
	}
}

func fastRetry() DiscogsOption {
	return WithRetryOptions(RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}

func TestDiscogsService(t *testing.T) {
	t.Run("GetIdentity", func(t *testing.T) {
		t.Run("requires tokens", func(t *testing.T) {
			srv := NewDiscogsService(testConfig("http://unused.invalid"))
			_, err := srv.GetIdentity(context.Background(), nil)
			if !shared.IsAuthError(err) {
				t.Errorf("expected auth error, got %v", err)
			}
		})

		t.Run("signs requests", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/oauth/identity" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.Header.Get("User-Agent"); got != "VinylDeck/9.9.9" {
					t.Errorf("expected VinylDeck user agent, got %q", got)
				}
				if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "OAuth ") || !strings.Contains(auth, `oauth_token="token"`) {
					t.Errorf("expected OAuth authorization header, got %q", auth)
				}
				writeJSON(t, w, models.Identity{ID: 1, Username: "digger"})
			}))
			defer server.Close()

			srv := NewDiscogsService(testConfig(server.URL))
			identity, err := srv.GetIdentity(context.Background(), testTokens)
			if err != nil {
				t.Fatalf("failed to get identity: %v", err)
			}
			if identity.Username != "digger" {
				t.Errorf("expected digger, got %s", identity.Username)
			}
		})

		t.Run("missing consumer credentials", func(t *testing.T) {
			srv := NewDiscogsService(shared.DiscogsConfig{BaseURL: "http://unused.invalid"})
			_, err := srv.GetIdentity(context.Background(), testTokens)
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected missing credentials, got %v", err)
			}
		})
	})

	t.Run("GetCollectionReleases", func(t *testing.T) {
		t.Run("non-zero folder requires tokens", func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
			defer server.Close()

			srv := NewDiscogsService(testConfig(server.URL))
			_, err := srv.GetCollectionReleases(context.Background(), nil, "digger", 3, CollectionParams{})
			if !shared.IsAuthError(err) {
				t.Errorf("expected auth error, got %v", err)
			}
			if hits.Load() != 0 {
				t.Error("expected no request to be sent")
			}
		})

		t.Run("builds query", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/users/digger/collection/folders/0/releases" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("page") != "2" || q.Get("per_page") != "17" || q.Get("sort") != "year" || q.Get("sort_order") != "asc" {
					t.Errorf("unexpected query %s", r.URL.RawQuery)
				}
				writeJSON(t, w, models.CollectionResponse{Pagination: models.Pagination{Page: 2, Pages: 3, Items: 40}})
			}))
			defer server.Close()

			srv := NewDiscogsService(testConfig(server.URL))
			resp, err := srv.GetCollectionReleases(context.Background(), nil, "digger", 0, CollectionParams{
				Page: 2, PerPage: 17, Sort: SortYear, SortOrder: SortAsc,
			})
			if err != nil {
				t.Fatalf("failed to get releases: %v", err)
			}
			if resp.Pagination.Items != 40 {
				t.Errorf("expected 40 items, got %d", resp.Pagination.Items)
			}
		})

		t.Run("rejects invalid params", func(t *testing.T) {
			srv := NewDiscogsService(testConfig("http://unused.invalid"))
			_, err := srv.GetCollectionReleases(context.Background(), nil, "digger", 0, CollectionParams{PerPage: 500})
			if !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	})

	t.Run("GetCollectionMetadata", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("per_page") != "1" {
				t.Errorf("expected single-item page, got %s", r.URL.RawQuery)
			}
			writeJSON(t, w, models.CollectionResponse{Pagination: models.Pagination{Items: 321}})
		}))
		defer server.Close()

		srv := NewDiscogsService(testConfig(server.URL))
		meta, err := srv.GetCollectionMetadata(context.Background(), testTokens, "digger")
		if err != nil {
			t.Fatalf("failed to get metadata: %v", err)
		}
		if meta.TotalCount != 321 {
			t.Errorf("expected 321, got %d", meta.TotalCount)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			tokens *models.AuthTokens
			check  func(error) bool
			want   string
		}{
			{"401 with tokens", http.StatusUnauthorized, testTokens, shared.IsAuthError, "Discogs authorization failed"},
			{"403 without tokens", http.StatusForbidden, nil, shared.IsAuthError, "Resource is private"},
			{"404", http.StatusNotFound, nil, func(err error) bool { return shared.StatusCode(err) == 404 }, "getUserProfile failed"},
			{"500", http.StatusInternalServerError, nil, func(err error) bool { return shared.StatusCode(err) == 500 }, "getUserProfile failed"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"message":"nope"}`))
				}))
				defer server.Close()

				srv := NewDiscogsService(testConfig(server.URL), fastRetry())
				_, err := srv.GetUserProfile(context.Background(), tt.tokens, "digger")
				if err == nil || !tt.check(err) {
					t.Fatalf("unexpected error %v", err)
				}
				if !strings.Contains(err.Error(), tt.want) {
					t.Errorf("expected %q in %q", tt.want, err.Error())
				}
			})
		}
	})

	t.Run("rate limit retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ratelimit.HeaderLimit, "60")
			w.Header().Set(ratelimit.HeaderUsed, "50")
			w.Header().Set(ratelimit.HeaderRemaining, "10")
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(t, w, models.UserProfile{Username: "digger"})
		}))
		defer server.Close()

		limiter := ratelimit.New()
		srv := NewDiscogsService(testConfig(server.URL), fastRetry(), WithLimiter(limiter))
		if _, err := srv.GetUserProfile(context.Background(), nil, "digger"); err != nil {
			t.Fatalf("expected retries to succeed, got %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
		if st := limiter.State(); st.Remaining != 10 || st.Used != 50 {
			t.Errorf("expected limiter to observe headers, got %+v", st)
		}
	})

	t.Run("rate limit exhausted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		srv := NewDiscogsService(testConfig(server.URL), fastRetry())
		_, err := srv.GetUserProfile(context.Background(), nil, "digger")
		var rlErr *shared.RateLimitError
		if !errors.As(err, &rlErr) {
			t.Fatalf("expected rate limit error, got %v", err)
		}
	})

	t.Run("unreadable body", func(t *testing.T) {
		rt := tu.NewMockRoundTripper(&http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       &tu.FCloser{},
		}, nil)
		srv := NewDiscogsService(testConfig("http://discogs.test"), WithHTTPClient(&http.Client{Transport: rt}))

		_, err := srv.GetUserProfile(context.Background(), nil, "digger")
		if err == nil || !strings.Contains(err.Error(), "failed to read response") {
			t.Fatalf("expected read failure, got %v", err)
		}
		if shared.IsAuthError(err) || isRateLimitError(err) {
			t.Errorf("expected a plain API error, got %v", err)
		}
		if rt.Requests() != 1 {
			t.Errorf("expected a single attempt, got %d", rt.Requests())
		}
	})
}

func TestDiscogsService_OfflineFallback(t *testing.T) {
	ctx := context.Background()
	otherTokens := &models.AuthTokens{AccessToken: "other", AccessTokenSecret: "other-secret"}

	newServer := func(t *testing.T) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/oauth/identity":
				writeJSON(t, w, models.Identity{ID: 1, Username: "digger"})
			case strings.HasSuffix(r.URL.Path, "/releases"):
				writeJSON(t, w, models.CollectionResponse{Pagination: models.Pagination{Page: 1, Pages: 1, Items: 12}})
			default:
				writeJSON(t, w, models.UserProfile{Username: "digger", NumCollection: 12})
			}
		}))
	}

	t.Run("serves collection reads to the same tokens", func(t *testing.T) {
		server := newServer(t)
		cache := repositories.NewHTTPCacheRepository(tu.NewTestDB(t))
		srv := NewDiscogsService(testConfig(server.URL), WithResponseCache(cache))
		if _, err := srv.GetCollectionMetadata(ctx, testTokens, "digger"); err != nil {
			t.Fatalf("failed to prime cache: %v", err)
		}
		server.Close()

		meta, err := srv.GetCollectionMetadata(ctx, testTokens, "digger")
		if err != nil {
			t.Fatalf("expected cached response, got %v", err)
		}
		if meta.TotalCount != 12 {
			t.Errorf("expected cached count, got %+v", meta)
		}

		if _, err := srv.GetCollectionMetadata(ctx, otherTokens, "digger"); err == nil || shared.StatusCode(err) != 0 {
			t.Errorf("expected transient error for other tokens, got %v", err)
		}
		if _, err := srv.GetCollectionMetadata(ctx, testTokens, "someone-else"); err == nil || shared.StatusCode(err) != 0 {
			t.Errorf("expected transient error for uncached url, got %v", err)
		}
	})

	t.Run("never serves identity or profile", func(t *testing.T) {
		server := newServer(t)
		cache := repositories.NewHTTPCacheRepository(tu.NewTestDB(t))
		srv := NewDiscogsService(testConfig(server.URL), WithResponseCache(cache))
		if _, err := srv.GetIdentity(ctx, testTokens); err != nil {
			t.Fatalf("failed to get identity: %v", err)
		}
		if _, err := srv.GetUserProfile(ctx, testTokens, "digger"); err != nil {
			t.Fatalf("failed to get profile: %v", err)
		}
		server.Close()

		if identity, err := srv.GetIdentity(ctx, testTokens); err == nil {
			t.Errorf("expected identity to fail offline, got %+v", identity)
		}
		if profile, err := srv.GetUserProfile(ctx, testTokens, "digger"); err == nil {
			t.Errorf("expected profile to fail offline, got %+v", profile)
		}
		if names, _ := cache.ListCaches(); len(names) != 0 {
			t.Errorf("expected nothing cached, got %v", names)
		}
	})

	t.Run("expired entries are ignored", func(t *testing.T) {
		server := newServer(t)
		cache := repositories.NewHTTPCacheRepository(tu.NewTestDB(t))
		srv := NewDiscogsService(testConfig(server.URL), WithResponseCache(cache))
		server.Close()

		key := cacheKey(server.URL+"/users/digger/collection/folders/0/releases?page=1&per_page=1", testTokens)
		err := cache.Put(repositories.CachedResponse{
			CacheName: shared.DiscogsAPICache,
			URL:       key,
			Body:      []byte(`{"pagination":{"items":12}}`),
			StoredAt:  time.Now().Add(-2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to seed cache: %v", err)
		}

		if _, err := srv.GetCollectionMetadata(ctx, testTokens, "digger"); err == nil {
			t.Error("expected an expired entry not to be served")
		}
	})

	t.Run("entry cap", func(t *testing.T) {
		server := newServer(t)
		cache := repositories.NewHTTPCacheRepository(tu.NewTestDB(t))
		srv := NewDiscogsService(testConfig(server.URL), WithResponseCache(cache), WithCachePolicy(1, time.Hour))
		for _, page := range []int{1, 2} {
			if _, err := srv.GetCollectionReleases(ctx, testTokens, "digger", 0, CollectionParams{Page: page}); err != nil {
				t.Fatalf("failed to fetch page %d: %v", page, err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		server.Close()

		if _, err := srv.GetCollectionReleases(ctx, testTokens, "digger", 0, CollectionParams{Page: 1}); err == nil {
			t.Error("expected the oldest page to be evicted")
		}
		if _, err := srv.GetCollectionReleases(ctx, testTokens, "digger", 0, CollectionParams{Page: 2}); err != nil {
			t.Errorf("expected the newest page to be served, got %v", err)
		}
	})
}

func TestCollectionParams(t *testing.T) {
	tc := []struct {
		name   string
		params CollectionParams
		valid  bool
	}{
		{"zero value", CollectionParams{}, true},
		{"full", CollectionParams{Page: 1, PerPage: 100, Sort: SortCatNo, SortOrder: SortDesc}, true},
		{"per page too large", CollectionParams{PerPage: 101}, false},
		{"unknown sort", CollectionParams{Sort: "genre"}, false},
		{"unknown order", CollectionParams{SortOrder: "up"}, false},
		{"negative page", CollectionParams{Page: -1}, false},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err == nil) != tt.valid {
				t.Errorf("expected valid=%v, got %v", tt.valid, err)
			}
		})
	}
}
