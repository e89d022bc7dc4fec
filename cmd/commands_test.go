package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/vinyldeck/internal/models"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
	"github.com/desertthunder/vinyldeck/internal/stores"
	"github.com/desertthunder/vinyldeck/internal/tasks"
	tu "github.com/desertthunder/vinyldeck/internal/testing"
	"github.com/desertthunder/vinyldeck/internal/testing/discogstest"
	"github.com/urfave/cli/v3"
)

type testEnv struct {
	configPath string
	dbPath     string
	output     *bytes.Buffer
	fake       *discogstest.Fake
	runner     *Runner

	mu       sync.Mutex
	releases []models.CollectionRelease
}

// newTestEnv writes a config pointing at a temp database and wires a runner to a fake Discogs.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(dir, "config.toml"),
		dbPath:     filepath.Join(dir, "vinyldeck.db"),
		output:     &bytes.Buffer{},
		releases:   discogstest.Releases(5),
	}

	conf := fmt.Sprintf("[database]\npath = %q\n\n[sync]\nper_page = 50\nrequests_per_second = 0.0\n", env.dbPath)
	if err := os.WriteFile(env.configPath, []byte(conf), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	env.fake = &discogstest.Fake{
		CollectionFn: func(ctx context.Context, tokens *models.AuthTokens, username string, folderID int, params services.CollectionParams) (*models.CollectionResponse, error) {
			env.mu.Lock()
			defer env.mu.Unlock()
			return discogstest.CollectionPage(env.releases, params.Page, params.PerPage), nil
		},
		MetadataFn: func(ctx context.Context, tokens *models.AuthTokens, username string) (*models.CollectionMetadata, error) {
			env.mu.Lock()
			defer env.mu.Unlock()
			return &models.CollectionMetadata{TotalCount: len(env.releases)}, nil
		},
	}
	env.runner = NewRunner(RunnerOpts{
		Logger:  shared.DiscardLogger(),
		Output:  env.output,
		Discogs: env.fake,
		OAuth:   env.fake,
	})
	return env
}

func (e *testEnv) setReleases(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases = discogstest.Releases(n)
}

func (e *testEnv) run(args ...string) (string, error) {
	e.output.Reset()
	app := &cli.Command{Name: "vinyldeck", Commands: e.runner.register()}

	argv := []string{"vinyldeck"}
	argv = append(argv, args...)
	argv = append(argv, "--config", e.configPath)
	err := app.Run(context.Background(), argv)
	return e.output.String(), err
}

// withStores opens the env database and passes the persisted stores to fn.
func (e *testEnv) withStores(t *testing.T, fn func(auth *stores.AuthStore, profile *stores.ProfileStore, prefs *stores.PreferencesStore)) {
	t.Helper()
	db, err := shared.OpenDatabase(shared.DatabaseConfig{Path: e.dbPath})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := shared.DiscardLogger()
	durable, err := storage.NewDurable(repositories.NewKVRepository(db), logger)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	prefs := stores.NewPreferencesStore(durable, logger)
	profile := stores.NewProfileStore(durable, logger)
	auth := stores.NewAuthStore(durable, prefs, profile, logger)
	defer func() {
		auth.Close()
		profile.Close()
		prefs.Close()
	}()
	fn(auth, profile, prefs)
}

func (e *testEnv) signIn(t *testing.T, username string) {
	t.Helper()
	e.withStores(t, func(auth *stores.AuthStore, profile *stores.ProfileStore, _ *stores.PreferencesStore) {
		auth.SetTokens(&models.AuthTokens{AccessToken: "token", AccessTokenSecret: "secret"})
		auth.SetSessionActive(true)
		profile.SetProfile(models.CachedProfile{ID: 1, Username: username})
	})
}

func TestPrefsCommands(t *testing.T) {
	t.Run("set then show", func(t *testing.T) {
		env := newTestEnv(t)

		if _, err := env.run("prefs", "set", "--view-mode", "table", "--gravatar-email", " Me@Example.com "); err != nil {
			t.Fatalf("failed to set prefs: %v", err)
		}

		out, err := env.run("prefs", "show", "--json")
		if err != nil {
			t.Fatalf("failed to show prefs: %v", err)
		}

		var prefs stores.Preferences
		if err := json.Unmarshal([]byte(out), &prefs); err != nil {
			t.Fatalf("failed to decode output %q: %v", out, err)
		}
		if prefs.ViewMode != stores.ViewTable {
			t.Errorf("expected view mode table, got %s", prefs.ViewMode)
		}
		if prefs.GravatarURL == nil || *prefs.GravatarURL != stores.GravatarURL("me@example.com") {
			t.Errorf("expected gravatar url for the normalized email, got %v", prefs.GravatarURL)
		}
	})

	tc := []struct {
		name string
		args []string
		want error
	}{
		{name: "invalid view mode", args: []string{"prefs", "set", "--view-mode", "list"}, want: shared.ErrInvalidInput},
		{name: "invalid avatar source", args: []string{"prefs", "set", "--avatar-source", "icloud"}, want: shared.ErrInvalidInput},
		{name: "nothing to set", args: []string{"prefs", "set"}, want: shared.ErrMissingArgument},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.run(tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCollectionList(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.run("collection", "list", "--format", "json")
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("fetches once then serves from cache", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t, "digger")

		out, err := env.run("collection", "list", "--format", "json")
		if err != nil {
			t.Fatalf("failed to list collection: %v", err)
		}
		var releases []models.CollectionRelease
		if err := json.Unmarshal([]byte(out), &releases); err != nil {
			t.Fatalf("failed to decode output %q: %v", out, err)
		}
		if len(releases) != 5 {
			t.Errorf("expected 5 releases, got %d", len(releases))
		}

		if _, err := env.run("collection", "list", "--format", "json"); err != nil {
			t.Fatalf("failed to list collection: %v", err)
		}
		if n := env.fake.Calls("GetCollectionReleases"); n != 1 {
			t.Errorf("expected 1 request with a warm cache, got %d", n)
		}

		if _, err := env.run("collection", "list", "--format", "json", "--fresh"); err != nil {
			t.Fatalf("failed to list collection: %v", err)
		}
		if n := env.fake.Calls("GetCollectionReleases"); n != 2 {
			t.Errorf("expected --fresh to fetch again, got %d requests", n)
		}
	})

	t.Run("writes markdown to a file", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t, "digger")
		path := filepath.Join(t.TempDir(), "vinyl.md")

		if _, err := env.run("collection", "list", "--format", "md", "--output", path); err != nil {
			t.Fatalf("failed to list collection: %v", err)
		}
		tu.AssertFileExists(t, path)
		if data := tu.MustReadFile(t, path); !strings.Contains(data, "**Releases**: 5") {
			t.Errorf("expected release count in markdown, got %q", data)
		}
	})

	t.Run("rejects bad flags", func(t *testing.T) {
		env := newTestEnv(t)
		for _, args := range [][]string{
			{"collection", "list", "--sort", "price"},
			{"collection", "list", "--order", "sideways"},
			{"collection", "list", "--format", "xml"},
			{"collection", "list", "--year-min", "2000", "--year-max", "1990"},
		} {
			if _, err := env.run(args...); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("%v: expected ErrInvalidInput, got %v", args, err)
			}
		}
	})
}

func TestSyncAndRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "digger")

	if _, err := env.run("collection", "list", "--format", "json"); err != nil {
		t.Fatalf("failed to list collection: %v", err)
	}

	env.setReleases(7)

	out, err := env.run("sync", "status", "--json")
	if err != nil {
		t.Fatalf("failed to get sync status: %v", err)
	}
	var status syncStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to decode output %q: %v", out, err)
	}
	if status.Pending == nil {
		t.Fatal("expected pending changes")
	}
	if status.Pending.Status != tasks.StatusPending || status.Pending.Counts.NewItems != 2 {
		t.Errorf("expected 2 new items pending, got %+v", status.Pending)
	}

	out, err = env.run("collection", "refresh")
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if !strings.Contains(out, "7 items") {
		t.Errorf("expected refreshed count in output, got %q", out)
	}

	out, err = env.run("sync", "status")
	if err != nil {
		t.Fatalf("failed to get sync status: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("expected up to date after refresh, got %q", out)
	}
}

func TestAuthCommands(t *testing.T) {
	t.Run("signout keeps tokens", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t, "digger")

		if _, err := env.run("auth", "signout"); err != nil {
			t.Fatalf("failed to sign out: %v", err)
		}
		env.withStores(t, func(auth *stores.AuthStore, profile *stores.ProfileStore, _ *stores.PreferencesStore) {
			if auth.SessionActive() {
				t.Error("expected session to be inactive")
			}
			if auth.Tokens() == nil {
				t.Error("expected tokens to be kept")
			}
		})

		if _, err := env.run("collection", "list"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated after sign out, got %v", err)
		}
	})

	t.Run("disconnect clears account state", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t, "digger")
		if _, err := env.run("prefs", "set", "--avatar-source", "gravatar", "--gravatar-email", "me@example.com"); err != nil {
			t.Fatalf("failed to set prefs: %v", err)
		}

		if _, err := env.run("auth", "disconnect"); err != nil {
			t.Fatalf("failed to disconnect: %v", err)
		}
		env.withStores(t, func(auth *stores.AuthStore, profile *stores.ProfileStore, prefs *stores.PreferencesStore) {
			if auth.Tokens() != nil {
				t.Error("expected tokens to be removed")
			}
			if profile.Profile() != nil {
				t.Error("expected profile to be removed")
			}
			if p := prefs.Get(); p.AvatarSource != stores.AvatarDiscogs || p.GravatarEmail != "" {
				t.Errorf("expected avatar settings reset, got %+v", p)
			}
		})
	})

	t.Run("login without credentials", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.oauth = nil

		_, err := env.run("auth", "login", "--no-browser")
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestSetupConfig(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "new.toml")

	run := func() error {
		app := &cli.Command{Name: "vinyldeck", Commands: env.runner.register()}
		return app.Run(context.Background(), []string{"vinyldeck", "setup", "config", "--config", path})
	}

	if err := run(); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tu.AssertFileExists(t, path)
	if !strings.Contains(tu.MustReadFile(t, path), "[discogs]") {
		t.Error("expected the example config to be written")
	}
	if _, err := shared.LoadConfig(path); err != nil {
		t.Errorf("expected a loadable config, got %v", err)
	}

	if err := run(); !errors.Is(err, shared.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for an existing file, got %v", err)
	}
}
