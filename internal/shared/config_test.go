package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./vinyldeck.db" {
			t.Errorf("expected database path ./vinyldeck.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Discogs.BaseURL != "https://api.discogs.com" {
			t.Errorf("expected discogs base URL, got %s", config.Discogs.BaseURL)
		}

		if config.Sync.PageBatchSize != 3 {
			t.Errorf("expected page batch size 3, got %d", config.Sync.PageBatchSize)
		}

		if config.Sync.PerPage != CollectionPerPage {
			t.Errorf("expected per page %d, got %d", CollectionPerPage, config.Sync.PerPage)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080
allowed_callback_origins = ["https://vinyldeck.example"]

[discogs]
consumer_key = "key"
consumer_secret = "secret"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Discogs.ConsumerKey != "key" {
			t.Errorf("expected consumer key, got %s", config.Discogs.ConsumerKey)
		}

		if len(config.Server.AllowedCallbackOrigins) != 1 {
			t.Errorf("expected one allowed origin, got %v", config.Server.AllowedCallbackOrigins)
		}

		if config.Sync.PollIntervalSeconds != 300 {
			t.Errorf("expected unspecified sections to keep defaults, got %d", config.Sync.PollIntervalSeconds)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("DISCOGS_CONSUMER_KEY", "env-key")
		t.Setenv("DISCOGS_CONSUMER_SECRET", "env-secret")
		t.Setenv("ALLOWED_CALLBACK_ORIGINS", "https://a.example, ,https://b.example")
		t.Setenv("VINYLDECK_DB_PATH", "/tmp/env.db")
		t.Setenv("VINYLDECK_RELAY_URL", "https://relay.example")

		config := DefaultConfig()
		if err := ApplyEnv(config); err != nil {
			t.Fatalf("ApplyEnv failed: %v", err)
		}

		if config.Discogs.ConsumerKey != "env-key" || config.Discogs.ConsumerSecret != "env-secret" {
			t.Errorf("expected consumer pair from env, got %q/%q", config.Discogs.ConsumerKey, config.Discogs.ConsumerSecret)
		}
		if config.Database.Path != "/tmp/env.db" {
			t.Errorf("expected db path from env, got %s", config.Database.Path)
		}
		if config.Discogs.RelayURL != "https://relay.example" {
			t.Errorf("expected relay url from env, got %s", config.Discogs.RelayURL)
		}
		if len(config.Server.AllowedCallbackOrigins) != 2 {
			t.Errorf("expected two origins, got %v", config.Server.AllowedCallbackOrigins)
		}
	})

	t.Run("PollInterval", func(t *testing.T) {
		if got := (SyncConfig{PollIntervalSeconds: 0}).PollInterval(); got != time.Second {
			t.Errorf("expected floor of one second, got %v", got)
		}
		if got := (SyncConfig{PollIntervalSeconds: 60}).PollInterval(); got != time.Minute {
			t.Errorf("expected one minute, got %v", got)
		}
	})
}
