package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Discogs  DiscogsConfig  `toml:"discogs"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Sync     SyncConfig     `toml:"sync"`
}

// DiscogsConfig contains the OAuth consumer pair and API endpoint settings.
type DiscogsConfig struct {
	ConsumerKey      string `toml:"consumer_key"`
	ConsumerSecret   string `toml:"consumer_secret"`
	BaseURL          string `toml:"base_url"`
	CallbackURL      string `toml:"callback_url"`
	UserAgentVersion string `toml:"user_agent_version"`
	RelayURL         string `toml:"relay_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains relay server settings.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	AllowedCallbackOrigins []string `toml:"allowed_callback_origins"`
}

// SyncConfig tunes collection change detection and refresh.
type SyncConfig struct {
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	PageBatchSize       int     `toml:"page_batch_size"`
	PerPage             int     `toml:"per_page"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

// PollInterval returns the metadata polling interval, at least one second.
func (s SyncConfig) PollInterval() time.Duration {
	if s.PollIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// envOverrides holds values read from the environment.
type envOverrides struct {
	ConsumerKey    string   `env:"DISCOGS_CONSUMER_KEY"`
	ConsumerSecret string   `env:"DISCOGS_CONSUMER_SECRET"`
	AllowedOrigins []string `env:"ALLOWED_CALLBACK_ORIGINS" envSeparator:","`
	DatabasePath   string   `env:"VINYLDECK_DB_PATH"`
	RelayURL       string   `env:"VINYLDECK_RELAY_URL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overlays non-empty environment values onto config.
func ApplyEnv(config *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}

	if overrides.ConsumerKey != "" {
		config.Discogs.ConsumerKey = overrides.ConsumerKey
	}
	if overrides.ConsumerSecret != "" {
		config.Discogs.ConsumerSecret = overrides.ConsumerSecret
	}
	if overrides.DatabasePath != "" {
		config.Database.Path = overrides.DatabasePath
	}
	if overrides.RelayURL != "" {
		config.Discogs.RelayURL = overrides.RelayURL
	}

	origins := make([]string, 0, len(overrides.AllowedOrigins))
	for _, o := range overrides.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) > 0 {
		config.Server.AllowedCallbackOrigins = origins
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
