package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Store     StoreConfig             `toml:"store"`
	Cache     CacheConfig             `toml:"cache"`
	Providers map[string]ClientConfig `toml:"providers"`
}

// StoreConfig contains token storage settings.
type StoreConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Capacity int `toml:"capacity"`
}

// ClientConfig contains everything needed to construct one provider client.
// Credentials left empty here are resolved from process environment
// variables named <PREFIX>_APP_ID and <PREFIX>_APP_SECRET.
type ClientConfig struct {
	Flow           string   `toml:"flow"`
	ClientID       string   `toml:"client_id"`
	ClientSecret   string   `toml:"client_secret"`
	RedirectURI    string   `toml:"redirect_uri"`
	Scopes         []string `toml:"scopes"`
	UserIdentifier string   `toml:"user_identifier"`
	SessionCookie  string   `toml:"session_cookie"`
	Backend        string   `toml:"backend"`    // manual, listener, or browser
	RateLimit      float64  `toml:"rate_limit"` // requests per second
}

// Provider returns the [ClientConfig] for the named provider, falling back
// to a zero value when none is configured.
func (c *Config) Provider(name string) ClientConfig {
	if c.Providers == nil {
		return ClientConfig{}
	}
	return c.Providers[name]
}

// EnvCredentials resolves a client ID and secret from the environment for
// the given provider prefix (e.g., SPOTIFY_WEB_API). Consulted only when
// the configuration leaves them unset.
func EnvCredentials(prefix string) (string, string) {
	return os.Getenv(prefix + "_APP_ID"), os.Getenv(prefix + "_APP_SECRET")
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
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
