package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize.
const (
	DefaultListen         = "127.0.0.1:8080"
	DefaultTimezone       = "Europe/London"
	DefaultRefresh        = "@hourly"
	DefaultAPIBaseURL     = "https://api.elvanto.com/v1"
	DefaultTimeoutSeconds = 30
	DefaultWindowMonths   = 1
	DefaultCardLimit      = 10
	DefaultStoreBackend   = "file"
	DefaultStorePath      = "data"
	DefaultStorePrefix    = "elvcal"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendValkey   = "valkey"
	BackendPostgres = "postgres"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects where snapshots are persisted.
type StoreConfig struct {
	// Backend is one of file, memory, valkey or postgres.
	Backend string `yaml:"backend" json:"backend"`
	// Path is the directory used by the file backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Addr is a host:port or valkey:// URL for the valkey backend.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// Prefix namespaces keys (valkey) or names the table (postgres).
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for the fetch window and card times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Refresh is a cron spec (robfig/cron syntax, descriptors allowed).
	Refresh string `yaml:"refresh" json:"refresh"`

	// APIKey is the Elvanto API key. Empty disables fetching.
	APIKey string `yaml:"api_key" json:"-"`

	// ServiceLinks is the multi-line "label|url" table.
	ServiceLinks string `yaml:"service_links" json:"service_links"`

	APIBaseURL     string `yaml:"api_base_url" json:"api_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`

	// WindowMonths is how far ahead of today items are requested.
	WindowMonths int `yaml:"window_months" json:"window_months"`

	// CardLimit caps /api/cards.
	CardLimit int `yaml:"card_limit" json:"card_limit"`

	Store StoreConfig `yaml:"store" json:"store"`
	Log   LogConfig   `yaml:"log" json:"log"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing or out-of-range values so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Refresh) == "" {
		c.Refresh = DefaultRefresh
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.WindowMonths <= 0 {
		c.WindowMonths = DefaultWindowMonths
	}
	if c.CardLimit <= 0 {
		c.CardLimit = DefaultCardLimit
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendFile, BackendMemory, BackendValkey, BackendPostgres:
	default:
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = DefaultStorePrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendValkey:
		if c.Store.Addr == "" {
			errs = append(errs, errors.New("store.addr is required for the valkey backend"))
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		errs = append(errs, errors.New("basic_auth needs both username and password"))
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
//   - ELVCAL_API_KEY, when set, overrides api_key.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv("ELVCAL_API_KEY")); v != "" {
		c.APIKey = v
	}
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".elvcal-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file beside path, syncs it, sets
// 0600 and renames it over path.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
