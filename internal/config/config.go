// Package config loads and persists hyperstar.json, the application's
// server configuration file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperstar-dev/hyperstar/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "hyperstar.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultBasePath is the default protocol endpoint prefix.
	DefaultBasePath = "/hyperstar"

	// DefaultCookieName is the default session cookie name.
	DefaultCookieName = "hs_session"

	// DefaultKeepAliveSeconds is the default SSE heartbeat cadence.
	DefaultKeepAliveSeconds = 30

	// DefaultSnapshotDebounceMS is the default snapshot write debounce.
	DefaultSnapshotDebounceMS = 1000
)

// Config is the complete hyperstar.json configuration. Unknown fields
// are tolerated so configs survive version skew in both directions.
type Config struct {
	// Address is the listen address (e.g. ":8080").
	Address string `json:"address,omitempty"`

	// BasePath prefixes the protocol endpoints.
	BasePath string `json:"basePath,omitempty"`

	// CookieName is the session identity cookie.
	CookieName string `json:"cookieName,omitempty"`

	// KeepAliveSeconds is the SSE heartbeat cadence in seconds.
	KeepAliveSeconds int `json:"keepAliveSeconds,omitempty"`

	// Metrics toggles the /metrics endpoint. Defaults to true; only an
	// explicit false in the file disables it.
	Metrics *bool `json:"metrics,omitempty"`

	// Snapshot configures state persistence.
	Snapshot SnapshotConfig `json:"snapshot,omitempty"`

	// configPath stores where the config was loaded from.
	configPath string
}

// SnapshotConfig configures store snapshot persistence.
type SnapshotConfig struct {
	// Path is the local snapshot file. Empty disables disk snapshots.
	Path string `json:"path,omitempty"`

	// DebounceMS is the write debounce in milliseconds.
	DebounceMS int `json:"debounceMs,omitempty"`

	// S3Bucket, when set, stores snapshots in S3 instead of on disk.
	S3Bucket string `json:"s3Bucket,omitempty"`

	// S3Key is the object key used with S3Bucket.
	S3Key string `json:"s3Key,omitempty"`
}

// New returns a config populated with defaults.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads hyperstar.json from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the given file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("H100").
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Create " + ConfigFileName + " or pass --config")
		}
		return nil, errors.New("H101").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("H102").
			WithDetail(err.Error()).
			WithSuggestion("Check that " + ConfigFileName + " is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the given path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("H104").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("H104").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns where the config was loaded from.
func (c *Config) Path() string { return c.configPath }

// KeepAlive returns the heartbeat cadence as a duration.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// SnapshotDebounce returns the snapshot debounce as a duration.
func (c *Config) SnapshotDebounce() time.Duration {
	return time.Duration(c.Snapshot.DebounceMS) * time.Millisecond
}

// MetricsEnabled resolves the metrics toggle.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.KeepAliveSeconds == 0 {
		c.KeepAliveSeconds = DefaultKeepAliveSeconds
	}
	if c.Snapshot.DebounceMS == 0 {
		c.Snapshot.DebounceMS = DefaultSnapshotDebounceMS
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.KeepAliveSeconds < 0 {
		return errors.New("H103").WithDetail("keepAliveSeconds must not be negative")
	}
	if c.Snapshot.DebounceMS < 0 {
		return errors.New("H103").WithDetail("snapshot.debounceMs must not be negative")
	}
	if c.Snapshot.S3Bucket != "" && c.Snapshot.S3Key == "" {
		return errors.New("H103").
			WithDetail("snapshot.s3Key is required when snapshot.s3Bucket is set")
	}
	if len(c.BasePath) == 0 || c.BasePath[0] != '/' {
		return errors.New("H103").WithDetail("basePath must start with '/'")
	}
	return nil
}
