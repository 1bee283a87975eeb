// Package config provides configuration loading and management for the sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

const (
	// SourceTypeAPI is the type for snapshots fetched from LMS API endpoints
	SourceTypeAPI = "api"

	// SourceTypeFile is the type for snapshots stored in local files
	SourceTypeFile = "file"
)

// DefaultSyncInterval is used when no sync policy is configured.
const DefaultSyncInterval = 15 * time.Minute

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServerName is the name/identifier for this sync server instance
	// Defaults to "default" if not specified
	ServerName string `yaml:"serverName,omitempty"`

	// Source is the upstream LMS the server syncs from
	Source SourceConfig `yaml:"source"`

	// Scopes lists the sync scopes, "all" or "course:<id>".
	// Defaults to a single all-courses scope.
	Scopes []string `yaml:"scopes,omitempty"`

	// SyncPolicy controls how often each scope is synced
	SyncPolicy *SyncPolicyConfig `yaml:"syncPolicy,omitempty"`

	// Filter narrows which courses are synced
	Filter *FilterConfig `yaml:"filter,omitempty"`

	// Retention controls when retired records become purge candidates
	Retention *RetentionConfig `yaml:"retention,omitempty"`

	// API configures the HTTP API server
	API *APIServerConfig `yaml:"api,omitempty"`

	// Database is optional; without it the server keeps state in memory
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// SourceConfig defines the snapshot source (only one should be set)
type SourceConfig struct {
	API  *APISourceConfig  `yaml:"api,omitempty"`
	File *FileSourceConfig `yaml:"file,omitempty"`
}

// APISourceConfig defines LMS API source settings
type APISourceConfig struct {
	// Endpoint is the base API URL (without path)
	// The source handler appends the export path /v1/export
	// Example: "https://lms.example.edu/api"
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single HTTP request (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// FileSourceConfig defines local file source configuration
type FileSourceConfig struct {
	// Path is the path to the snapshot JSON file on the local filesystem
	// Can be absolute or relative to the working directory
	Path string `yaml:"path"`
}

// SyncPolicyConfig defines synchronization settings
type SyncPolicyConfig struct {
	Interval string `yaml:"interval"`
}

// FilterConfig defines filtering rules for snapshot items
type FilterConfig struct {
	Courses *NameFilterConfig `yaml:"courses,omitempty"`
}

// NameFilterConfig defines glob-based include/exclude filtering
type NameFilterConfig struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// RetentionConfig controls the removal candidate threshold
type RetentionConfig struct {
	// ThresholdDays is how long a retired record must stay inactive
	// before it is listed as a purge candidate
	ThresholdDays int `yaml:"thresholdDays"`
}

// DefaultRetentionThresholdDays applies when retention is not configured.
const DefaultRetentionThresholdDays = 30

// APIServerConfig defines HTTP API server settings
type APIServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from LMS_SYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	// Priority 1: Read from file if specified
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		// Trim whitespace (including newlines) from file content
		password := strings.TrimSpace(string(data))
		return password, nil
	}

	// Priority 2: Check environment variable
	if envPassword := os.Getenv("LMS_SYNC_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or LMS_SYNC_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	// URL-escape the password to handle special characters
	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetServerName returns the server name, using "default" if not specified
func (c *Config) GetServerName() string {
	if c.ServerName == "" {
		return "default"
	}
	return c.ServerName
}

// GetScopes returns the parsed sync scopes, defaulting to a single
// all-courses scope. The scopes are guaranteed valid after LoadConfig.
func (c *Config) GetScopes() ([]snapshot.Scope, error) {
	if len(c.Scopes) == 0 {
		return []snapshot.Scope{snapshot.AllScope()}, nil
	}

	scopes := make([]snapshot.Scope, 0, len(c.Scopes))
	for _, raw := range c.Scopes {
		scope, err := snapshot.ParseScope(raw)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// GetSyncInterval returns the configured sync interval or the default.
// The interval is guaranteed valid after LoadConfig.
func (c *Config) GetSyncInterval() time.Duration {
	if c.SyncPolicy == nil || c.SyncPolicy.Interval == "" {
		return DefaultSyncInterval
	}
	interval, err := time.ParseDuration(c.SyncPolicy.Interval)
	if err != nil {
		return DefaultSyncInterval
	}
	return interval
}

// GetRetentionThresholdDays returns the configured retention threshold
// or the default.
func (c *Config) GetRetentionThresholdDays() int {
	if c.Retention == nil || c.Retention.ThresholdDays == 0 {
		return DefaultRetentionThresholdDays
	}
	return c.Retention.ThresholdDays
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.validateSource(); err != nil {
		return err
	}

	// Validate scopes and check for duplicates
	seen := make(map[string]bool, len(c.Scopes))
	for i, raw := range c.Scopes {
		scope, err := snapshot.ParseScope(raw)
		if err != nil {
			return fmt.Errorf("scopes[%d]: %w", i, err)
		}
		if seen[scope.String()] {
			return fmt.Errorf("scopes[%d]: duplicate scope '%s'", i, scope)
		}
		seen[scope.String()] = true
	}

	if err := validateSyncPolicy(c.SyncPolicy); err != nil {
		return err
	}

	if c.Retention != nil && c.Retention.ThresholdDays < 0 {
		return fmt.Errorf("retention.thresholdDays must not be negative")
	}

	return nil
}

// validateSource ensures exactly one source type is configured and its
// settings are usable
func (c *Config) validateSource() error {
	configCount := 0
	if c.Source.API != nil {
		configCount++
	}
	if c.Source.File != nil {
		configCount++
	}

	if configCount == 0 {
		return fmt.Errorf("one of source.api or source.file must be specified")
	}
	if configCount > 1 {
		return fmt.Errorf("only one of source.api or source.file may be specified")
	}

	if c.Source.API != nil {
		if c.Source.API.Endpoint == "" {
			return fmt.Errorf("source.api.endpoint is required")
		}
		if c.Source.API.Timeout != "" {
			if _, err := time.ParseDuration(c.Source.API.Timeout); err != nil {
				return fmt.Errorf("source.api.timeout must be a valid duration (e.g., '30s'): %w", err)
			}
		}
	}
	if c.Source.File != nil && c.Source.File.Path == "" {
		return fmt.Errorf("source.file.path is required")
	}

	return nil
}

// validateSyncPolicy validates the sync policy configuration
func validateSyncPolicy(policy *SyncPolicyConfig) error {
	if policy == nil || policy.Interval == "" {
		return nil
	}

	// Try to parse the interval to ensure it's valid
	if _, err := time.ParseDuration(policy.Interval); err != nil {
		return fmt.Errorf("syncPolicy.interval must be a valid duration (e.g., '30m', '1h'): %w", err)
	}

	return nil
}

// GetSourceType returns the inferred type of the source config based on
// which field is present
func (s *SourceConfig) GetSourceType() string {
	if s.API != nil {
		return SourceTypeAPI
	}
	if s.File != nil {
		return SourceTypeFile
	}
	return ""
}
