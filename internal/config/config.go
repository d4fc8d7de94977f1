// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/counselkit/counsel-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete counsel configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend inference service
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Session behavior
	Session SessionConfig `toml:"session" json:"session"`

	// Conversation persistence
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Citation index
	Authority AuthorityConfig `toml:"authority" json:"authority"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig contains inference service connection settings.
type BackendConfig struct {
	// ServiceURL is the base URL of the counsel inference service
	ServiceURL string `toml:"service_url" json:"service_url"`
	// ProbeTimeoutSecs is the timeout for the startup health probe
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
	// RequestTimeoutSecs is the timeout for establishing a query stream.
	// Token delivery itself is not bounded; streams run until the service
	// finishes or fails.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// SessionConfig contains per-session behavior settings.
type SessionConfig struct {
	// MatterRef optionally scopes every query to a case/matter reference
	MatterRef string `toml:"matter_ref" json:"matter_ref"`
	// MaxMessages is the history cap per conversation; older turns are pruned
	MaxMessages int `toml:"max_messages" json:"max_messages"`
	// SubmitsPerSecond rate-limits query submission
	SubmitsPerSecond float64 `toml:"submits_per_second" json:"submits_per_second"`
	// SubmitBurst is the submission burst allowance
	SubmitBurst int `toml:"submit_burst" json:"submit_burst"`
}

// StorageConfig contains conversation persistence settings.
type StorageConfig struct {
	// Dir is the conversations directory (empty = ~/.counsel/conversations)
	Dir string `toml:"dir" json:"dir"`
	// MaxConversations caps how many saved conversations are kept
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// AuthorityConfig contains citation index settings.
type AuthorityConfig struct {
	// Enabled controls whether cited authorities are recorded
	Enabled bool `toml:"enabled" json:"enabled"`
	// DBPath is the sqlite database path (empty = ~/.counsel/authorities.db)
	DBPath string `toml:"db_path" json:"db_path"`
	// TopN is how many authorities the /authorities view lists
	TopN int `toml:"top_n" json:"top_n"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// ShowReasoning displays the model's reasoning stream in the UI
	ShowReasoning bool `toml:"show_reasoning" json:"show_reasoning"`
	// ShowSources displays cited authorities under each answer
	ShowSources bool `toml:"show_sources" json:"show_sources"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
	// Markdown renders answers as markdown in one-shot mode
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			ServiceURL:         "http://127.0.0.1:8711",
			ProbeTimeoutSecs:   3,
			RequestTimeoutSecs: 10,
		},

		Session: SessionConfig{
			MatterRef:        "",
			MaxMessages:      1000,
			SubmitsPerSecond: 1,
			SubmitBurst:      3,
		},

		Storage: StorageConfig{
			Dir:              "",
			MaxConversations: 500,
		},

		Authority: AuthorityConfig{
			Enabled: true,
			DBPath:  "",
			TopN:    20,
		},

		UI: UIConfig{
			Theme:         "dark",
			ShowReasoning: false,
			ShowSources:   true,
			CompactMode:   false,
			Markdown:      true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the counsel configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".counsel"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions tightens config file permissions to 0600.
// Conversations may reference client matters; the config file should not be
// world-readable either.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	if tomlPath, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	// Try JSON as fallback
	if jsonPath, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(cfg)
	if err != nil {
		return nil, err
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// finish applies the post-load pipeline: env overrides, defaults, validation.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by extension; anything not .json is
// treated as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# counsel configuration file")
	fmt.Fprintln(file, "# Generated by counsel - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file. The write is atomic with
// fsync so a crash mid-save never leaves a truncated config behind.
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Backend
	if c.Backend.ServiceURL != "" {
		if u, err := url.Parse(c.Backend.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.service_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Backend.ServiceURL),
			})
		}
	}
	if c.Backend.ProbeTimeoutSecs < 1 || c.Backend.ProbeTimeoutSecs > 60 {
		errs = append(errs, ValidationError{
			Field:   "backend.probe_timeout_secs",
			Message: fmt.Sprintf("must be 1-60, got %d", c.Backend.ProbeTimeoutSecs),
		})
	}
	if c.Backend.RequestTimeoutSecs < 1 || c.Backend.RequestTimeoutSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "backend.request_timeout_secs",
			Message: fmt.Sprintf("must be 1-300, got %d", c.Backend.RequestTimeoutSecs),
		})
	}

	// Session
	if c.Session.MaxMessages < 2 || c.Session.MaxMessages > 10000 {
		errs = append(errs, ValidationError{
			Field:   "session.max_messages",
			Message: fmt.Sprintf("must be 2-10000, got %d", c.Session.MaxMessages),
		})
	}
	if c.Session.SubmitsPerSecond <= 0 || c.Session.SubmitsPerSecond > 10 {
		errs = append(errs, ValidationError{
			Field:   "session.submits_per_second",
			Message: fmt.Sprintf("must be in (0, 10], got %g", c.Session.SubmitsPerSecond),
		})
	}
	if c.Session.SubmitBurst < 1 || c.Session.SubmitBurst > 20 {
		errs = append(errs, ValidationError{
			Field:   "session.submit_burst",
			Message: fmt.Sprintf("must be 1-20, got %d", c.Session.SubmitBurst),
		})
	}

	// Storage
	if c.Storage.MaxConversations < 1 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_conversations",
			Message: "must be positive",
		})
	}

	// Authority
	if c.Authority.TopN < 1 || c.Authority.TopN > 100 {
		errs = append(errs, ValidationError{
			Field:   "authority.top_n",
			Message: fmt.Sprintf("must be 1-100, got %d", c.Authority.TopN),
		})
	}

	// UI
	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields, so a
// partial config file validates cleanly.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Backend.ServiceURL == "" {
		c.Backend.ServiceURL = defaults.Backend.ServiceURL
	}
	if c.Backend.ProbeTimeoutSecs == 0 {
		c.Backend.ProbeTimeoutSecs = defaults.Backend.ProbeTimeoutSecs
	}
	if c.Backend.RequestTimeoutSecs == 0 {
		c.Backend.RequestTimeoutSecs = defaults.Backend.RequestTimeoutSecs
	}

	if c.Session.MaxMessages == 0 {
		c.Session.MaxMessages = defaults.Session.MaxMessages
	}
	if c.Session.SubmitsPerSecond == 0 {
		c.Session.SubmitsPerSecond = defaults.Session.SubmitsPerSecond
	}
	if c.Session.SubmitBurst == 0 {
		c.Session.SubmitBurst = defaults.Session.SubmitBurst
	}

	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = defaults.Storage.MaxConversations
	}

	if c.Authority.TopN == 0 {
		c.Authority.TopN = defaults.Authority.TopN
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - COUNSEL_SERVICE_URL: overrides backend.service_url
//   - COUNSEL_MATTER: overrides session.matter_ref
//   - COUNSEL_TIMEOUT_SECS: overrides backend.request_timeout_secs
//   - COUNSEL_STORAGE_DIR: overrides storage.dir
//   - COUNSEL_THEME: overrides ui.theme
//   - COUNSEL_NO_AUTHORITY: set to "1" or "true" to disable the citation index
func (c *Config) ApplyEnvOverrides() {
	if svc := os.Getenv("COUNSEL_SERVICE_URL"); svc != "" {
		c.Backend.ServiceURL = svc
	}

	if matter := os.Getenv("COUNSEL_MATTER"); matter != "" {
		c.Session.MatterRef = matter
	}

	if secs := os.Getenv("COUNSEL_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Backend.RequestTimeoutSecs = n
		}
	}

	if dir := os.Getenv("COUNSEL_STORAGE_DIR"); dir != "" {
		c.Storage.Dir = dir
	}

	if theme := os.Getenv("COUNSEL_THEME"); theme != "" {
		c.UI.Theme = theme
	}

	if off := os.Getenv("COUNSEL_NO_AUTHORITY"); off != "" {
		if off == "1" || strings.ToLower(off) == "true" {
			c.Authority.Enabled = false
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// ConversationsDir resolves the conversations directory, defaulting to a
// subdirectory of the config dir.
func (c *Config) ConversationsDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// AuthorityDBPath resolves the citation index path, defaulting to a file in
// the config dir.
func (c *Config) AuthorityDBPath() (string, error) {
	if c.Authority.DBPath != "" {
		return c.Authority.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "authorities.db"), nil
}

// Clone creates a copy of the configuration. The struct holds only value
// types, so a shallow copy is a full copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
