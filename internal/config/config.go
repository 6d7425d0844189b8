// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
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
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/util"
)

// Version is the configuration schema version.
const Version = "1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete spork configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Backend   BackendConfig   `toml:"backend" json:"backend"`
	Auth      AuthConfig      `toml:"auth" json:"auth"`
	Chat      ChatConfig      `toml:"chat" json:"chat"`
	SaveQueue SaveQueueConfig `toml:"save_queue" json:"save_queue"`
	Log       LogConfig       `toml:"log" json:"log"`
	Server    ServerConfig    `toml:"server" json:"server"`
}

// BackendConfig locates the hosted functions.
type BackendConfig struct {
	// ChatURL is the streaming completion function.
	ChatURL string `toml:"chat_url" json:"chat_url"`
	// FunctionsURL is the persistence multiplexer function.
	FunctionsURL string `toml:"functions_url" json:"functions_url"`
	// PublishableKey is sent as the apikey header.
	PublishableKey string `toml:"publishable_key" json:"publishable_key"`
}

// AuthConfig selects where the access token comes from.
type AuthConfig struct {
	// AccessToken is a fixed token; it wins over SessionFile.
	AccessToken string `toml:"access_token" json:"access_token"`
	// SessionFile holds {access_token, refresh_token, expires_at} JSON.
	SessionFile string `toml:"session_file" json:"session_file"`
}

// ChatConfig holds per-turn request settings.
type ChatConfig struct {
	DefaultModel string `toml:"default_model" json:"default_model"`
	PersonaID    string `toml:"persona_id" json:"persona_id"`
	WorkspaceID  string `toml:"workspace_id" json:"workspace_id"`
	// BootDelayMS is how long the action box stays in booting.
	BootDelayMS int `toml:"boot_delay_ms" json:"boot_delay_ms"`
	// StreamIdleTimeoutSecs aborts a silent stream. 0 disables.
	StreamIdleTimeoutSecs int `toml:"stream_idle_timeout_secs" json:"stream_idle_timeout_secs"`
}

// SaveQueueConfig tunes background persistence.
type SaveQueueConfig struct {
	BatchSize   int `toml:"batch_size" json:"batch_size"`
	MaxRetries  int `toml:"max_retries" json:"max_retries"`
	BaseDelayMS int `toml:"base_delay_ms" json:"base_delay_ms"`
	MaxPending  int `toml:"max_pending" json:"max_pending"`
	// FlushTimeoutSecs bounds the final drain on exit.
	FlushTimeoutSecs int `toml:"flush_timeout_secs" json:"flush_timeout_secs"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `toml:"format" json:"format"`
	// File redirects logs; empty means stderr.
	File string `toml:"file" json:"file"`
}

// ServerConfig configures sporkd.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// DatabaseDriver is "sqlite" or "postgres".
	DatabaseDriver string `toml:"database_driver" json:"database_driver"`
	DatabaseURL    string `toml:"database_url" json:"database_url"`
	// BearerTokens are the accepted access tokens. Empty accepts any
	// non-empty token.
	BearerTokens   []string `toml:"bearer_tokens" json:"bearer_tokens"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst" json:"rate_limit_burst"`
	// Credits is the per-token completion allowance. 0 is unlimited.
	Credits int `toml:"credits" json:"credits"`
	// UpstreamURL is an OpenAI-compatible completion endpoint. Empty uses
	// the built-in echo responder.
	UpstreamURL string `toml:"upstream_url" json:"upstream_url"`
	UpstreamKey string `toml:"upstream_key" json:"upstream_key"`
}

// BootDelay returns the action box boot delay.
func (c ChatConfig) BootDelay() time.Duration {
	return time.Duration(c.BootDelayMS) * time.Millisecond
}

// StreamIdleTimeout returns the stream idle timeout, or 0.
func (c ChatConfig) StreamIdleTimeout() time.Duration {
	return time.Duration(c.StreamIdleTimeoutSecs) * time.Second
}

// BaseDelay returns the retry backoff unit.
func (c SaveQueueConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// FlushTimeout returns the exit drain bound.
func (c SaveQueueConfig) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutSecs) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: Version,
		Backend: BackendConfig{
			ChatURL:      "http://localhost:8787/functions/v1/chat",
			FunctionsURL: "http://localhost:8787/functions/v1/spork-data",
		},
		Chat: ChatConfig{
			DefaultModel: model.AutoModel,
			BootDelayMS:  2000,
		},
		SaveQueue: SaveQueueConfig{
			BatchSize:        10,
			MaxRetries:       3,
			BaseDelayMS:      1000,
			MaxPending:       5000,
			FlushTimeoutSecs: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:           ":8787",
			DatabaseDriver: "sqlite",
			DatabaseURL:    "spork.db",
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   2,
			RateLimitBurst: 10,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the spork configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".spork"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultSessionFile returns ~/.spork/session.json.
func DefaultSessionFile() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "session.json")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are read as JSON, anything else as TOML.
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

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.ChatURL == "" {
		c.Backend.ChatURL = d.Backend.ChatURL
	}
	if c.Backend.FunctionsURL == "" {
		c.Backend.FunctionsURL = d.Backend.FunctionsURL
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = d.Chat.DefaultModel
	}
	if c.Chat.BootDelayMS == 0 {
		c.Chat.BootDelayMS = d.Chat.BootDelayMS
	}
	if c.SaveQueue.BatchSize == 0 {
		c.SaveQueue.BatchSize = d.SaveQueue.BatchSize
	}
	if c.SaveQueue.BaseDelayMS == 0 {
		c.SaveQueue.BaseDelayMS = d.SaveQueue.BaseDelayMS
	}
	if c.SaveQueue.FlushTimeoutSecs == 0 {
		c.SaveQueue.FlushTimeoutSecs = d.SaveQueue.FlushTimeoutSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.DatabaseDriver == "" {
		c.Server.DatabaseDriver = d.Server.DatabaseDriver
	}
	if c.Server.DatabaseURL == "" && c.Server.DatabaseDriver == "sqlite" {
		c.Server.DatabaseURL = d.Server.DatabaseURL
	}
	if c.Auth.AccessToken == "" && c.Auth.SessionFile == "" {
		c.Auth.SessionFile = DefaultSessionFile()
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# spork configuration file\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for field, raw := range map[string]string{
		"backend.chat_url":      c.Backend.ChatURL,
		"backend.functions_url": c.Backend.FunctionsURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			add(field, "%v", err)
		}
	}
	if c.Server.UpstreamURL != "" {
		if err := validateHTTPURL(c.Server.UpstreamURL); err != nil {
			add("server.upstream_url", "%v", err)
		}
	}

	if c.Chat.BootDelayMS < 0 {
		add("chat.boot_delay_ms", "must not be negative")
	}
	if c.Chat.StreamIdleTimeoutSecs < 0 {
		add("chat.stream_idle_timeout_secs", "must not be negative")
	}

	if c.SaveQueue.BatchSize < 1 || c.SaveQueue.BatchSize > 100 {
		add("save_queue.batch_size", "must be between 1 and 100, got %d", c.SaveQueue.BatchSize)
	}
	if c.SaveQueue.MaxRetries < 0 || c.SaveQueue.MaxRetries > 10 {
		add("save_queue.max_retries", "must be between 0 and 10, got %d", c.SaveQueue.MaxRetries)
	}
	if c.SaveQueue.BaseDelayMS < 1 {
		add("save_queue.base_delay_ms", "must be positive")
	}
	if c.SaveQueue.MaxPending < 0 {
		add("save_queue.max_pending", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format", "invalid format '%s', must be console or json", c.Log.Format)
	}

	switch c.Server.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		add("server.database_driver", "invalid driver '%s', must be sqlite or postgres", c.Server.DatabaseDriver)
	}
	if c.Server.DatabaseDriver == "postgres" && c.Server.DatabaseURL == "" {
		add("server.database_url", "required for postgres")
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is on")
	}
	if c.Server.Credits < 0 {
		add("server.credits", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got '%s'", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: '%s'", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies SPORK_* environment variables:
//   - SPORK_CHAT_URL, SPORK_FUNCTIONS_URL, SPORK_PUBLISHABLE_KEY
//   - SPORK_ACCESS_TOKEN, SPORK_SESSION_FILE
//   - SPORK_MODEL, SPORK_PERSONA_ID, SPORK_WORKSPACE_ID
//   - SPORK_LOG_LEVEL, SPORK_LOG_FORMAT
//   - SPORK_ADDR, SPORK_DATABASE_DRIVER, SPORK_DATABASE_URL
//   - SPORK_BEARER_TOKENS (comma separated), SPORK_CREDITS
//   - SPORK_UPSTREAM_URL, SPORK_UPSTREAM_KEY
func (c *Config) ApplyEnvOverrides() {
	strs := map[string]*string{
		"SPORK_CHAT_URL":        &c.Backend.ChatURL,
		"SPORK_FUNCTIONS_URL":   &c.Backend.FunctionsURL,
		"SPORK_PUBLISHABLE_KEY": &c.Backend.PublishableKey,
		"SPORK_ACCESS_TOKEN":    &c.Auth.AccessToken,
		"SPORK_SESSION_FILE":    &c.Auth.SessionFile,
		"SPORK_MODEL":           &c.Chat.DefaultModel,
		"SPORK_PERSONA_ID":      &c.Chat.PersonaID,
		"SPORK_WORKSPACE_ID":    &c.Chat.WorkspaceID,
		"SPORK_LOG_LEVEL":       &c.Log.Level,
		"SPORK_LOG_FORMAT":      &c.Log.Format,
		"SPORK_ADDR":            &c.Server.Addr,
		"SPORK_DATABASE_DRIVER": &c.Server.DatabaseDriver,
		"SPORK_DATABASE_URL":    &c.Server.DatabaseURL,
		"SPORK_UPSTREAM_URL":    &c.Server.UpstreamURL,
		"SPORK_UPSTREAM_KEY":    &c.Server.UpstreamKey,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SPORK_BEARER_TOKENS"); v != "" {
		var tokens []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		c.Server.BearerTokens = tokens
	}
	if v := os.Getenv("SPORK_CREDITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Credits = n
		}
	}
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
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
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
