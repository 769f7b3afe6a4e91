package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 8000
	DefaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel        = "gemini-pro"
	DefaultUnaryTimeout = 60 * time.Second
	DefaultLogLevel     = "info"
)

// Environment variables consulted after the YAML file has been applied.
const (
	EnvAPIKey   = "GEMINI_API_KEY"
	EnvBaseURL  = "GEMINI_BASE_URL"
	EnvModel    = "GEMINI_MODEL"
	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"
)

// ErrMissingAPIKey is returned when no upstream credential is configured.
var ErrMissingAPIKey = errors.New("upstream api_key must be provided (set " + EnvAPIKey + ")")

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// UpstreamConfig carries everything the Gemini client needs. It is passed to
// the client at construction time.
type UpstreamConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Headers      Headers       `yaml:"headers"`
	UnaryTimeout time.Duration `yaml:"unary_timeout"`
}

// Headers contains additional HTTP headers to send with an upstream request.
type Headers map[string]string

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration populated with built-in defaults and no
// credential.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Upstream: UpstreamConfig{
			BaseURL:      DefaultBaseURL,
			Model:        DefaultModel,
			UnaryTimeout: DefaultUnaryTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and the process environment, then validates the result.
// An empty path skips the YAML step.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env file: %w", err)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", absPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		c.Upstream.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Upstream.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvModel); ok && strings.TrimSpace(v) != "" {
		c.Upstream.Model = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if err := c.Upstream.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Validate checks the upstream section on its own so the client can reuse it.
func (u UpstreamConfig) Validate() error {
	if strings.TrimSpace(u.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(u.BaseURL) == "" {
		return errors.New("upstream base_url must be provided")
	}
	if strings.TrimSpace(u.Model) == "" {
		return errors.New("upstream model must be provided")
	}
	if u.UnaryTimeout < 0 {
		return fmt.Errorf("upstream unary_timeout must not be negative, got %s", u.UnaryTimeout)
	}

	for headerKey := range u.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
