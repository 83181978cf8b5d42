// Package config assembles process configuration for the ssebridge server
// and CLI from an optional TOML file and the environment. Environment
// variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// NoTimeout is the Timeout value for "none": sessions block until a
// message arrives.
const NoTimeout time.Duration = -1

// KeyPrefixEnv names the variable holding the finish-marker key prefix. It
// is looked up separately because an empty prefix is a valid setting.
const KeyPrefixEnv = "SSE_REDIS_CHANNEL_KEY_PREFIX"

var ErrNoRedisURL = errors.New("must set a redis connection URL in app config")

// Config is the resolved configuration.
type Config struct {
	RedisURL string
	Addr     string
	Path     string

	// KeyPrefix is prepended to channel names to form finish-marker keys.
	// Finish tracking is enabled only when KeyPrefixSet is true.
	KeyPrefix    string
	KeyPrefixSet bool
	// FinishDir switches finish markers from Redis keys to files.
	FinishDir  string
	FailClosed bool

	ProbeEnabled bool
	ProbePayload string
	// Timeout is the receive wait window. Zero selects the automatic
	// choice; NoTimeout blocks indefinitely.
	Timeout time.Duration

	PublishEndpoints bool
	LogLevel         slog.Level
}

// Tracking reports whether sessions consult finish markers.
func (c Config) Tracking() bool { return c.KeyPrefixSet || c.FinishDir != "" }

func Default() Config {
	return Config{
		Addr:     ":8080",
		Path:     "/stream",
		LogLevel: slog.LevelInfo,
	}
}

type envConfig struct {
	SSERedisURL      string `env:"SSE_REDIS_URL"`
	RedisURL         string `env:"REDIS_URL"`
	Addr             string `env:"SSE_ADDR"`
	Path             string `env:"SSE_PATH"`
	ProbeEnabled     string `env:"SSE_PROBE_ENABLED"`
	ProbePayload     string `env:"SSE_PROBE_PAYLOAD"`
	Timeout          string `env:"SSE_TIMEOUT"`
	FailClosed       string `env:"SSE_FINISH_FAIL_CLOSED"`
	FinishDir        string `env:"SSE_FINISH_DIR"`
	PublishEndpoints string `env:"SSE_PUBLISH_ENDPOINTS"`
	LogLevel         string `env:"SSE_LOG_LEVEL"`
}

type fileConfig struct {
	RedisURL         string `toml:"redis_url"`
	Addr             string `toml:"addr"`
	Path             string `toml:"path"`
	KeyPrefix        string `toml:"redis_channel_key_prefix"`
	ProbeEnabled     bool   `toml:"probe_enabled"`
	ProbePayload     string `toml:"probe_payload"`
	Timeout          string `toml:"timeout"`
	FailClosed       bool   `toml:"finish_fail_closed"`
	FinishDir        string `toml:"finish_dir"`
	PublishEndpoints bool   `toml:"publish_endpoints"`
	LogLevel         string `toml:"log_level"`
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and the environment only.
func FromEnv() (Config, error) { return Load("") }

// LoadFile applies the keys present in the TOML file at path to cfg.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("redis_url") {
		cfg.RedisURL = strings.TrimSpace(raw.RedisURL)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("redis_channel_key_prefix") {
		cfg.KeyPrefix = raw.KeyPrefix
		cfg.KeyPrefixSet = true
	}
	if meta.IsDefined("probe_enabled") {
		cfg.ProbeEnabled = raw.ProbeEnabled
	}
	if meta.IsDefined("probe_payload") {
		cfg.ProbePayload = raw.ProbePayload
	}
	if meta.IsDefined("timeout") {
		d, err := ParseTimeout(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("finish_fail_closed") {
		cfg.FailClosed = raw.FailClosed
	}
	if meta.IsDefined("finish_dir") {
		cfg.FinishDir = strings.TrimSpace(raw.FinishDir)
	}
	if meta.IsDefined("publish_endpoints") {
		cfg.PublishEndpoints = raw.PublishEndpoints
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw.LogLevel)); err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
	}
	return nil
}

// ApplyEnv applies the set environment variables to cfg.
func ApplyEnv(cfg *Config) error {
	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}

	switch {
	case env.SSERedisURL != "":
		cfg.RedisURL = env.SSERedisURL
	case env.RedisURL != "":
		cfg.RedisURL = env.RedisURL
	}
	if env.Addr != "" {
		cfg.Addr = env.Addr
	}
	if env.Path != "" {
		cfg.Path = env.Path
	}
	if prefix, ok := os.LookupEnv(KeyPrefixEnv); ok {
		cfg.KeyPrefix = prefix
		cfg.KeyPrefixSet = true
	}
	if env.ProbePayload != "" {
		cfg.ProbePayload = env.ProbePayload
	}
	if env.FinishDir != "" {
		cfg.FinishDir = env.FinishDir
	}
	if env.Timeout != "" {
		d, err := ParseTimeout(env.Timeout)
		if err != nil {
			return fmt.Errorf("parse SSE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if env.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(env.LogLevel)); err != nil {
			return fmt.Errorf("parse SSE_LOG_LEVEL: %w", err)
		}
	}

	bools := []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"SSE_PROBE_ENABLED", env.ProbeEnabled, &cfg.ProbeEnabled},
		{"SSE_FINISH_FAIL_CLOSED", env.FailClosed, &cfg.FailClosed},
		{"SSE_PUBLISH_ENDPOINTS", env.PublishEndpoints, &cfg.PublishEndpoints},
	}
	for _, b := range bools {
		if b.raw == "" {
			continue
		}
		v, err := strconv.ParseBool(b.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", b.name, err)
		}
		*b.dst = v
	}
	return nil
}

// ParseTimeout parses a receive window: a Go duration ("15s"), a bare
// number of seconds ("15") or "none". Zero and negative windows are
// rejected.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "none") {
		return NoTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive or \"none\", got %q", s)
	}
	return d, nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return ErrNoRedisURL
	}
	if c.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("stream path must start with \"/\", got %q", c.Path)
	}
	if strings.ContainsAny(c.ProbePayload, "\r\n") {
		return errors.New("probe payload must be a single line")
	}
	return nil
}
