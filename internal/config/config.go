// Package config loads service configuration from a YAML file with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// VendorConfig selects and configures the synthesis vendor.
type VendorConfig struct {
	Provider         string `yaml:"provider"` // eleven or openai
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	ReadTimeoutMs    int    `yaml:"read_timeout_ms"`
}

// FallbackConfig optionally names a secondary one-shot vendor tried when
// the primary fails. An empty provider disables the secondary; the
// primary's own one-shot path is still the streaming fallback.
type FallbackConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
}

type CacheConfig struct {
	Driver string `yaml:"driver"` // sqlite or memory
	Path   string `yaml:"path"`
}

// AudioConfig selects the audio-store backend: a configured bucket means
// object storage, otherwise local disk.
type AudioConfig struct {
	Dir       string `yaml:"dir"`
	URLPrefix string `yaml:"url_prefix"`

	Bucket        string `yaml:"bucket"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type RelayConfig struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	FrameTimeoutMs   int `yaml:"frame_timeout_ms"`
}

type AlignmentConfig struct {
	WordDurationMs int `yaml:"word_duration_ms"`
}

type Config struct {
	Listen    string          `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	Vendor    VendorConfig    `yaml:"vendor"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Cache     CacheConfig     `yaml:"cache"`
	Audio     AudioConfig     `yaml:"audio"`
	Relay     RelayConfig     `yaml:"relay"`
	Alignment AlignmentConfig `yaml:"alignment"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "text"},
		Vendor: VendorConfig{
			Provider:         "eleven",
			ConnectTimeoutMs: 10_000,
			ReadTimeoutMs:    30_000,
		},
		Cache: CacheConfig{Driver: "sqlite", Path: "data/narration.db"},
		Audio: AudioConfig{Dir: "data/audio", URLPrefix: "/audio/"},
		Relay: RelayConfig{
			ConnectTimeoutMs: 10_000,
			FrameTimeoutMs:   30_000,
		},
		Alignment: AlignmentConfig{WordDurationMs: 400},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Listen, "NARRATOR_LISTEN")
	overrideString(&c.Log.Level, "NARRATOR_LOG_LEVEL")
	overrideString(&c.Vendor.Provider, "NARRATOR_VENDOR_PROVIDER")
	overrideString(&c.Vendor.BaseURL, "NARRATOR_VENDOR_BASE_URL")
	overrideString(&c.Vendor.APIKey, "NARRATOR_VENDOR_API_KEY")
	overrideString(&c.Vendor.Model, "NARRATOR_VENDOR_MODEL")
	overrideString(&c.Fallback.APIKey, "NARRATOR_FALLBACK_API_KEY")
	overrideString(&c.Cache.Path, "NARRATOR_CACHE_PATH")
	overrideString(&c.Audio.Dir, "NARRATOR_AUDIO_DIR")
	overrideString(&c.Audio.Bucket, "NARRATOR_AUDIO_BUCKET")
	overrideString(&c.Audio.Endpoint, "NARRATOR_AUDIO_ENDPOINT")
	overrideString(&c.Audio.AccessKey, "NARRATOR_AUDIO_ACCESS_KEY")
	overrideString(&c.Audio.SecretKey, "NARRATOR_AUDIO_SECRET_KEY")
	overrideInt(&c.Alignment.WordDurationMs, "NARRATOR_WORD_DURATION_MS")
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Vendor.Provider {
	case "eleven", "openai":
	default:
		return fmt.Errorf("unknown vendor provider %q", c.Vendor.Provider)
	}
	if c.Vendor.Provider == "eleven" && c.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor.base_url is required for the eleven provider")
	}

	switch c.Fallback.Provider {
	case "", "openai":
	default:
		return fmt.Errorf("unknown fallback provider %q", c.Fallback.Provider)
	}

	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}

	if c.Audio.Bucket != "" {
		if c.Audio.Endpoint == "" {
			return fmt.Errorf("audio.endpoint is required when audio.bucket is set")
		}
	} else if c.Audio.Dir == "" {
		return fmt.Errorf("audio.dir is required without an object-store bucket")
	}

	if c.Alignment.WordDurationMs <= 0 {
		return fmt.Errorf("alignment.word_duration_ms must be positive")
	}
	return nil
}

// ObjectStoreEnabled reports whether the object-storage backend is
// selected; selection is by configuration presence only.
func (c *Config) ObjectStoreEnabled() bool { return c.Audio.Bucket != "" }

func (c *Config) VendorConnectTimeout() time.Duration {
	return time.Duration(c.Vendor.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) VendorReadTimeout() time.Duration {
	return time.Duration(c.Vendor.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) RelayConnectTimeout() time.Duration {
	return time.Duration(c.Relay.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) RelayFrameTimeout() time.Duration {
	return time.Duration(c.Relay.FrameTimeoutMs) * time.Millisecond
}

func (c *Config) WordDuration() time.Duration {
	return time.Duration(c.Alignment.WordDurationMs) * time.Millisecond
}

// LogLevel maps the configured level onto slog's scale, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
