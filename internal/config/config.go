// Package config loads and validates the wabot YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole service configuration, loaded from a single YAML file
// with env-var overrides for secrets.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Provider  ProviderConfig  `yaml:"provider"`
	Bot       BotConfig       `yaml:"bot"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AdminToken protects the admin endpoints. Empty disables auth
	// (standalone/dev only). Override: WABOT_ADMIN_TOKEN.
	AdminToken string `yaml:"adminToken"`
	// RateLimitRPM caps admin requests per minute per client IP.
	RateLimitRPM   int `yaml:"rateLimitRpm"`
	RateLimitBurst int `yaml:"rateLimitBurst"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend: "redis" (default) or "memory" (standalone, state lost on
	// restart).
	Backend string `yaml:"backend"`
	// RedisURL, e.g. "redis://localhost:6379/0". Override: WABOT_REDIS_URL.
	RedisURL string `yaml:"redisUrl"`
	// OpTimeout bounds every store round trip.
	OpTimeout Duration `yaml:"opTimeout"`
}

// WhatsAppConfig configures the whatsmeow channel.
type WhatsAppConfig struct {
	// SessionDB is the SQLite path holding the paired device credentials.
	SessionDB string `yaml:"sessionDb"`
	// LogLevel for the whatsmeow client ("DEBUG", "INFO", "WARN", "ERROR").
	LogLevel string `yaml:"logLevel"`
}

// ProviderConfig configures the LLM backend.
type ProviderConfig struct {
	// APIKey for the OpenAI-compatible API. Override: WABOT_OPENAI_API_KEY.
	APIKey string `yaml:"apiKey"`
	// BaseURL switches vendors (DeepSeek, Qwen, ...). Empty = api.openai.com.
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

// BotConfig holds the behavior settings that support hot reload.
type BotConfig struct {
	SystemPrompt string `yaml:"systemPrompt"`
	// ContextWindow is the max messages kept per conversation.
	ContextWindow int `yaml:"contextWindow"`
	// ContextTTL is the sliding expiry for idle conversations.
	ContextTTL Duration `yaml:"contextTtl"`
	// RateLimitMax requests per RateLimitWindow per user.
	RateLimitMax    int      `yaml:"rateLimitMax"`
	RateLimitWindow Duration `yaml:"rateLimitWindow"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // "grpc" (default) or "http"
	Insecure    bool              `yaml:"insecure"`
	ServiceName string            `yaml:"serviceName"`
	Headers     map[string]string `yaml:"headers"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8077,
			RateLimitRPM:   120,
			RateLimitBurst: 20,
		},
		Store: StoreConfig{
			Backend:   "redis",
			RedisURL:  "redis://localhost:6379/0",
			OpTimeout: Duration(3 * time.Second),
		},
		WhatsApp: WhatsAppConfig{
			SessionDB: filepath.Join(defaultDataDir(), "whatsapp.db"),
			LogLevel:  "WARN",
		},
		Provider: ProviderConfig{
			Model: "gpt-4o-mini",
		},
		Bot: BotConfig{
			SystemPrompt:    "You are a helpful assistant replying inside WhatsApp. Keep answers short and conversational.",
			ContextWindow:   20,
			ContextTTL:      Duration(24 * time.Hour),
			RateLimitMax:    10,
			RateLimitWindow: Duration(time.Minute),
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "wabot",
		},
	}
}

// Load reads, overlays env overrides, and validates the config at path.
// A missing file yields the defaults (env overrides still apply).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults + env only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes the default config to path, creating parent
// directories as needed.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv overlays secret-bearing settings from the environment so they
// never have to live in the YAML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WABOT_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("WABOT_OPENAI_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("WABOT_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
}

// Validate rejects configs that cannot possibly run.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redisUrl is required for the redis backend")
		}
	case "memory":
		// No settings.
	default:
		return fmt.Errorf("unknown store.backend %q (want redis or memory)", c.Store.Backend)
	}

	if c.Bot.ContextWindow <= 0 {
		return fmt.Errorf("bot.contextWindow must be positive, got %d", c.Bot.ContextWindow)
	}
	if c.Bot.ContextTTL <= 0 {
		return fmt.Errorf("bot.contextTtl must be positive, got %s", c.Bot.ContextTTL)
	}
	if c.Bot.RateLimitMax <= 0 {
		return fmt.Errorf("bot.rateLimitMax must be positive, got %d", c.Bot.RateLimitMax)
	}
	if c.Bot.RateLimitWindow <= 0 {
		return fmt.Errorf("bot.rateLimitWindow must be positive, got %s", c.Bot.RateLimitWindow)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// Redacted returns a copy safe for display: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "****"
	}
	if out.Server.AdminToken != "" {
		out.Server.AdminToken = "****"
	}
	if out.Store.RedisURL != "" {
		out.Store.RedisURL = redactURL(out.Store.RedisURL)
	}
	return &out
}

// redactURL masks any password embedded in a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxx")
	}
	return u.String()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}
