package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the reminder engine.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Optional YAML file (REMIND_CONFIG_FILE)
//  3. Environment variables
//  4. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithRedisURL("redis://localhost:6379"),
//	    core.WithLogLevel("debug"),
//	)
type Config struct {
	// Store configuration
	RedisURL  string `yaml:"redis_url"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`

	// Transport configuration (external chat platform)
	BotToken string `yaml:"bot_token"`
	AppID    string `yaml:"app_id"`

	// Ack-link signing secret (HMAC over id+action)
	AckSecret string `yaml:"ack_secret"`

	// PublicBaseURL is the externally reachable base of the HTTP server,
	// e.g. "https://remind.example.com". When set, outbound reminders carry
	// a signed fallback acknowledgement link under it. Empty disables the
	// link footer.
	PublicBaseURL string `yaml:"public_base_url"`

	// AdminIDs is the allow-list of actor ids permitted to create/modify
	// reminders through the API. Empty means no mutating API access.
	AdminIDs []string `yaml:"admin_ids"`

	// HTTP server
	HTTPAddr string `yaml:"http_addr"`

	// Tick cadence
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	EscalationInterval time.Duration `yaml:"escalation_interval"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Option configures a Config.
type Option func(*Config)

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url }
}

// WithRedisDB sets the Redis database number.
func WithRedisDB(db int) Option {
	return func(c *Config) { c.RedisDB = db }
}

// WithKeyPrefix sets the key namespace for all persisted state.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) { c.KeyPrefix = prefix }
}

// WithBotToken sets the chat-platform bot token.
func WithBotToken(token string) Option {
	return func(c *Config) { c.BotToken = token }
}

// WithAppID sets the application identifier included in delivery metadata.
func WithAppID(id string) Option {
	return func(c *Config) { c.AppID = id }
}

// WithAckSecret sets the HMAC secret for signed acknowledgement links.
func WithAckSecret(secret string) Option {
	return func(c *Config) { c.AckSecret = secret }
}

// WithPublicBaseURL sets the externally reachable base URL for ack links.
func WithPublicBaseURL(base string) Option {
	return func(c *Config) { c.PublicBaseURL = base }
}

// WithAdminIDs sets the admin actor allow-list.
func WithAdminIDs(ids []string) Option {
	return func(c *Config) { c.AdminIDs = ids }
}

// WithHTTPAddr sets the API listen address.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) { c.HTTPAddr = addr }
}

// WithDispatchInterval sets the due-scan cadence.
func WithDispatchInterval(d time.Duration) Option {
	return func(c *Config) { c.DispatchInterval = d }
}

// WithEscalationInterval sets the escalation-scan cadence.
func WithEscalationInterval(d time.Duration) Option {
	return func(c *Config) { c.EscalationInterval = d }
}

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// NewConfig builds a Config from defaults, file, environment and options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		RedisURL:           "redis://localhost:6379",
		RedisDB:            0,
		KeyPrefix:          "remind",
		HTTPAddr:           ":8080",
		DispatchInterval:   60 * time.Second,
		EscalationInterval: 120 * time.Second,
		LogLevel:           "info",
	}

	if path := os.Getenv("REMIND_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML configuration file into the config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w (check YAML syntax)", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.RedisDB = envIntOrDefault("REMIND_REDIS_DB", c.RedisDB)
	c.KeyPrefix = envOrDefault("REMIND_KEY_PREFIX", c.KeyPrefix)
	c.BotToken = envOrDefault("DISCORD_BOT_TOKEN", c.BotToken)
	c.AppID = envOrDefault("DISCORD_APP_ID", c.AppID)
	c.AckSecret = envOrDefault("REMIND_ACK_SECRET", c.AckSecret)
	c.PublicBaseURL = envOrDefault("REMIND_PUBLIC_BASE_URL", c.PublicBaseURL)
	c.HTTPAddr = envOrDefault("REMIND_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envOrDefault("REMIND_LOG_LEVEL", c.LogLevel)
	c.DispatchInterval = envDurationOrDefault("REMIND_DISPATCH_INTERVAL", c.DispatchInterval)
	c.EscalationInterval = envDurationOrDefault("REMIND_ESCALATION_INTERVAL", c.EscalationInterval)

	if ids := os.Getenv("REMIND_ADMIN_IDS"); ids != "" {
		parts := strings.Split(ids, ",")
		admins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				admins = append(admins, trimmed)
			}
		}
		c.AdminIDs = admins
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis URL is required: %w", ErrMissingConfiguration)
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("redis DB must be 0-15, got %d: %w", c.RedisDB, ErrInvalidConfiguration)
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch interval must be positive: %w", ErrInvalidConfiguration)
	}
	if c.EscalationInterval <= 0 {
		return fmt.Errorf("escalation interval must be positive: %w", ErrInvalidConfiguration)
	}
	if c.PublicBaseURL != "" &&
		!strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("public base URL must start with http:// or https://, got %q: %w", c.PublicBaseURL, ErrInvalidConfiguration)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q: %w", c.LogLevel, ErrInvalidConfiguration)
	}
	return nil
}

// IsAdmin reports whether actorID is in the admin allow-list.
func (c *Config) IsAdmin(actorID string) bool {
	for _, id := range c.AdminIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func envDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
