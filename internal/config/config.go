package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

type Config struct {
	ServerPort   string
	DatabaseURL  string
	RedisURL     string
	JWTSecret    string
	DebugKeyHash string
	LogLevel     string

	RedisPrefix          string
	RedisLeaseTTL        time.Duration
	ConnectivityInterval time.Duration
	ReaperInterval       time.Duration

	Presence PresenceConfig
}

// PresenceConfig mirrors presence.Settings as read from the environment.
type PresenceConfig struct {
	RecordPath     string
	RetryBaseDelay time.Duration
	MaxRetries     int
	Debug          bool
	AllowedStates  []models.State
	AutoAway       bool
	AwayTimeout    time.Duration
}

func LoadConfig() (*Config, error) {
	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid %s format", key))
		}
		return d
	}
	integer := func(key string, def int) int {
		n, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("invalid %s format", key))
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s format", key))
		}
		return b
	}

	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		DebugKeyHash: os.Getenv("DEBUG_KEY_HASH"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		RedisPrefix:          getEnv("REDIS_PREFIX", "presence:"),
		RedisLeaseTTL:        duration("REDIS_LEASE_TTL", "15s"),
		ConnectivityInterval: duration("CONNECTIVITY_INTERVAL", "5s"),
		ReaperInterval:       duration("REAPER_INTERVAL", "5s"),

		Presence: PresenceConfig{
			RecordPath:     getEnv("PRESENCE_RECORD_PATH", presence.DefaultRecordPath),
			RetryBaseDelay: duration("PRESENCE_RETRY_BASE_DELAY", presence.DefaultRetryBaseDelay.String()),
			MaxRetries:     integer("PRESENCE_MAX_RETRIES", presence.DefaultMaxRetries),
			Debug:          boolean("PRESENCE_DEBUG", false),
			AllowedStates:  parseStates(os.Getenv("PRESENCE_ALLOWED_STATES")),
			AutoAway:       boolean("PRESENCE_AUTO_AWAY", true),
			AwayTimeout:    duration("PRESENCE_AWAY_TIMEOUT", presence.DefaultAwayTimeout.String()),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.RedisURL != "" && cfg.RedisLeaseTTL <= cfg.ConnectivityInterval {
		return nil, errors.New("REDIS_LEASE_TTL must be longer than CONNECTIVITY_INTERVAL")
	}

	return cfg, nil
}

// PresenceOptions converts the presence settings into service options.
func (c *Config) PresenceOptions() []presence.Option {
	p := c.Presence
	opts := []presence.Option{
		presence.WithRecordPath(p.RecordPath),
		presence.WithRetryBaseDelay(p.RetryBaseDelay),
		presence.WithMaxRetries(p.MaxRetries),
		presence.WithDebug(p.Debug),
		presence.WithAutoAway(p.AutoAway),
		presence.WithAwayTimeout(p.AwayTimeout),
	}
	if len(p.AllowedStates) > 0 {
		opts = append(opts, presence.WithAllowedStates(p.AllowedStates...))
	}
	return opts
}

// parseStates splits a comma separated list; empty means the defaults.
func parseStates(s string) []models.State {
	var states []models.State
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			states = append(states, models.State(part))
		}
	}
	return states
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
