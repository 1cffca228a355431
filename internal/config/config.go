package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PARLEY"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "parley.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultRealtimeBackend   = "hub"
	defaultPresenceBackend   = "memory"
	defaultPresenceTTL       = 90 * time.Second
	defaultReconcileInterval = 15 * time.Minute
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	RealtimeBackend   string
	PresenceBackend   string
	PresenceTTL       time.Duration
	RedisURL          string
	ReconcileInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("realtime.backend", defaultRealtimeBackend)
	configViper.SetDefault("presence.backend", defaultPresenceBackend)
	configViper.SetDefault("presence.ttl_seconds", int(defaultPresenceTTL.Seconds()))
	configViper.SetDefault("reconcile.interval_minutes", int(defaultReconcileInterval.Minutes()))
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RealtimeBackend:   configViper.GetString("realtime.backend"),
		PresenceBackend:   configViper.GetString("presence.backend"),
		PresenceTTL:       time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		RedisURL:          configViper.GetString("redis.url"),
		ReconcileInterval: time.Duration(configViper.GetInt("reconcile.interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.RealtimeBackend {
	case "hub", "noop":
	default:
		return fmt.Errorf("realtime.backend must be hub or noop, got %q", c.RealtimeBackend)
	}
	switch c.PresenceBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis.url is required when presence.backend is redis")
		}
	default:
		return fmt.Errorf("presence.backend must be memory or redis, got %q", c.PresenceBackend)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}
