package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// InstanceID names this process on the action broker; each instance
	// subscribes to its own inbound channel derived from this id.
	InstanceID string `env:"INSTANCE_ID"`

	// InteractionInstances lists the interaction-tier instance ids the
	// control tier may dispatch stage creation to.
	InteractionInstances []string `env:"INTERACTION_INSTANCES" envSeparator:","`

	AccessTokenSecret  string `env:"ACCESS_TOKEN_SECRET,required"`
	RefreshTokenSecret string `env:"REFRESH_TOKEN_SECRET,required"`

	HeartbeatIntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"5"`
	IdleTimeoutSeconds       int `env:"IDLE_TIMEOUT_SECONDS" envDefault:"20"`
	PairingTTLSeconds        int `env:"PAIRING_TTL_SECONDS" envDefault:"120"`
	ActionTimeoutSeconds     int `env:"ACTION_TIMEOUT_SECONDS" envDefault:"10"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.InstanceID == "" {
		return fmt.Errorf("INSTANCE_ID must be set")
	}

	if c.IdleTimeoutSeconds <= c.HeartbeatIntervalSeconds {
		return fmt.Errorf("IDLE_TIMEOUT_SECONDS (%d) must exceed HEARTBEAT_INTERVAL_SECONDS (%d)",
			c.IdleTimeoutSeconds, c.HeartbeatIntervalSeconds)
	}

	if isProduction {
		if err := validateSecret("ACCESS_TOKEN_SECRET", c.AccessTokenSecret); err != nil {
			return err
		}
		if err := validateSecret("REFRESH_TOKEN_SECRET", c.RefreshTokenSecret); err != nil {
			return err
		}

		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
