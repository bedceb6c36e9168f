package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("HeartbeatInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{HeartbeatIntervalSeconds: 5}
		assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval())
	})

	t.Run("IdleTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{IdleTimeoutSeconds: 20}
		assert.Equal(t, 20*time.Second, cfg.IdleTimeout())
	})

	t.Run("PairingTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PairingTTLSeconds: 120}
		assert.Equal(t, 120*time.Second, cfg.PairingTTL())
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			InstanceID:               "interaction-1",
			HeartbeatIntervalSeconds: 5,
			IdleTimeoutSeconds:       20,
			AccessTokenSecret:        "0123456789abcdef0123456789abcdef",
			RefreshTokenSecret:       "fedcba9876543210fedcba9876543210",
			RedisURL:                 "rediss://localhost:6379",
		}
	}

	t.Run("accepts a well-formed config", func(t *testing.T) {
		assert.NoError(t, base().Validate(true))
	})

	t.Run("requires an instance id", func(t *testing.T) {
		cfg := base()
		cfg.InstanceID = ""
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects idle timeout at or below heartbeat interval", func(t *testing.T) {
		cfg := base()
		cfg.IdleTimeoutSeconds = 5
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short secrets in production", func(t *testing.T) {
		cfg := base()
		cfg.AccessTokenSecret = "short"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects known weak secrets in production", func(t *testing.T) {
		cfg := base()
		cfg.RefreshTokenSecret = "change-me"
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "INSTANCE_ID", "INTERACTION_INSTANCES",
		"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET",
		"HEARTBEAT_INTERVAL_SECONDS", "IDLE_TIMEOUT_SECONDS",
		"PAIRING_TTL_SECONDS", "ACTION_TIMEOUT_SECONDS", "LOG_LEVEL",
	}

	originalEnv := map[string]string{}
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	setRequired := func() {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("ACCESS_TOKEN_SECRET", "acc-secret")
		os.Setenv("REFRESH_TOKEN_SECRET", "ref-secret")
	}

	t.Run("loads config with defaults", func(t *testing.T) {
		setRequired()
		os.Unsetenv("PORT")
		os.Unsetenv("HEARTBEAT_INTERVAL_SECONDS")
		os.Unsetenv("IDLE_TIMEOUT_SECONDS")
		os.Unsetenv("PAIRING_TTL_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, 5, cfg.HeartbeatIntervalSeconds)
		assert.Equal(t, 20, cfg.IdleTimeoutSeconds)
		assert.Equal(t, 120, cfg.PairingTTLSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		setRequired()
		os.Setenv("PORT", "3000")
		os.Setenv("INSTANCE_ID", "interaction-2")
		os.Setenv("INTERACTION_INSTANCES", "interaction-1,interaction-2")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "interaction-2", cfg.InstanceID)
		assert.Equal(t, []string{"interaction-1", "interaction-2"}, cfg.InteractionInstances)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		setRequired()
		os.Unsetenv("DATABASE_URL")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		setRequired()
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
