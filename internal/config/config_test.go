package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SEED_USERS", "alice,bob")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "127.0.0.1:3000", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, time.Second, cfg.TypingQuietPeriod)
	assert.Equal(t, 16, cfg.ClientSendBuffer)
	assert.Equal(t, []string{"alice", "bob"}, cfg.SeedUsers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", " Mongo ")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	t.Setenv("TYPING_QUIET_PERIOD", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mongo", cfg.StoreBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.TypingQuietPeriod)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{JWTSecret: "x", StoreBackend: "memory", TypingQuietPeriod: time.Second, ClientSendBuffer: 1}
	}
	cases := map[string]func(*Config){
		"missing secret":    func(c *Config) { c.JWTSecret = "" },
		"unknown backend":   func(c *Config) { c.StoreBackend = "redis" },
		"mongo without uri": func(c *Config) { c.StoreBackend = "mongo" },
		"zero quiet period": func(c *Config) { c.TypingQuietPeriod = 0 },
		"zero buffer":       func(c *Config) { c.ClientSendBuffer = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := base()
	assert.NoError(t, cfg.Validate())
}
