package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigOptions_PrefersURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache.internal:6380/2"
	cfg.PoolSize = 32

	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 32, opts.PoolSize)
}

func TestConfigOptions_DiscreteFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "10.0.0.5"
	cfg.DB = 3

	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
}

func TestConfigOptions_BadURL(t *testing.T) {
	cfg := Config{URL: "http://not-redis"}
	_, err := cfg.options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "standings:order:c1", StandingsOrderKey("c1"))
	assert.Equal(t, "standings:info:c1", StandingsInfoKey("c1"))
	assert.Equal(t, "lock:user:u1", LockKey("u1"))
}
