package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts := options(ClientConfig{Addr: "cache:6379", PoolSize: 2, Workers: 6, TLSEnabled: true})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, defaultClientName, opts.ClientName)
	assert.Equal(t, 6, opts.MinIdleConns)
	assert.Equal(t, 6, opts.PoolSize, "pool grows to hold the idle workers")
	assert.True(t, opts.ContextTimeoutEnabled)
	require.NotNil(t, opts.TLSConfig)

	opts = options(ClientConfig{Addr: "cache:6379", ClientName: "fundsettle-worker"})
	assert.Equal(t, "fundsettle-worker", opts.ClientName)
	assert.Zero(t, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)
}

func TestCheckEvictionPolicy(t *testing.T) {
	for _, policy := range []string{"", "noeviction"} {
		assert.NoError(t, checkEvictionPolicy(policy), policy)
	}
	for _, policy := range []string{"allkeys-lru", "volatile-ttl", "volatile-lfu"} {
		assert.Error(t, checkEvictionPolicy(policy), policy)
	}
}
