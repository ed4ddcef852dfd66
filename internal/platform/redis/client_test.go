package redis

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/platform/config"
)

func TestNewWithoutURLIsNil(t *testing.T) {
	c, err := New(config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(config.RedisConfig{URL: "http://not-redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis URL")
}

func TestPoolCollectorReportsStats(t *testing.T) {
	c := &poolCollector{stats: func() *redis.PoolStats {
		return &redis.PoolStats{Hits: 7, Misses: 2, TotalConns: 4, IdleConns: 3}
	}}
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP tempo_redis_pool_hits_total Connections found in the pool.
# TYPE tempo_redis_pool_hits_total counter
tempo_redis_pool_hits_total 7
# HELP tempo_redis_pool_idle_conns Idle connections currently in the pool.
# TYPE tempo_redis_pool_idle_conns gauge
tempo_redis_pool_idle_conns 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tempo_redis_pool_hits_total", "tempo_redis_pool_idle_conns"))
}
