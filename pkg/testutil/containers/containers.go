//go:build integration

// Package containers starts the gateway's backing services (Postgres, Redis,
// Kafka) once per test binary and hands the same instance to every suite.
package containers

import (
	"sync"
	"testing"
)

// shared starts a container on first use. A failed start is not cached, so
// the next suite retries.
type shared[T any] struct {
	mu  sync.Mutex
	val *T
}

func (s *shared[T]) get(t *testing.T, start func(*testing.T) *T) *T {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.val == nil {
		s.val = start(t)
	}
	return s.val
}

// Manager owns the per-process containers.
type Manager struct {
	postgres shared[PostgresContainer]
	redis    shared[RedisContainer]
	kafka    shared[KafkaContainer]
}

var manager = &Manager{}

// GetManager returns the process-wide Manager.
func GetManager() *Manager {
	return manager
}

// GetPostgres returns the migrated Postgres container.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns the Redis container backing pending authorizations.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns the Kafka-compatible broker for lifecycle events.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	return m.kafka.get(t, NewKafkaContainer)
}
