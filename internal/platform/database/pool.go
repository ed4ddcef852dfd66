// Package database opens the PostgreSQL pool behind the instance and
// pending stores.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tempo/internal/platform/config"
)

const pingTimeout = 5 * time.Second

// ErrNotConfigured is returned by Health on a pool that was never opened.
var ErrNotConfigured = errors.New("database not configured")

// Pool is an open pgx-backed *sql.DB.
type Pool struct {
	db *sql.DB
}

// New opens and pings the pool. An empty URL yields a nil Pool, which callers
// treat as "use the in-memory stores".
func New(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyLimits(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{db: db}, nil
}

func applyLimits(db *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// DB returns the pool for the stores.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health pings the database; it backs the readiness check.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return ErrNotConfigured
	}
	return p.db.PingContext(ctx)
}

// Collector exports sql.DBStats (open, idle and in-use connections, wait
// counts) labelled db_name="tempo".
func (p *Pool) Collector() prometheus.Collector {
	return collectors.NewDBStatsCollector(p.db, "tempo")
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
