//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tempo/migrations"
)

// gatewayTables lists every table the schema creates, children first.
var gatewayTables = []string{"pending_authorizations", "app_instances"}

// PostgresContainer is a migrated Postgres shared by the store suites.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the embedded schema with
// the same migrator "tempo migrate up" uses.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("tempo_test"),
		postgres.WithUsername("tempo"),
		postgres.WithPassword("tempo_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	fail := func(format string, args ...any) {
		_ = container.Terminate(ctx)
		t.Fatalf(format, args...)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fail("postgres connection string: %v", err)
	}
	if err := migrations.Up(dsn); err != nil {
		fail("apply migrations: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fail("open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		fail("ping postgres: %v", err)
	}

	// Shared across suites through Manager; the testcontainers reaper stops it.
	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateAll empties every gateway table in one statement.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(gatewayTables, ", ")); err != nil {
		return fmt.Errorf("truncate gateway tables: %w", err)
	}
	return nil
}

// CountInstances returns how many instances a company has for appName.
func (p *PostgresContainer) CountInstances(ctx context.Context, companyID, appName string) (int, error) {
	var n int
	err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM app_instances WHERE company_id = $1 AND app_name = $2`,
		companyID, appName,
	).Scan(&n)
	return n, err
}

// QueryRow runs a query expected to return a single row.
func (p *PostgresContainer) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.DB.QueryRowContext(ctx, query, args...)
}
