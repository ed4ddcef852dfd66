package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	"tempo/pkg/platform/sentinel"
)

// PostgresStore keeps pending authorizations in the pending_authorizations
// table. A unique index on (company_id, app_name) holds one live flow per app.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts p, replacing any older authorization for the same flow.
func (s *PostgresStore) Save(ctx context.Context, p *models.PendingAuthorization) error {
	if p == nil || p.State == "" {
		return fmt.Errorf("pending authorization state is required: %w", sentinel.ErrInvalidInput)
	}
	var instanceID any
	if p.InstanceID != nil {
		instanceID = uuid.UUID(*p.InstanceID)
	}
	query := `
		INSERT INTO pending_authorizations (state, company_id, app_name, instance_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, app_name) DO UPDATE
		SET state = EXCLUDED.state, instance_id = EXCLUDED.instance_id,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query, p.State, uuid.UUID(p.CompanyID), p.AppName, instanceID, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save pending authorization: %w", err)
	}
	return nil
}

// Consume deletes and returns the row for state in one statement, so two
// concurrent redirects cannot both succeed.
func (s *PostgresStore) Consume(ctx context.Context, state string, now time.Time) (*models.PendingAuthorization, error) {
	query := `
		DELETE FROM pending_authorizations WHERE state = $1
		RETURNING state, company_id, app_name, instance_id, created_at, expires_at
	`
	var (
		p          models.PendingAuthorization
		companyID  uuid.UUID
		instanceID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, query, state).Scan(&p.State, &companyID, &p.AppName, &instanceID, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	p.CompanyID = id.CompanyID(companyID)
	if instanceID.Valid {
		iid := id.InstanceID(instanceID.UUID)
		p.InstanceID = &iid
	}
	if p.IsExpired(now) {
		return nil, sentinel.ErrExpired
	}
	return &p, nil
}

// DeleteExpired removes every row expired as of now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_authorizations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending authorizations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired pending authorizations rows: %w", err)
	}
	return int(rows), nil
}
