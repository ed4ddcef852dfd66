package instance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	"tempo/pkg/platform/sentinel"
)

// Sealer encrypts instance payloads at rest, scoped by company.
type Sealer interface {
	Seal(scope string, plaintext []byte) ([]byte, error)
	Open(scope string, sealed []byte) ([]byte, error)
}

type plainSealer struct{}

func (plainSealer) Seal(_ string, p []byte) ([]byte, error) { return p, nil }
func (plainSealer) Open(_ string, p []byte) ([]byte, error) { return p, nil }

const selectColumns = `id, company_id, app_name, status, account, data_schema, data, last_error, version, created_at, updated_at`

// PostgresStore persists instances in the app_instances table. The
// single-instance rule is a partial unique index on (company_id, app_name).
type PostgresStore struct {
	db     *sql.DB
	sealer Sealer
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithSealer encrypts the data column with s.
func WithSealer(s Sealer) PostgresOption {
	return func(p *PostgresStore) {
		if s != nil {
			p.sealer = s
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed instance store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, sealer: plainSealer{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Create(ctx context.Context, inst *models.Instance, allowMultiple bool) error {
	if inst == nil {
		return fmt.Errorf("instance is required")
	}
	account, data, err := s.encode(inst)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO app_instances (id, company_id, app_name, allow_multiple, status, account, data_schema, data, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(inst.ID),
		uuid.UUID(inst.CompanyID),
		inst.AppName,
		allowMultiple,
		string(inst.Status),
		nullBytes(account),
		inst.Data.Schema,
		nullBytes(data),
		inst.LastError,
		inst.Version,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("app %s already installed: %w", inst.AppName, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create app instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, error) {
	query := `SELECT ` + selectColumns + ` FROM app_instances WHERE company_id = $1 AND id = $2`
	inst, err := s.scan(s.db.QueryRowContext(ctx, query, uuid.UUID(companyID), uuid.UUID(instanceID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find app instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) ListByCompany(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error) {
	query := `SELECT ` + selectColumns + ` FROM app_instances WHERE company_id = $1 ORDER BY created_at, app_name, id`
	return s.query(ctx, query, uuid.UUID(companyID))
}

func (s *PostgresStore) ListByAppNames(ctx context.Context, companyID id.CompanyID, appNames ...string) ([]*models.Instance, error) {
	if len(appNames) == 0 {
		return []*models.Instance{}, nil
	}
	query := `SELECT ` + selectColumns + ` FROM app_instances WHERE company_id = $1 AND app_name = ANY($2) ORDER BY created_at, app_name, id`
	return s.query(ctx, query, uuid.UUID(companyID), appNames)
}

// Update writes inst if the stored version equals expectedVersion. The
// statement is a single compare-and-swap; on success inst.Version is bumped.
func (s *PostgresStore) Update(ctx context.Context, inst *models.Instance, expectedVersion int64) error {
	if inst == nil {
		return fmt.Errorf("instance is required")
	}
	account, data, err := s.encode(inst)
	if err != nil {
		return err
	}
	query := `
		UPDATE app_instances
		SET status = $1, account = $2, data_schema = $3, data = $4, last_error = $5, updated_at = $6, version = version + 1
		WHERE company_id = $7 AND id = $8 AND version = $9
	`
	res, err := s.db.ExecContext(ctx, query,
		string(inst.Status),
		nullBytes(account),
		inst.Data.Schema,
		nullBytes(data),
		inst.LastError,
		inst.UpdatedAt,
		uuid.UUID(inst.CompanyID),
		uuid.UUID(inst.ID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update app instance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update app instance rows: %w", err)
	}
	if rows == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM app_instances WHERE company_id = $1 AND id = $2)`,
			uuid.UUID(inst.CompanyID), uuid.UUID(inst.ID),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check app instance: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("app instance changed since version %d: %w", expectedVersion, sentinel.ErrConflict)
	}
	inst.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_instances WHERE company_id = $1 AND id = $2`,
		uuid.UUID(companyID), uuid.UUID(instanceID))
	if err != nil {
		return fmt.Errorf("delete app instance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete app instance rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list app instances: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Instance, 0)
	for rows.Next() {
		inst, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan app instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app instances: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scan(row rowScanner) (*models.Instance, error) {
	var (
		inst       models.Instance
		instanceID uuid.UUID
		companyID  uuid.UUID
		status     string
		account    []byte
		schema     string
		data       []byte
	)
	if err := row.Scan(&instanceID, &companyID, &inst.AppName, &status, &account, &schema, &data,
		&inst.LastError, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	inst.ID = id.InstanceID(instanceID)
	inst.CompanyID = id.CompanyID(companyID)
	inst.Status = models.Status(status)
	if len(account) > 0 {
		inst.Account = &models.Account{}
		if err := json.Unmarshal(account, inst.Account); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
	}
	inst.Data.Schema = schema
	if len(data) > 0 {
		payload, err := s.sealer.Open(inst.CompanyID.String(), data)
		if err != nil {
			return nil, fmt.Errorf("open app data: %w", err)
		}
		inst.Data.Payload = payload
	}
	return &inst, nil
}

func (s *PostgresStore) encode(inst *models.Instance) (account, data []byte, err error) {
	if inst.Account != nil {
		account, err = json.Marshal(inst.Account)
		if err != nil {
			return nil, nil, fmt.Errorf("encode account: %w", err)
		}
	}
	if len(inst.Data.Payload) > 0 {
		data, err = s.sealer.Seal(inst.CompanyID.String(), inst.Data.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("seal app data: %w", err)
		}
	}
	return account, data, nil
}

// nullBytes stores empty payloads as NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
