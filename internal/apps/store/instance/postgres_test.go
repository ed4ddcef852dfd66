package instance

import (
	"bytes"
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/apps/models"
	"tempo/pkg/platform/sealing"
	"tempo/pkg/platform/sentinel"
	"tempo/pkg/testutil"
)

func newMockStore(t *testing.T, opts ...PostgresOption) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db, opts...), mock
}

var instanceColumns = []string{"id", "company_id", "app_name", "status", "account", "data_schema", "data", "last_error", "version", "created_at", "updated_at"}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	inst := testutil.NewInstance(testutil.TestIDs.CompanyA, "zoom").Build()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_instances")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "app_instances_single_idx"})

	err := store.Create(context.Background(), inst, false)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
}

func TestPostgresFindScopesByCompany(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_instances WHERE company_id = $1 AND id = $2")).
		WithArgs(uuid.UUID(testutil.TestIDs.CompanyA), uuid.UUID(testutil.TestIDs.InstanceB1)).
		WillReturnRows(sqlmock.NewRows(instanceColumns))

	_, err := store.FindByID(context.Background(), testutil.TestIDs.CompanyA, testutil.TestIDs.InstanceB1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresFindDecodesRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_instances WHERE company_id = $1 AND id = $2")).
		WillReturnRows(sqlmock.NewRows(instanceColumns).AddRow(
			testutil.TestIDs.InstanceA1.String(), testutil.TestIDs.CompanyA.String(), "zoom", "connected",
			[]byte(`{"id":"u-1","display_name":"Ada"}`), "zoom/v1", []byte(`{"access_token":"x"}`), "", int64(4), now, now,
		))

	inst, err := store.FindByID(context.Background(), testutil.TestIDs.CompanyA, testutil.TestIDs.InstanceA1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, inst.Status)
	assert.Equal(t, "Ada", inst.Account.DisplayName)
	assert.Equal(t, int64(4), inst.Version)
	assert.JSONEq(t, `{"access_token":"x"}`, string(inst.Data.Payload))
}

func TestPostgresUpdateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	inst := testutil.NewInstance(testutil.TestIDs.CompanyA, "zoom").Build()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE app_instances")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.Update(context.Background(), inst, 1)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.Equal(t, int64(1), inst.Version)
}

func TestPostgresUpdateMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	inst := testutil.NewInstance(testutil.TestIDs.CompanyA, "zoom").Build()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE app_instances")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	assert.ErrorIs(t, store.Update(context.Background(), inst, 1), sentinel.ErrNotFound)
}

func TestPostgresUpdateBumpsVersion(t *testing.T) {
	store, mock := newMockStore(t)
	inst := testutil.NewInstance(testutil.TestIDs.CompanyA, "zoom").Build()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE app_instances")).
		WithArgs("connected", nil, "", nil, "", inst.UpdatedAt,
			uuid.UUID(inst.CompanyID), uuid.UUID(inst.ID), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Update(context.Background(), inst, 3))
	assert.Equal(t, int64(4), inst.Version)
}

// sealedArg matches a data column that must not contain the plaintext.
type sealedArg struct{ plaintext []byte }

func (a sealedArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	return ok && len(b) > 0 && !bytes.Contains(b, a.plaintext)
}

func TestPostgresSealsData(t *testing.T) {
	sealer, err := sealing.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	store, mock := newMockStore(t, WithSealer(sealer))

	inst := testutil.NewInstance(testutil.TestIDs.CompanyA, "stripe").
		WithData("stripe/v1", map[string]string{"secret_key": "sk_live_123"}).Build()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_instances")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "stripe", true, "connected", nil, "stripe/v1",
			sealedArg{plaintext: []byte("sk_live_123")}, "", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), inst, true))
}

func TestPostgresDeleteNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM app_instances WHERE company_id = $1 AND id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), testutil.TestIDs.CompanyA, testutil.TestIDs.InstanceA1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
