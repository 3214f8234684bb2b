package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "username", "email", "role", "password_hash", "suspended_until", "suspension_reason", "created_at", "updated_at"}

const testUserID = "0190f1e2-7a6b-7c3d-8e9f-0a1b2c3d4e5f"

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), mock
}

func TestRepositoryFindByEmail(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	until := created.Add(48 * time.Hour)

	mock.ExpectQuery("SELECT .* FROM users\\s+WHERE email = \\$1").
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(testUserID, "ana", "ana@example.com", "user", "hash", until, "spam", created, created))

	user, err := repo.FindByEmail(context.Background(), " Ana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, testUserID, user.ID)
	assert.Equal(t, RoleUser, user.Role)
	require.NotNil(t, user.SuspendedUntil)
	assert.True(t, user.SuspendedUntil.Equal(until))
	require.NotNil(t, user.SuspensionReason)
	assert.Equal(t, "spam", *user.SuspensionReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFindByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT .* FROM users").WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFindByIDRejectsMalformedID(t *testing.T) {
	repo, mock := newMockRepository(t)

	_, err := repo.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "ana", "ana@example.com", "user", "hash", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := repo.Create(context.Background(), NewUser{Username: "ana", Email: "ana@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySetSuspension(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()
	until := now.Add(time.Hour)
	reason := "fraud"

	mock.ExpectQuery("UPDATE users\\s+SET suspended_until = \\$2").
		WithArgs(testUserID, until, reason, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(testUserID, "ana", "ana@example.com", "user", "hash", until, reason, now, now))

	user, err := repo.SetSuspension(context.Background(), testUserID, &until, &reason)
	require.NoError(t, err)
	require.NotNil(t, user.SuspendedUntil)

	mock.ExpectQuery("UPDATE users").
		WithArgs(testUserID, nil, nil, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.SetSuspension(context.Background(), testUserID, nil, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClearLapsedSuspensions(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectExec("WITH lapsed AS").
		WithArgs(now, 50).
		WillReturnResult(sqlmock.NewResult(0, 3))

	cleared, err := repo.ClearLapsedSuspensions(context.Background(), now, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cleared)
	require.NoError(t, mock.ExpectationsWereMet())
}
