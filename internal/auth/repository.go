package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, role, password_hash, suspended_until, suspension_reason, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user           User
		role           string
		suspendedUntil sql.NullTime
		reason         sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &role, &user.PasswordHash, &suspendedUntil, &reason, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Role = Role(role)
	if suspendedUntil.Valid {
		value := suspendedUntil.Time.UTC()
		user.SuspendedUntil = &value
	}
	if reason.Valid {
		value := reason.String
		user.SuspensionReason = &value
	}
	return user, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, normalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	return user, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrUserNotFound
	}

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

func (r *Repository) Create(ctx context.Context, input NewUser) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	role := input.Role
	if !role.Valid() {
		role = RoleUser
	}
	now := time.Now().UTC()

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+userColumns,
		id.String(), input.Username, normalizeEmail(input.Email), string(role), input.PasswordHash, now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrDuplicateUser
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *Repository) EnsureAdmin(ctx context.Context, input NewUser) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := time.Now().UTC()

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, 'admin', $4, $5, $5)
		ON CONFLICT (email) DO UPDATE
		SET role = 'admin', password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		id.String(), input.Username, normalizeEmail(input.Email), input.PasswordHash, now))
	if err != nil {
		return User{}, fmt.Errorf("upsert admin user: %w", err)
	}
	return user, nil
}

func (r *Repository) SetSuspension(ctx context.Context, id string, until *time.Time, reason *string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrUserNotFound
	}

	var untilValue, reasonValue any
	if until != nil {
		untilValue = until.UTC()
	}
	if reason != nil {
		reasonValue = *reason
	}

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users
		SET suspended_until = $2, suspension_reason = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+userColumns,
		id, untilValue, reasonValue, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("update suspension: %w", err)
	}
	return user, nil
}

func (r *Repository) ClearLapsedSuspensions(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH lapsed AS (
			SELECT id
			FROM users
			WHERE suspended_until IS NOT NULL AND suspended_until <= $1
			ORDER BY suspended_until ASC
			LIMIT $2
		)
		UPDATE users u
		SET suspended_until = NULL, suspension_reason = NULL, updated_at = $1
		FROM lapsed
		WHERE u.id = lapsed.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear lapsed suspensions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("lapsed suspensions rows affected: %w", err)
	}
	return affected, nil
}
