package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/platform/db"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
)

// Repository defines persistence operations for the account flows.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
	// VerifyEmail consumes a verification token and marks the bound account
	// verified and active, both inside one transaction. The token cannot be
	// replayed afterwards even if the effect half fails.
	VerifyEmail(ctx context.Context, token string) (string, error)
	// ResetPassword consumes a reset token and rotates the password hash of
	// the bound account in one transaction.
	ResetPassword(ctx context.Context, token, passwordHash string) (string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, role, is_active, email_verified_at, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Create inserts a new account. A duplicate email maps to
// shared.ErrDuplicateEmail via the unique constraint.
func (r *PGRepository) Create(ctx context.Context, u *User) error {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		u.Email, u.Name, u.PasswordHash, string(u.Role), u.IsActive)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// VerifyEmail deletes the verification token and flips the account to
// verified within a single transaction. An expired token is still deleted
// (the deletion commits) but the effect is skipped.
func (r *PGRepository) VerifyEmail(ctx context.Context, token string) (string, error) {
	return r.consumeAndApply(ctx, token, sessions.PurposeVerifyEmail, func(tx pgx.Tx, email string) error {
		_, err := tx.Exec(ctx,
			`UPDATE users SET email_verified_at = NOW(), is_active = TRUE, updated_at = NOW() WHERE email = $1`,
			email)
		return err
	})
}

// ResetPassword deletes the reset token and rotates the password hash within
// a single transaction.
func (r *PGRepository) ResetPassword(ctx context.Context, token, passwordHash string) (string, error) {
	return r.consumeAndApply(ctx, token, sessions.PurposeResetPassword, func(tx pgx.Tx, email string) error {
		_, err := tx.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE email = $1`,
			email, passwordHash)
		return err
	})
}

// consumeAndApply is the delete-token-plus-effect unit. Consumption goes
// through sessions.ConsumeTokenRow inside this transaction, so a failure of
// the effect rolls the deletion back with it and a replay of the committed
// token reads ErrInvalid.
func (r *PGRepository) consumeAndApply(ctx context.Context, token, purpose string, effect func(tx pgx.Tx, email string) error) (string, error) {
	var (
		email   string
		expired bool
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		t, err := sessions.ConsumeTokenRow(ctx, tx, token, purpose)
		if err != nil {
			return err
		}
		email = t.Identifier
		if t.Expired(time.Now()) {
			// Commit the deletion so the expired token is gone for good,
			// but skip the effect.
			expired = true
			return nil
		}
		return effect(tx, email)
	})
	if err != nil {
		return "", err
	}
	if expired {
		return "", sessions.ErrExpired
	}
	return email, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.IsActive, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	parsed, err := authz.ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = parsed
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
