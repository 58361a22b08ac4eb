package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/platform/db"
)

// Repository defines persistence operations for sessions and single-use
// tokens. Implementations must return ErrInvalid for absent records and
// propagate every other storage failure unchanged.
type Repository interface {
	InsertSession(ctx context.Context, s Session) error
	FindSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	ExpireUserSessions(ctx context.Context, userID int64, at time.Time) error
	// ListUserSessions returns the sessions of userID still live at the
	// given instant, newest first.
	ListUserSessions(ctx context.Context, userID int64, at time.Time) ([]Session, error)
	// ReplaceUserSessions expires every live session of userID and inserts
	// next within a single transaction.
	ReplaceUserSessions(ctx context.Context, userID int64, at time.Time, next Session) error

	InsertToken(ctx context.Context, t Token) error
	// ConsumeToken deletes the token row matching token and purpose and
	// returns it. Absence (including purpose mismatch) is ErrInvalid; a
	// concurrent consumer losing the race observes the same.
	ConsumeToken(ctx context.Context, token, purpose string) (Token, error)

	// DeleteExpired removes session and token rows expired before the
	// cutoff and reports how many were purged.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertSession persists a new session record.
func (r *PGRepository) InsertSession(ctx context.Context, s Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (token, user_id, role, impersonator_id, created_at, expires_at)
		 VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6)`,
		s.Token, s.UserID, string(s.Role), s.ImpersonatorID, s.CreatedAt, s.ExpiresAt)
	return err
}

// FindSession fetches a session by token.
func (r *PGRepository) FindSession(ctx context.Context, token string) (Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT token, user_id, role, COALESCE(impersonator_id, 0), created_at, expires_at
		 FROM sessions WHERE token = $1`, token)
	return scanSession(row)
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

// ExpireUserSessions backdates the expiry of every live session of the user.
func (r *PGRepository) ExpireUserSessions(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET expires_at = $2 WHERE user_id = $1 AND expires_at > $2`,
		userID, at)
	return err
}

// ListUserSessions fetches the live sessions of the user.
func (r *PGRepository) ListUserSessions(ctx context.Context, userID int64, at time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token, user_id, role, COALESCE(impersonator_id, 0), created_at, expires_at
		 FROM sessions WHERE user_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceUserSessions revokes and re-issues in one transaction so a login
// racing the revocation cannot leave a second live identity behind.
func (r *PGRepository) ReplaceUserSessions(ctx context.Context, userID int64, at time.Time, next Session) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET expires_at = $2 WHERE user_id = $1 AND expires_at > $2`,
			userID, at); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO sessions (token, user_id, role, impersonator_id, created_at, expires_at)
			 VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6)`,
			next.Token, next.UserID, string(next.Role), next.ImpersonatorID, next.CreatedAt, next.ExpiresAt)
		return err
	})
}

// InsertToken persists a single-use token.
func (r *PGRepository) InsertToken(ctx context.Context, t Token) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_tokens (token, identifier, purpose, expires_at) VALUES ($1, $2, $3, $4)`,
		t.Token, t.Identifier, t.Purpose, t.ExpiresAt)
	return err
}

// ConsumeToken deletes and returns the token row in one statement. The
// primary key serializes racing consumers: exactly one wins the delete.
func (r *PGRepository) ConsumeToken(ctx context.Context, token, purpose string) (Token, error) {
	return ConsumeTokenRow(ctx, r.pool, token, purpose)
}

// RowQuerier is the querying surface shared by a pool and an open
// transaction.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConsumeTokenRow is the single home of the consume statement. It deletes the
// token row matching token and purpose through q and returns it, so callers
// that need the consumption inside their own transaction (delete plus effect
// committing together) run the exact statement the lifecycle manager runs.
// Absence, including a purpose mismatch or a replay, is ErrInvalid.
func ConsumeTokenRow(ctx context.Context, q RowQuerier, token, purpose string) (Token, error) {
	row := q.QueryRow(ctx,
		`DELETE FROM auth_tokens WHERE token = $1 AND purpose = $2
		 RETURNING token, identifier, purpose, expires_at`, token, purpose)
	var t Token
	if err := row.Scan(&t.Token, &t.Identifier, &t.Purpose, &t.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrInvalid
		}
		return Token{}, err
	}
	return t, nil
}

// DeleteExpired garbage collects expired sessions and tokens.
func (r *PGRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	purged := tag.RowsAffected()
	tag, err = r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return purged, err
	}
	return purged + tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s    Session
		role string
	)
	if err := row.Scan(&s.Token, &s.UserID, &role, &s.ImpersonatorID, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrInvalid
		}
		return Session{}, err
	}
	parsed, err := authz.ParseRole(role)
	if err != nil {
		return Session{}, err
	}
	s.Role = parsed
	return s, nil
}

var _ Repository = (*PGRepository)(nil)
