package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atrium-cms/atrium/internal/authz"
)

// Manager is the session and token lifecycle coordinator. All mutations go
// through single-writer-per-record operations on the repository; the grant
// table and the manager itself carry no mutable state.
type Manager struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewManager constructs a Manager issuing sessions with the given TTL.
func NewManager(repo Repository, ttl time.Duration) *Manager {
	return &Manager{repo: repo, ttl: ttl, now: time.Now}
}

// Create issues a new session for the user. Concurrent sessions for the same
// user are permitted (multi-device login); revocation is always explicit.
func (m *Manager) Create(ctx context.Context, userID int64, role authz.Role) (Session, error) {
	now := m.now().UTC()
	s := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.repo.InsertSession(ctx, s); err != nil {
		return Session{}, fmt.Errorf("sessions: create: %w", err)
	}
	return s, nil
}

// Validate checks a session token. ErrInvalid for unknown tokens, ErrExpired
// once expires_at <= now (the boundary is exclusive). Read-only; expired rows
// are garbage collected by PurgeExpired, not here.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	s, err := m.repo.FindSession(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !s.ExpiresAt.After(m.now()) {
		return Session{}, ErrExpired
	}
	return s, nil
}

// Claims adapts Validate to the authz resolver contract: ok is false for
// invalid or expired tokens, err carries storage failures only.
func (m *Manager) Claims(ctx context.Context, token string) (authz.SessionClaims, bool, error) {
	s, err := m.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired) {
			return authz.SessionClaims{}, false, nil
		}
		return authz.SessionClaims{}, false, err
	}
	return authz.SessionClaims{
		UserID:         s.UserID,
		Role:           s.Role,
		ImpersonatorID: s.ImpersonatorID,
	}, true, nil
}

// ListForUser returns the live sessions of the user, for the administration
// surface. Expired rows awaiting garbage collection are filtered out.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	return m.repo.ListUserSessions(ctx, userID, m.now())
}

// Revoke invalidates a single session.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.repo.DeleteSession(ctx, token)
}

// RevokeAllForUser backdates every live session of the user to now.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID int64) error {
	return m.repo.ExpireUserSessions(ctx, userID, m.now().UTC())
}

// Impersonate revokes every session of the target and issues a session under
// the target's identity tagged with the administrator's id. Both steps run in
// one storage transaction so a concurrent target login cannot survive the
// swap unseen.
func (m *Manager) Impersonate(ctx context.Context, adminID, targetID int64, targetRole authz.Role) (Session, error) {
	if adminID == targetID {
		return Session{}, errors.New("sessions: cannot impersonate self")
	}
	now := m.now().UTC()
	s := Session{
		Token:          uuid.NewString(),
		UserID:         targetID,
		Role:           targetRole,
		ImpersonatorID: adminID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}
	if err := m.repo.ReplaceUserSessions(ctx, targetID, now, s); err != nil {
		return Session{}, fmt.Errorf("sessions: impersonate: %w", err)
	}
	return s, nil
}

// IssueToken mints a single-use token bound to identifier and purpose.
func (m *Manager) IssueToken(ctx context.Context, identifier, purpose string, ttl time.Duration) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	t := Token{
		Token:      token,
		Identifier: identifier,
		Purpose:    purpose,
		ExpiresAt:  m.now().UTC().Add(ttl),
	}
	if err := m.repo.InsertToken(ctx, t); err != nil {
		return "", fmt.Errorf("sessions: issue token: %w", err)
	}
	return token, nil
}

// ConsumeToken consumes a single-use token and returns the bound identifier.
// The row is deleted before the result is reported, so a replay observes
// ErrInvalid and an expired presentation both reports ErrExpired and removes
// the row for good.
func (m *Manager) ConsumeToken(ctx context.Context, token, purpose string) (string, error) {
	t, err := m.repo.ConsumeToken(ctx, token, purpose)
	if err != nil {
		return "", err
	}
	if t.Expired(m.now()) {
		return "", ErrExpired
	}
	return t.Identifier, nil
}

// PurgeExpired removes expired session and token rows. Invoked from the
// background worker on a schedule; validation itself never mutates state.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.repo.DeleteExpired(ctx, m.now().UTC())
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("sessions: random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
