// Package sessions manages the lifecycle of auth sessions and single-use
// tokens: issuance, validation, expiry and revocation. Records live in
// Postgres; racing mutations are serialized by the storage layer's primary
// key on the token column, not by in-process locking.
package sessions

import (
	"errors"
	"time"

	"github.com/atrium-cms/atrium/internal/authz"
)

// Session is a persisted credential record. The role is captured at issuance
// time. ImpersonatorID is non-zero for impersonation sessions and records the
// administrator that forged the identity, for audit.
type Session struct {
	Token          string
	UserID         int64
	Role           authz.Role
	ImpersonatorID int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Token purposes.
const (
	PurposeVerifyEmail   = "verify"
	PurposeResetPassword = "reset"
)

// Token is a single-use credential bound to an identifier (an email address)
// and a purpose. It is consumed exactly once.
type Token struct {
	Token      string
	Identifier string
	Purpose    string
	ExpiresAt  time.Time
}

// Expired reports whether the token lifetime ended at or before now. The
// boundary is exclusive: a token presented exactly at its deadline is expired.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

var (
	// ErrInvalid marks a token or session that is absent, already consumed
	// or presented with the wrong purpose.
	ErrInvalid = errors.New("sessions: invalid token")
	// ErrExpired marks a token or session past its deadline. Distinguished
	// from ErrInvalid so callers can offer a fresh-token path.
	ErrExpired = errors.New("sessions: expired token")
)
