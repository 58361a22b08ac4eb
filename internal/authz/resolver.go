package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/atrium-cms/atrium/internal/shared"
)

// SessionClaims is the identity captured in a session record at issuance
// time. The role is deliberately not re-read from the users table here; a
// role change takes effect when the credential is reissued.
type SessionClaims struct {
	UserID         int64
	Role           Role
	ImpersonatorID int64
}

// ClaimsSource validates a session token against the backing store. ok is
// false for unknown, revoked or expired tokens; err carries storage failures
// only.
type ClaimsSource interface {
	Claims(ctx context.Context, token string) (claims SessionClaims, ok bool, err error)
}

// Resolver extracts the calling principal from an inbound request credential:
// the web session cookie, or a bearer token presenting the raw session token.
type Resolver struct {
	source ClaimsSource
}

// NewResolver constructs a Resolver over the given claims source.
func NewResolver(source ClaimsSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the principal for the request, or ErrUnauthenticated when
// no valid credential is present. Storage failures propagate unchanged and
// must never be collapsed into ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Principal, error) {
	token := bearerToken(req)
	if token == "" {
		if sess := shared.SessionFromContext(ctx); sess != nil {
			token = sess.AuthToken()
		}
	}
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}

	claims, ok, err := r.source.Claims(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{
		UserID:         claims.UserID,
		Role:           claims.Role,
		SessionToken:   token,
		ImpersonatorID: claims.ImpersonatorID,
	}, nil
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
