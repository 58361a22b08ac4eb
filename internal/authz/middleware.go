package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/atrium-cms/atrium/internal/platform/httpx"
)

// DecisionRecorder counts authorization outcomes for observability.
type DecisionRecorder interface {
	RecordAuthzDecision(outcome string)
}

// Middleware wires authorization checks into the HTTP layer.
type Middleware struct {
	Resolver  *Resolver
	Evaluator *Evaluator
	Logger    *slog.Logger
	Metrics   DecisionRecorder
	LoginPath string
}

// Authenticate resolves the principal and stores it in the request context.
// Unauthenticated requests are rejected here; a missing grant is left to
// Require or the handler.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.Resolver.Resolve(r.Context(), r)
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// Require gates a route group on the principal holding a grant for the
// tuple. Ownership-conditional grants pass this gate; the owning handler
// performs the final Authorize call with the loaded resource owner.
func (m Middleware) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				var err error
				principal, err = m.Resolver.Resolve(r.Context(), r)
				if err != nil {
					m.reject(w, r, err)
					return
				}
				r = r.WithContext(ContextWithPrincipal(r.Context(), principal))
			}
			if !m.Evaluator.HasGrant(principal.Role, resource, action) {
				m.reject(w, r, ErrDenied)
				return
			}
			m.record("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// reject translates authorization failures at the boundary: browsers are
// redirected to sign-in when unauthenticated, API clients get 401/403
// problems. Storage failures surface as 500.
func (m Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch err {
	case ErrUnauthenticated:
		m.record("unauthenticated")
		if wantsHTML(r) {
			http.Redirect(w, r, m.loginPath(), http.StatusSeeOther)
			return
		}
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case ErrDenied:
		m.record("deny")
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	default:
		if m.Logger != nil {
			m.Logger.Error("resolve principal", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (m Middleware) record(outcome string) {
	if m.Metrics != nil {
		m.Metrics.RecordAuthzDecision(outcome)
	}
}

func (m Middleware) loginPath() string {
	if m.LoginPath != "" {
		return m.LoginPath
	}
	return "/auth/login"
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
