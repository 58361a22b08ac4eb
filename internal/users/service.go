package users

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
)

// ErrImpersonationDenied covers impersonation targets that are off limits.
var ErrImpersonationDenied = errors.New("users: impersonation not permitted for target")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	SetRole(ctx context.Context, id int64, role authz.Role) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// SessionControl is the slice of the session lifecycle manager the admin
// flows need.
type SessionControl interface {
	ListForUser(ctx context.Context, userID int64) ([]sessions.Session, error)
	RevokeAllForUser(ctx context.Context, userID int64) error
	Revoke(ctx context.Context, token string) error
	Impersonate(ctx context.Context, adminID, targetID int64, targetRole authz.Role) (sessions.Session, error)
}

// Service handles user administration business logic.
type Service struct {
	repo   RepositoryPort
	store  SessionControl
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, store SessionControl, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, audit: audit, logger: logger}
}

// List returns a page of users with pagination metadata.
func (s *Service) List(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	users, total, err := s.repo.List(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, perPage, total), nil
}

// Get fetches a single user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Sessions lists the live sessions of a user. The lookup confirms the user
// exists first so an unknown id reads as not-found rather than an empty list.
func (s *Service) Sessions(ctx context.Context, id int64) ([]sessions.Session, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListForUser(ctx, id)
}

// RevokeSessions forcibly signs a user out of every device.
func (s *Service) RevokeSessions(ctx context.Context, actor authz.Principal, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.RevokeAllForUser(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.UserID, shared.AuditSessionsRevoked, id, nil)
	return nil
}

// SetRole changes a user's role and revokes their sessions so the new role
// takes effect at next sign-in instead of lingering behind stale credentials.
func (s *Service) SetRole(ctx context.Context, actor authz.Principal, id int64, role authz.Role) error {
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return err
	}
	if err := s.store.RevokeAllForUser(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.UserID, shared.AuditRoleChanged, id, map[string]any{"role": string(role)})
	return nil
}

// Deactivate disables an account and revokes its sessions.
func (s *Service) Deactivate(ctx context.Context, actor authz.Principal, id int64) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	if err := s.store.RevokeAllForUser(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.UserID, shared.AuditUserDeactivated, id, nil)
	return nil
}

// Impersonate issues a session under the target's identity tagged with the
// administrator's id. Admin accounts cannot be impersonated and an
// impersonated principal cannot chain further.
func (s *Service) Impersonate(ctx context.Context, actor authz.Principal, targetID int64) (sessions.Session, error) {
	if actor.Impersonated() || actor.UserID == targetID {
		return sessions.Session{}, ErrImpersonationDenied
	}
	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return sessions.Session{}, err
	}
	if target.Role == authz.RoleAdmin || !target.IsActive {
		return sessions.Session{}, ErrImpersonationDenied
	}

	sess, err := s.store.Impersonate(ctx, actor.UserID, target.ID, target.Role)
	if err != nil {
		return sessions.Session{}, err
	}
	s.record(ctx, actor.UserID, shared.AuditImpersonationStart, target.ID, map[string]any{"role": string(target.Role)})
	return sess, nil
}

// StopImpersonation revokes the forged session. The caller resumes their own
// identity with their original credential.
func (s *Service) StopImpersonation(ctx context.Context, actor authz.Principal) error {
	if !actor.Impersonated() {
		return ErrImpersonationDenied
	}
	if err := s.store.Revoke(ctx, actor.SessionToken); err != nil {
		return err
	}
	s.record(ctx, actor.ImpersonatorID, shared.AuditImpersonationStop, actor.UserID, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: "user", EntityID: strconv.FormatInt(entityID, 10), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}
