package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
)

// SessionStore is the slice of the session lifecycle manager the account
// flows need.
type SessionStore interface {
	Create(ctx context.Context, userID int64, role authz.Role) (sessions.Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	IssueToken(ctx context.Context, identifier, purpose string, ttl time.Duration) (string, error)
}

// Mailer enqueues transactional email delivery. Implementations own the
// delivery mechanism; the flows only guarantee token validity.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
	SendPasswordResetEmail(ctx context.Context, to, token string) error
}

// ServiceConfig carries the token lifetimes for the account flows.
type ServiceConfig struct {
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
}

// Service wraps authentication and account lifecycle business rules.
type Service struct {
	repo   Repository
	store  SessionStore
	mailer Mailer
	audit  *shared.AuditLogger
	logger *slog.Logger
	cfg    ServiceConfig
}

// NewService constructs a new Service.
func NewService(repo Repository, store SessionStore, mailer Mailer, audit *shared.AuditLogger, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = 24 * time.Hour
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	return &Service{repo: repo, store: store, mailer: mailer, audit: audit, logger: logger, cfg: cfg}
}

// Authenticate validates email/password credentials. Every failure collapses
// into ErrInvalidCredentials so callers cannot probe which accounts exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// SignIn exchanges credentials for a session record.
func (s *Service) SignIn(ctx context.Context, email, password string) (*User, sessions.Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, sessions.Session{}, err
	}
	sess, err := s.store.Create(ctx, user.ID, user.Role)
	if err != nil {
		return nil, sessions.Session{}, err
	}
	s.record(ctx, user.ID, shared.AuditSignIn, "user", user.ID, nil)
	return user, sess, nil
}

// SignOut revokes the presented session.
func (s *Service) SignOut(ctx context.Context, principal authz.Principal) error {
	if err := s.store.Revoke(ctx, principal.SessionToken); err != nil {
		return err
	}
	s.record(ctx, principal.UserID, shared.AuditSignOut, "user", principal.UserID, nil)
	return nil
}

// Register creates an inactive account and sends the verification email. The
// account stays unable to sign in until the token is consumed.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         authz.RoleUser,
		IsActive:     false,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.store.IssueToken(ctx, user.Email, sessions.PurposeVerifyEmail, s.cfg.VerifyTokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, token); err != nil {
		// The account exists; the user can request a fresh link.
		s.warn("enqueue verification email", err)
	}
	s.record(ctx, user.ID, shared.AuditRegister, "user", user.ID, nil)
	return user, nil
}

// ResendVerification issues a fresh verification token for an account still
// awaiting activation, the recovery path for links that expired before they
// were clicked. Unknown and already-active addresses silently succeed so the
// endpoint cannot be used to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsActive {
		return nil
	}
	token, err := s.store.IssueToken(ctx, user.Email, sessions.PurposeVerifyEmail, s.cfg.VerifyTokenTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, token); err != nil {
		s.warn("enqueue verification email", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and activates the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	email, err := s.repo.VerifyEmail(ctx, token)
	if err != nil {
		return err
	}
	if user, err := s.repo.FindByEmail(ctx, email); err == nil {
		s.record(ctx, user.ID, shared.AuditEmailVerified, "user", user.ID, nil)
	}
	return nil
}

// StartPasswordReset issues a reset token when the account exists. The caller
// receives no signal either way, to avoid account enumeration.
func (s *Service) StartPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	token, err := s.store.IssueToken(ctx, user.Email, sessions.PurposeResetPassword, s.cfg.ResetTokenTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		s.warn("enqueue reset email", err)
	}
	return nil
}

// ResetPassword consumes a reset token, rotates the password and revokes
// every outstanding session of the account.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	email, err := s.repo.ResetPassword(ctx, token, string(hash))
	if err != nil {
		return err
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.store.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}
	s.record(ctx, user.ID, shared.AuditPasswordReset, "user", user.ID, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: strconv.FormatInt(entityID, 10), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.warn("audit record", err)
	}
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
