package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-cms/atrium/internal/auth"
	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
	_ "github.com/atrium-cms/atrium/internal/testing"
)

type stubRepo struct {
	user          *auth.User
	created       []*auth.User
	verifyErr     error
	verifyCount   int
	resetErr      error
	resetIdentity string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) Create(ctx context.Context, u *auth.User) error {
	if s.user != nil && s.user.Email == u.Email {
		return shared.ErrDuplicateEmail
	}
	u.ID = int64(len(s.created) + 100)
	s.created = append(s.created, u)
	return nil
}

func (s *stubRepo) VerifyEmail(ctx context.Context, token string) (string, error) {
	s.verifyCount++
	if s.verifyErr != nil {
		return "", s.verifyErr
	}
	if s.verifyCount > 1 {
		return "", sessions.ErrInvalid
	}
	return "new@atrium.test", nil
}

func (s *stubRepo) ResetPassword(ctx context.Context, token, hash string) (string, error) {
	if s.resetErr != nil {
		return "", s.resetErr
	}
	return s.resetIdentity, nil
}

type stubStore struct {
	sessions []sessions.Session
	issued   []string
	revoked  []string
	revokedU []int64
}

func (s *stubStore) Create(ctx context.Context, userID int64, role authz.Role) (sessions.Session, error) {
	sess := sessions.Session{Token: "sess-token", UserID: userID, Role: role, ExpiresAt: time.Now().Add(time.Hour)}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

func (s *stubStore) Revoke(ctx context.Context, token string) error {
	s.revoked = append(s.revoked, token)
	return nil
}

func (s *stubStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	s.revokedU = append(s.revokedU, userID)
	return nil
}

func (s *stubStore) IssueToken(ctx context.Context, identifier, purpose string, ttl time.Duration) (string, error) {
	s.issued = append(s.issued, purpose+":"+identifier)
	return "one-use-token", nil
}

type stubMailer struct {
	verifications []string
	resets        []string
}

func (m *stubMailer) SendVerificationEmail(ctx context.Context, to, token string) error {
	m.verifications = append(m.verifications, to)
	return nil
}

func (m *stubMailer) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	m.resets = append(m.resets, to)
	return nil
}

type staticClaims map[string]authz.SessionClaims

func (c staticClaims) Claims(ctx context.Context, token string) (authz.SessionClaims, bool, error) {
	claims, ok := c[token]
	return claims, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(t *testing.T, repo auth.Repository, store *stubStore, mailer *stubMailer) *auth.Handler {
	t.Helper()
	service := auth.NewService(repo, store, mailer, nil, nil, auth.ServiceConfig{})
	resolver := authz.NewResolver(staticClaims{"sess-token": {UserID: 1, Role: authz.RoleUser}})
	return auth.NewHandler(testLogger(), service, resolver, nil, shared.NewCSRFManager("csrfsecret"), nil)
}

func activeUser(t *testing.T, password string) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	verified := time.Now().Add(-time.Hour)
	return &auth.User{
		ID:              1,
		Email:           "user@atrium.test",
		Name:            "Test User",
		PasswordHash:    string(hash),
		Role:            authz.RoleUser,
		IsActive:        true,
		EmailVerifiedAt: &verified,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler(res, req)
	return res
}

func TestLoginSuccess(t *testing.T) {
	store := &stubStore{}
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, store, &stubMailer{})

	res := postJSON(t, handler.HandleLoginForTest, "/auth/login",
		`{"email":"user@atrium.test","password":"correct-horse"}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(store.sessions) != 1 || store.sessions[0].UserID != 1 {
		t.Fatalf("expected one session for user 1, got %+v", store.sessions)
	}
	if !strings.Contains(res.Body.String(), "sess-token") {
		t.Fatal("expected session token in response")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	store := &stubStore{}
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, store, &stubMailer{})

	res := postJSON(t, handler.HandleLoginForTest, "/auth/login",
		`{"email":"user@atrium.test","password":"wrong-password"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if len(store.sessions) != 0 {
		t.Fatal("no session may be created on failed login")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	user := activeUser(t, "correct-horse")
	user.IsActive = false
	handler := newHandler(t, &stubRepo{user: user}, &stubStore{}, &stubMailer{})

	res := postJSON(t, handler.HandleLoginForTest, "/auth/login",
		`{"email":"user@atrium.test","password":"correct-horse"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive account, got %d", res.Code)
	}
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, &stubStore{}, &stubMailer{})

	unknown := postJSON(t, handler.HandleLoginForTest, "/auth/login",
		`{"email":"nobody@atrium.test","password":"correct-horse"}`)
	wrong := postJSON(t, handler.HandleLoginForTest, "/auth/login",
		`{"email":"user@atrium.test","password":"not-the-password"}`)

	if unknown.Code != wrong.Code {
		t.Fatalf("status codes differ: %d vs %d", unknown.Code, wrong.Code)
	}
	if unknown.Body.String() != wrong.Body.String() {
		t.Fatal("responses must not distinguish unknown accounts from bad passwords")
	}
}

func TestRegisterSendsVerification(t *testing.T) {
	store := &stubStore{}
	mailer := &stubMailer{}
	repo := &stubRepo{}
	handler := newHandler(t, repo, store, mailer)

	res := postJSON(t, handler.HandleRegisterForTest, "/auth/register",
		`{"email":"new@atrium.test","name":"Newcomer","password":"long-enough-pass"}`)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if len(repo.created) != 1 || repo.created[0].IsActive {
		t.Fatalf("expected one inactive account, got %+v", repo.created)
	}
	if len(store.issued) != 1 || store.issued[0] != "verify:new@atrium.test" {
		t.Fatalf("expected a verify token, got %v", store.issued)
	}
	if len(mailer.verifications) != 1 {
		t.Fatalf("expected one verification email, got %v", mailer.verifications)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	handler := newHandler(t, &stubRepo{user: activeUser(t, "x-long-password")}, &stubStore{}, &stubMailer{})

	res := postJSON(t, handler.HandleRegisterForTest, "/auth/register",
		`{"email":"user@atrium.test","name":"Imposter","password":"long-enough-pass"}`)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestVerifyEmailTokenSingleUse(t *testing.T) {
	repo := &stubRepo{}
	handler := newHandler(t, repo, &stubStore{}, &stubMailer{})

	first := httptest.NewRecorder()
	handler.HandleVerifyForTest(first, httptest.NewRequest(http.MethodGet, "/auth/verify?token=abc", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first verification should succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.HandleVerifyForTest(second, httptest.NewRequest(http.MethodGet, "/auth/verify?token=abc", nil))
	if second.Code != http.StatusBadRequest {
		t.Fatalf("replay must be rejected, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "invalid or has expired") {
		t.Fatal("replay must surface the generic token message")
	}
}

func TestVerifyEmailExpiredUsesSameMessage(t *testing.T) {
	invalidRepo := &stubRepo{verifyErr: sessions.ErrInvalid}
	expiredRepo := &stubRepo{verifyErr: sessions.ErrExpired}

	invalidRes := httptest.NewRecorder()
	newHandler(t, invalidRepo, &stubStore{}, &stubMailer{}).
		HandleVerifyForTest(invalidRes, httptest.NewRequest(http.MethodGet, "/auth/verify?token=a", nil))

	expiredRes := httptest.NewRecorder()
	newHandler(t, expiredRepo, &stubStore{}, &stubMailer{}).
		HandleVerifyForTest(expiredRes, httptest.NewRequest(http.MethodGet, "/auth/verify?token=b", nil))

	if invalidRes.Body.String() != expiredRes.Body.String() {
		t.Fatal("invalid and expired tokens must be indistinguishable to callers")
	}
}

func TestExpiredVerificationCanBeReissued(t *testing.T) {
	user := activeUser(t, "correct-horse")
	user.IsActive = false
	store := &stubStore{}
	mailer := &stubMailer{}
	repo := &stubRepo{user: user, verifyErr: sessions.ErrExpired}
	handler := newHandler(t, repo, store, mailer)

	// The original link outlived its TTL; presenting it burns it for good.
	stale := httptest.NewRecorder()
	handler.HandleVerifyForTest(stale, httptest.NewRequest(http.MethodGet, "/auth/verify?token=stale", nil))
	if stale.Code != http.StatusBadRequest {
		t.Fatalf("expired token must be rejected, got %d", stale.Code)
	}

	// The account is not stuck: asking again mints a fresh token.
	resend := postJSON(t, handler.HandleResendForTest, "/auth/verify/resend", `{"email":"user@atrium.test"}`)
	if resend.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resend.Code, resend.Body.String())
	}
	if len(store.issued) != 1 || store.issued[0] != "verify:user@atrium.test" {
		t.Fatalf("expected a fresh verify token, got %v", store.issued)
	}
	if len(mailer.verifications) != 1 {
		t.Fatalf("expected one verification email, got %v", mailer.verifications)
	}
}

func TestResendVerificationDoesNotEnumerate(t *testing.T) {
	store := &stubStore{}
	mailer := &stubMailer{}
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, store, mailer)

	known := postJSON(t, handler.HandleResendForTest, "/auth/verify/resend", `{"email":"user@atrium.test"}`)
	unknown := postJSON(t, handler.HandleResendForTest, "/auth/verify/resend", `{"email":"ghost@atrium.test"}`)

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("both must answer 200, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatal("responses must not reveal whether the account exists")
	}
	// The known account is already active, so neither request mints a token.
	if len(store.issued) != 0 || len(mailer.verifications) != 0 {
		t.Fatalf("active accounts must not receive verification links, got %v / %v", store.issued, mailer.verifications)
	}
}

func TestForgotPasswordDoesNotEnumerate(t *testing.T) {
	mailer := &stubMailer{}
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, &stubStore{}, mailer)

	known := postJSON(t, handler.HandleForgotForTest, "/auth/forgot", `{"email":"user@atrium.test"}`)
	unknown := postJSON(t, handler.HandleForgotForTest, "/auth/forgot", `{"email":"ghost@atrium.test"}`)

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("both must answer 200, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatal("responses must not reveal whether the account exists")
	}
	if len(mailer.resets) != 1 {
		t.Fatalf("exactly one reset email expected, got %v", mailer.resets)
	}
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	store := &stubStore{}
	repo := &stubRepo{user: activeUser(t, "old-password-1"), resetIdentity: "user@atrium.test"}
	handler := newHandler(t, repo, store, &stubMailer{})

	res := postJSON(t, handler.HandleResetForTest, "/auth/reset",
		`{"token":"one-use-token","password":"brand-new-pass"}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(store.revokedU) != 1 || store.revokedU[0] != 1 {
		t.Fatalf("expected sessions of user 1 revoked, got %v", store.revokedU)
	}
}

func TestLogoutRevokesPresentedSession(t *testing.T) {
	store := &stubStore{}
	handler := newHandler(t, &stubRepo{user: activeUser(t, "correct-horse")}, store, &stubMailer{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer sess-token")
	res := httptest.NewRecorder()
	handler.HandleLogoutForTest(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(store.revoked) != 1 || store.revoked[0] != "sess-token" {
		t.Fatalf("expected the bearer session revoked, got %v", store.revoked)
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	handler := newHandler(t, &stubRepo{}, &stubStore{}, &stubMailer{})

	res := postJSON(t, handler.HandleLoginForTest, "/auth/login", `{"email": }`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
