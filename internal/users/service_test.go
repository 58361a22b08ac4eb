package users_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
	"github.com/atrium-cms/atrium/internal/users"
)

type fakeRepo struct {
	users map[int64]users.User
}

func (f *fakeRepo) List(_ context.Context, limit, offset int) ([]users.User, int, error) {
	out := make([]users.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	_ = limit
	_ = offset
	return out, len(f.users), nil
}

func (f *fakeRepo) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) SetRole(_ context.Context, id int64, role authz.Role) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Role = role
	f.users[id] = u
	return nil
}

func (f *fakeRepo) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	f.users[id] = u
	return nil
}

type fakeStore struct {
	live          map[int64][]sessions.Session
	revokedUsers  []int64
	revokedTokens []string
	impersonated  []int64
}

func (f *fakeStore) ListForUser(_ context.Context, userID int64) ([]sessions.Session, error) {
	return f.live[userID], nil
}

func (f *fakeStore) RevokeAllForUser(_ context.Context, userID int64) error {
	f.revokedUsers = append(f.revokedUsers, userID)
	return nil
}

func (f *fakeStore) Revoke(_ context.Context, token string) error {
	f.revokedTokens = append(f.revokedTokens, token)
	return nil
}

func (f *fakeStore) Impersonate(_ context.Context, adminID, targetID int64, targetRole authz.Role) (sessions.Session, error) {
	f.impersonated = append(f.impersonated, targetID)
	return sessions.Session{
		Token:          "forged-token",
		UserID:         targetID,
		Role:           targetRole,
		ImpersonatorID: adminID,
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil
}

func newService(t *testing.T) (*users.Service, *fakeRepo, *fakeStore) {
	t.Helper()
	repo := &fakeRepo{users: map[int64]users.User{
		1: {ID: 1, Email: "admin@example.com", Name: "Admin", Role: authz.RoleAdmin, IsActive: true},
		2: {ID: 2, Email: "editor@example.com", Name: "Editor", Role: authz.RoleEditor, IsActive: true},
		3: {ID: 3, Email: "dormant@example.com", Name: "Dormant", Role: authz.RoleUser, IsActive: false},
	}}
	store := &fakeStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return users.NewService(repo, store, nil, logger), repo, store
}

func admin() authz.Principal {
	return authz.Principal{UserID: 1, Role: authz.RoleAdmin, SessionToken: "admin-token"}
}

func TestSetRoleRevokesSessions(t *testing.T) {
	svc, repo, store := newService(t)

	err := svc.SetRole(context.Background(), admin(), 2, authz.RoleManager)
	require.NoError(t, err)

	require.Equal(t, authz.RoleManager, repo.users[2].Role)
	require.Equal(t, []int64{2}, store.revokedUsers)
}

func TestSetRoleUnknownUser(t *testing.T) {
	svc, _, store := newService(t)

	err := svc.SetRole(context.Background(), admin(), 99, authz.RoleManager)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.revokedUsers)
}

func TestSessionsListsLiveSessions(t *testing.T) {
	svc, _, store := newService(t)
	store.live = map[int64][]sessions.Session{
		2: {{Token: "t1", UserID: 2, Role: authz.RoleEditor, ExpiresAt: time.Now().Add(time.Hour)}},
	}

	got, err := svc.Sessions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].UserID)
}

func TestSessionsUnknownUser(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Sessions(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevokeSessionsSignsOutEverywhere(t *testing.T) {
	svc, _, store := newService(t)

	err := svc.RevokeSessions(context.Background(), admin(), 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, store.revokedUsers)
}

func TestRevokeSessionsUnknownUser(t *testing.T) {
	svc, _, store := newService(t)

	err := svc.RevokeSessions(context.Background(), admin(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.revokedUsers)
}

func TestDeactivateRevokesSessions(t *testing.T) {
	svc, repo, store := newService(t)

	err := svc.Deactivate(context.Background(), admin(), 2)
	require.NoError(t, err)

	require.False(t, repo.users[2].IsActive)
	require.Equal(t, []int64{2}, store.revokedUsers)
}

func TestImpersonateIssuesForgedSession(t *testing.T) {
	svc, _, store := newService(t)

	sess, err := svc.Impersonate(context.Background(), admin(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), sess.UserID)
	require.Equal(t, authz.RoleEditor, sess.Role)
	require.Equal(t, int64(1), sess.ImpersonatorID)
	require.Equal(t, []int64{2}, store.impersonated)
}

func TestImpersonateRefusals(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Impersonate(ctx, admin(), 1)
	require.ErrorIs(t, err, users.ErrImpersonationDenied, "self")

	_, err = svc.Impersonate(ctx, admin(), 3)
	require.ErrorIs(t, err, users.ErrImpersonationDenied, "inactive target")

	forged := authz.Principal{UserID: 2, Role: authz.RoleEditor, SessionToken: "forged", ImpersonatorID: 1}
	_, err = svc.Impersonate(ctx, forged, 3)
	require.ErrorIs(t, err, users.ErrImpersonationDenied, "no chaining")
}

func TestImpersonateAdminTargetRefused(t *testing.T) {
	svc, repo, _ := newService(t)
	repo.users[4] = users.User{ID: 4, Email: "root@example.com", Name: "Root", Role: authz.RoleAdmin, IsActive: true}

	_, err := svc.Impersonate(context.Background(), admin(), 4)
	require.ErrorIs(t, err, users.ErrImpersonationDenied)
}

func TestStopImpersonationRevokesForgedSession(t *testing.T) {
	svc, _, store := newService(t)

	forged := authz.Principal{UserID: 2, Role: authz.RoleEditor, SessionToken: "forged-token", ImpersonatorID: 1}
	err := svc.StopImpersonation(context.Background(), forged)
	require.NoError(t, err)
	require.Equal(t, []string{"forged-token"}, store.revokedTokens)
}

func TestStopImpersonationWithoutImpersonating(t *testing.T) {
	svc, _, store := newService(t)

	err := svc.StopImpersonation(context.Background(), admin())
	require.ErrorIs(t, err, users.ErrImpersonationDenied)
	require.Empty(t, store.revokedTokens)
}
