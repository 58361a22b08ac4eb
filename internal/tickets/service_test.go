package tickets_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/shared"
	"github.com/atrium-cms/atrium/internal/tickets"
)

type fakeRepo struct {
	nextID  int64
	tickets map[int64]tickets.Ticket
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, tickets: map[int64]tickets.Ticket{}}
}

func (f *fakeRepo) List(_ context.Context, requesterID int64, limit, offset int) ([]tickets.Ticket, int, error) {
	var out []tickets.Ticket
	for _, t := range f.tickets {
		if requesterID != 0 && t.RequesterID != requesterID {
			continue
		}
		out = append(out, t)
	}
	_ = limit
	_ = offset
	return out, len(out), nil
}

func (f *fakeRepo) Get(_ context.Context, id int64) (tickets.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return tickets.Ticket{}, shared.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) Create(_ context.Context, t tickets.Ticket) (tickets.Ticket, error) {
	t.ID = f.nextID
	f.nextID++
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	f.tickets[t.ID] = t
	return t, nil
}

func (f *fakeRepo) Update(_ context.Context, id int64, subject, body string) (tickets.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return tickets.Ticket{}, shared.ErrNotFound
	}
	t.Subject, t.Body = subject, body
	f.tickets[id] = t
	return t, nil
}

func (f *fakeRepo) Assign(_ context.Context, id, assigneeID int64) (tickets.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return tickets.Ticket{}, shared.ErrNotFound
	}
	t.AssigneeID = &assigneeID
	f.tickets[id] = t
	return t, nil
}

func (f *fakeRepo) Close(_ context.Context, id int64) (tickets.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return tickets.Ticket{}, shared.ErrNotFound
	}
	now := time.Now()
	t.Status = tickets.StatusClosed
	t.ClosedAt = &now
	f.tickets[id] = t
	return t, nil
}

func newService(repo *fakeRepo) *tickets.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return tickets.NewService(repo, authz.NewEvaluator(authz.DefaultTable()), logger)
}

var (
	alice   = authz.Principal{UserID: 10, Role: authz.RoleUser}
	bob     = authz.Principal{UserID: 11, Role: authz.RoleUser}
	editor  = authz.Principal{UserID: 15, Role: authz.RoleEditor}
	manager = authz.Principal{UserID: 20, Role: authz.RoleManager}
)

func TestCreateAndViewOwnTicket(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Printer on fire", "literally")
	require.NoError(t, err)
	require.Equal(t, alice.UserID, created.RequesterID)
	require.True(t, created.Open())

	got, err := svc.Get(ctx, alice, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestOtherUserCannotViewTicket(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Secret", "body")
	require.NoError(t, err)

	_, err = svc.Get(ctx, bob, created.ID)
	require.ErrorIs(t, err, authz.ErrDenied)
}

func TestEditorHasNoTicketCapabilities(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Help", "body")
	require.NoError(t, err)

	_, err = svc.Create(ctx, editor, "Nope", "body")
	require.ErrorIs(t, err, authz.ErrDenied)
	_, err = svc.Get(ctx, editor, created.ID)
	require.ErrorIs(t, err, authz.ErrDenied)
	_, err = svc.Close(ctx, editor, created.ID)
	require.ErrorIs(t, err, authz.ErrDenied)
}

func TestManagerWorksWholeQueue(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Help", "body")
	require.NoError(t, err)

	got, err := svc.Get(ctx, manager, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	assigned, err := svc.Assign(ctx, manager, created.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, assigned.AssigneeID)
	require.Equal(t, int64(42), *assigned.AssigneeID)

	closed, err := svc.Close(ctx, manager, created.ID)
	require.NoError(t, err)
	require.False(t, closed.Open())
	require.NotNil(t, closed.ClosedAt)
}

func TestRequesterClosesOwnTicket(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Solved it myself", "body")
	require.NoError(t, err)

	_, err = svc.Close(ctx, bob, created.ID)
	require.ErrorIs(t, err, authz.ErrDenied)

	closed, err := svc.Close(ctx, alice, created.ID)
	require.NoError(t, err)
	require.False(t, closed.Open())
}

func TestClosedTicketRejectsMutation(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Done", "body")
	require.NoError(t, err)
	_, err = svc.Close(ctx, alice, created.ID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, alice, created.ID, "Edit", "body")
	require.ErrorIs(t, err, tickets.ErrClosed)
	_, err = svc.Close(ctx, manager, created.ID)
	require.ErrorIs(t, err, tickets.ErrClosed)
	_, err = svc.Assign(ctx, manager, created.ID, 42)
	require.ErrorIs(t, err, tickets.ErrClosed)
}

func TestAssignDeniedForRequester(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "Help", "body")
	require.NoError(t, err)

	_, err = svc.Assign(ctx, alice, created.ID, 42)
	require.ErrorIs(t, err, authz.ErrDenied)
}

func TestListScopesToOwnTickets(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, "A", "body")
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, "B", "body")
	require.NoError(t, err)

	mine, meta, err := svc.List(ctx, alice, 1, 20)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, 1, meta.Total)
	require.Equal(t, alice.UserID, mine[0].RequesterID)

	queue, _, err := svc.List(ctx, manager, 1, 20)
	require.NoError(t, err)
	require.Len(t, queue, 2)
}
