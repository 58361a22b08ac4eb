package tickets

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/shared"
)

// ErrClosed rejects mutations against a ticket that is already closed.
var ErrClosed = errors.New("tickets: ticket is closed")

// RepositoryPort defines data access methods for tickets.
type RepositoryPort interface {
	List(ctx context.Context, requesterID int64, limit, offset int) ([]Ticket, int, error)
	Get(ctx context.Context, id int64) (Ticket, error)
	Create(ctx context.Context, t Ticket) (Ticket, error)
	Update(ctx context.Context, id int64, subject, body string) (Ticket, error)
	Assign(ctx context.Context, id, assigneeID int64) (Ticket, error)
	Close(ctx context.Context, id int64) (Ticket, error)
}

// Service handles helpdesk business logic. View, update and close are
// ownership-conditional for regular users; managers hold them outright.
type Service struct {
	repo      RepositoryPort
	evaluator *authz.Evaluator
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, evaluator *authz.Evaluator, logger *slog.Logger) *Service {
	return &Service{repo: repo, evaluator: evaluator, logger: logger}
}

// List returns a page of tickets. Principals holding the unconditional view
// grant see the whole queue; everyone else sees only their own tickets.
func (s *Service) List(ctx context.Context, p authz.Principal, page, perPage int) ([]Ticket, shared.Pagination, error) {
	requesterID := p.UserID
	if s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionView) == nil {
		requesterID = 0
	}
	pg := shared.NewPagination(page, perPage, 0)
	tickets, total, err := s.repo.List(ctx, requesterID, pg.PerPage, pg.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return tickets, shared.NewPagination(page, perPage, total), nil
}

// Get fetches a ticket the principal may view.
func (s *Service) Get(ctx context.Context, p authz.Principal, id int64) (Ticket, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if err := s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionView, authz.WithOwner(t.RequesterID)); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Create opens a ticket on behalf of the principal.
func (s *Service) Create(ctx context.Context, p authz.Principal, subject, body string) (Ticket, error) {
	if err := s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionCreate); err != nil {
		return Ticket{}, err
	}
	return s.repo.Create(ctx, Ticket{
		RequesterID: p.UserID,
		Subject:     subject,
		Body:        body,
		Status:      StatusOpen,
	})
}

// Update rewrites subject and body while the ticket is still open.
func (s *Service) Update(ctx context.Context, p authz.Principal, id int64, subject, body string) (Ticket, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if err := s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionUpdate, authz.WithOwner(t.RequesterID)); err != nil {
		return Ticket{}, err
	}
	if !t.Open() {
		return Ticket{}, ErrClosed
	}
	return s.repo.Update(ctx, id, subject, body)
}

// Assign hands a ticket to an agent.
func (s *Service) Assign(ctx context.Context, p authz.Principal, id, assigneeID int64) (Ticket, error) {
	if err := s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionAssign); err != nil {
		return Ticket{}, err
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if !t.Open() {
		return Ticket{}, ErrClosed
	}
	return s.repo.Assign(ctx, id, assigneeID)
}

// Close resolves a ticket. Requesters may close their own, managers any.
func (s *Service) Close(ctx context.Context, p authz.Principal, id int64) (Ticket, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if err := s.evaluator.Authorize(p, authz.ResourceTicket, authz.ActionClose, authz.WithOwner(t.RequesterID)); err != nil {
		return Ticket{}, err
	}
	if !t.Open() {
		return Ticket{}, ErrClosed
	}
	return s.repo.Close(ctx, id)
}
