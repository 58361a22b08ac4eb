package tickets

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-cms/atrium/internal/shared"
)

// Repository provides PostgreSQL backed persistence for tickets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ticketColumns = `id, requester_id, assignee_id, subject, body, status, created_at, updated_at, closed_at`

// List returns one page of tickets. A zero requesterID means the whole
// queue; otherwise only that requester's tickets.
func (r *Repository) List(ctx context.Context, requesterID int64, limit, offset int) ([]Ticket, int, error) {
	// NULLIF turns the zero sentinel into "no filter".
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE requester_id = COALESCE(NULLIF($1, 0), requester_id)`,
		requesterID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE requester_id = COALESCE(NULLIF($1, 0), requester_id)
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		requesterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// Get fetches a ticket by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

// Create inserts an open ticket.
func (r *Repository) Create(ctx context.Context, t Ticket) (Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO tickets (requester_id, subject, body, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING `+ticketColumns,
		t.RequesterID, t.Subject, t.Body, t.Status)
	return scanTicket(row)
}

// Update rewrites subject and body.
func (r *Repository) Update(ctx context.Context, id int64, subject, body string) (Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE tickets SET subject = $2, body = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+ticketColumns,
		id, subject, body)
	return scanTicket(row)
}

// Assign sets the ticket's assignee.
func (r *Repository) Assign(ctx context.Context, id, assigneeID int64) (Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE tickets SET assignee_id = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+ticketColumns,
		id, assigneeID)
	return scanTicket(row)
}

// Close marks the ticket closed and stamps closed_at.
func (r *Repository) Close(ctx context.Context, id int64) (Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE tickets SET status = 'closed', closed_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+ticketColumns,
		id)
	return scanTicket(row)
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.RequesterID, &t.AssigneeID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, shared.ErrNotFound
		}
		return Ticket{}, err
	}
	return t, nil
}
