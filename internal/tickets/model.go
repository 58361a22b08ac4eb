// Package tickets implements the helpdesk queue. Regular users raise and
// follow their own tickets while managers work the whole queue.
package tickets

import "time"

// Status values for a ticket.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Ticket is a helpdesk request raised by a user.
type Ticket struct {
	ID          int64
	RequesterID int64
	AssigneeID  *int64
	Subject     string
	Body        string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// Open reports whether the ticket still needs attention.
func (t Ticket) Open() bool {
	return t.Status == StatusOpen
}
