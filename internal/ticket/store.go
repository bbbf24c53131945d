// Package ticket persists work tickets derived from mail, with an audit
// event written atomically alongside every creation and status change.
package ticket

import (
	"context"
	"errors"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// ErrNotFound is returned when no ticket matches the lookup.
var ErrNotFound = errors.New("ticket: not found")

// ErrInvalidTransition is returned when a status update violates the
// lifecycle (only pending tickets may be approved or rejected).
var ErrInvalidTransition = errors.New("ticket: invalid status transition")

// Store is the persistence interface for tickets and their events.
type Store interface {
	// Create inserts a ticket with a ticket_created event in one
	// transaction. At most one ticket exists per message id: when one
	// already does, Create returns it with created=false and writes
	// nothing. The returned ticket carries the assigned id and times.
	Create(ctx context.Context, t *protocol.Ticket) (out *protocol.Ticket, created bool, err error)
	// GetByID retrieves a ticket by its id.
	GetByID(ctx context.Context, id int64) (*protocol.Ticket, error)
	// GetByMessageID retrieves the ticket for an originating message id.
	GetByMessageID(ctx context.Context, messageID string) (*protocol.Ticket, error)
	// UpdateStatus transitions a ticket and appends a status_change event
	// in the same transaction; an event write failure fails the update.
	UpdateStatus(ctx context.Context, id int64, next protocol.TicketStatus, actor string) error
	// AppendEvent records a standalone audit event for a ticket.
	AppendEvent(ctx context.Context, e *protocol.TicketEvent) error
	// Events returns a ticket's events, oldest first.
	Events(ctx context.Context, ticketID int64) ([]protocol.TicketEvent, error)
	// List returns tickets matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error)
	// Count returns the number of tickets matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
	// Close releases the underlying database.
	Close() error
}

// Filter constrains ticket list queries.
type Filter struct {
	Status *protocol.TicketStatus
	Type   protocol.TicketType
	Label  string // matches any label
	Query  string // text search on title and description
	Limit  int    // 0 = no limit
}
