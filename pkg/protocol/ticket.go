package protocol

import "time"

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketPending  TicketStatus = "pending"
	TicketApproved TicketStatus = "approved"
	TicketRejected TicketStatus = "rejected"
)

// Valid reports whether s is one of the known lifecycle states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketApproved, TicketRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
// Pending may move to approved or rejected; both of those are terminal here.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	return s == TicketPending && (next == TicketApproved || next == TicketRejected)
}

// Priority is the urgency assigned to a ticket at creation.
type Priority string

const (
	PriorityHighest Priority = "Highest"
	PriorityHigh    Priority = "High"
	PriorityMedium  Priority = "Medium"
)

// TicketType categorizes the work a ticket represents.
type TicketType string

const (
	TypeBug     TicketType = "Bug"
	TypeFeature TicketType = "Feature Request"
	TypeTask    TicketType = "Task"
)

// Ticket is a persisted work item derived from a single mail message.
// At most one ticket exists per originating message id.
type Ticket struct {
	ID            int64        `json:"ticket_id"`
	MessageID     string       `json:"original_message_id"`
	Status        TicketStatus `json:"status"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Priority      Priority     `json:"priority"`
	Type          TicketType   `json:"ticket_type"`
	Reporter      string       `json:"reporter"`
	ReporterEmail string       `json:"reporter_email"`
	Labels        []string     `json:"labels"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Ticket event types. One event is written atomically with every ticket
// creation or status mutation.
const (
	EventTicketCreated = "ticket_created"
	EventStatusChange  = "status_change"
)

// TicketEvent is an append-only audit record of a ticket's creation or
// state change. Events are never mutated.
type TicketEvent struct {
	ID        int64     `json:"event_id"`
	TicketID  int64     `json:"ticket_id"`
	Type      string    `json:"event_type"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
