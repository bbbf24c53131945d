package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryPolicy
}

// NewSQLiteStore opens (or creates) the ticket database and runs migrations.
func NewSQLiteStore(path string, retry RetryPolicy) (*SQLiteStore, error) {
	// _txlock=immediate makes every transaction take the write lock up
	// front, so ticket+event pairs never interleave with other writers.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// WAL keeps readers unblocked while a writer is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, retry: retry}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			ticket_id           INTEGER PRIMARY KEY AUTOINCREMENT,
			original_message_id TEXT NOT NULL UNIQUE,
			status              TEXT NOT NULL DEFAULT 'pending',
			title               TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			priority            TEXT NOT NULL DEFAULT 'Medium',
			ticket_type         TEXT NOT NULL DEFAULT 'Task',
			reporter            TEXT NOT NULL DEFAULT '',
			reporter_email      TEXT NOT NULL DEFAULT '',
			labels              TEXT NOT NULL DEFAULT '[]',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_events (
			event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id  INTEGER NOT NULL REFERENCES tickets(ticket_id),
			event_type TEXT NOT NULL,
			old_value  TEXT NOT NULL DEFAULT '',
			new_value  TEXT NOT NULL DEFAULT '',
			actor      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_message_id ON tickets(original_message_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_ticket_events_ticket_id ON ticket_events(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *protocol.Ticket) (*protocol.Ticket, bool, error) {
	var out *protocol.Ticket
	var created bool

	err := s.retry.Run(ctx, func() error {
		var opErr error
		out, created, opErr = s.createOnce(ctx, t)
		return opErr
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// createOnce runs one check-and-insert attempt. The UNIQUE constraint on
// original_message_id makes the dedup check atomic: a conflicting insert
// changes no rows and the existing ticket is read back in the same
// transaction.
func (s *SQLiteStore) createOnce(ctx context.Context, t *protocol.Ticket) (*protocol.Ticket, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	labels, _ := json.Marshal(t.Labels)
	status := t.Status
	if status == "" {
		status = protocol.TicketPending
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (original_message_id, status, title, description, priority, ticket_type, reporter, reporter_email, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(original_message_id) DO NOTHING
	`, t.MessageID, string(status), t.Title, t.Description, string(t.Priority), string(t.Type),
		t.Reporter, t.ReporterEmail, string(labels), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: insert result: %w", err)
	}
	if n == 0 {
		existing, err := scanTicket(tx.QueryRowContext(ctx, selectTicket+` WHERE original_message_id = ?`, t.MessageID))
		if err != nil {
			return nil, false, fmt.Errorf("ticket store: read existing: %w", err)
		}
		return existing, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: insert id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticket_events (ticket_id, event_type, old_value, new_value, created_at)
		VALUES (?, ?, '', ?, ?)
	`, id, protocol.EventTicketCreated, string(status), now.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: creation event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("ticket store: commit: %w", err)
	}

	out := *t
	out.ID = id
	out.Status = status
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, true, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*protocol.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, selectTicket+` WHERE ticket_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetByMessageID(ctx context.Context, messageID string) (*protocol.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, selectTicket+` WHERE original_message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ticket store: get by message: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, next protocol.TicketStatus, actor string) error {
	if !next.Valid() {
		return fmt.Errorf("ticket store: status %q: %w", next, ErrInvalidTransition)
	}
	return s.retry.Run(ctx, func() error {
		return s.updateStatusOnce(ctx, id, next, actor)
	})
}

// updateStatusOnce validates the transition and writes the new status plus
// its status_change event in one transaction, so the audit trail can never
// lag the ticket.
func (s *SQLiteStore) updateStatusOnce(ctx context.Context, id int64, next protocol.TicketStatus, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ticket store: begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tickets WHERE ticket_id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ticket store: read status: %w", err)
	}

	if !protocol.TicketStatus(current).CanTransitionTo(next) {
		return fmt.Errorf("ticket store: %s -> %s: %w", current, next, ErrInvalidTransition)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `UPDATE tickets SET status = ?, updated_at = ? WHERE ticket_id = ?`,
		string(next), now, id); err != nil {
		return fmt.Errorf("ticket store: update status: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_events (ticket_id, event_type, old_value, new_value, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, protocol.EventStatusChange, current, string(next), actor, now); err != nil {
		return fmt.Errorf("ticket store: status event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *protocol.TicketEvent) error {
	return s.retry.Run(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ticket_events (ticket_id, event_type, old_value, new_value, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.TicketID, e.Type, e.OldValue, e.NewValue, e.Actor, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("ticket store: append event: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Events(ctx context.Context, ticketID int64) ([]protocol.TicketEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, ticket_id, event_type, old_value, new_value, actor, created_at
		FROM ticket_events WHERE ticket_id = ? ORDER BY event_id
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: events: %w", err)
	}
	defer rows.Close()

	var events []protocol.TicketEvent
	for rows.Next() {
		var e protocol.TicketEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Type, &e.OldValue, &e.NewValue, &e.Actor, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	query, args := buildFilter(selectTicket, filter)
	query += " ORDER BY created_at DESC, ticket_id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildFilter("SELECT COUNT(*) FROM tickets", filter)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

const selectTicket = `SELECT ticket_id, original_message_id, status, title, description, priority, ticket_type, reporter, reporter_email, labels, created_at, updated_at FROM tickets`

func buildFilter(base string, filter Filter) (string, []any) {
	query := base + " WHERE 1=1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Type != "" {
		query += " AND ticket_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Label != "" {
		query += " AND labels LIKE ?"
		args = append(args, fmt.Sprintf("%%%s%%", filter.Label))
	}
	if filter.Query != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		pattern := fmt.Sprintf("%%%s%%", filter.Query)
		args = append(args, pattern, pattern)
	}
	return query, args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, priority, ticketType, labelsJSON, createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.MessageID, &status, &t.Title, &t.Description, &priority,
		&ticketType, &t.Reporter, &t.ReporterEmail, &labelsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = protocol.TicketStatus(status)
	t.Priority = protocol.Priority(priority)
	t.Type = protocol.TicketType(ticketType)
	json.Unmarshal([]byte(labelsJSON), &t.Labels)
	if t.Labels == nil {
		t.Labels = []string{}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}
