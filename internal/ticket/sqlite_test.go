package ticket

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"), DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTicket(messageID string) *protocol.Ticket {
	return &protocol.Ticket{
		MessageID:     messageID,
		Title:         "Login page returns 500",
		Description:   "Customer reports the login page fails with an error.",
		Priority:      protocol.PriorityHigh,
		Type:          protocol.TypeBug,
		Reporter:      "Jamie Lee",
		ReporterEmail: "jamie@customer.example",
		Labels:        []string{"email-generated", "auto-classified"},
	}
}

func TestCreateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, ok, err := s.Create(ctx, sampleTicket("msg-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ok {
		t.Fatal("created = false for new message id")
	}
	if created.ID == 0 {
		t.Error("ticket id not assigned")
	}
	if created.Status != protocol.TicketPending {
		t.Errorf("status = %q, want pending", created.Status)
	}

	got, err := s.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Login page returns 500" || got.MessageID != "msg-1" {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.Labels) != 2 || got.Labels[0] != "email-generated" {
		t.Errorf("labels = %v", got.Labels)
	}
	if got.Priority != protocol.PriorityHigh || got.Type != protocol.TypeBug {
		t.Errorf("priority/type = %q/%q", got.Priority, got.Type)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestCreateWritesCreationEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, err := s.Create(ctx, sampleTicket("msg-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	events, err := s.Events(ctx, created.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != protocol.EventTicketCreated {
		t.Errorf("event type = %q", events[0].Type)
	}
	if events[0].NewValue != string(protocol.TicketPending) {
		t.Errorf("event new_value = %q", events[0].NewValue)
	}
}

func TestCreateDuplicateMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, ok, err := s.Create(ctx, sampleTicket("msg-dup"))
	if err != nil || !ok {
		t.Fatalf("first Create: ok=%v err=%v", ok, err)
	}

	second := sampleTicket("msg-dup")
	second.Title = "Different title, same message"
	got, ok, err := s.Create(ctx, second)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if ok {
		t.Fatal("created = true for duplicate message id")
	}
	if got.ID != first.ID {
		t.Errorf("returned id = %d, want existing %d", got.ID, first.ID)
	}
	if got.Title != first.Title {
		t.Errorf("duplicate overwrote ticket: %q", got.Title)
	}

	// Still exactly one ticket and one event.
	n, err := s.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("tickets = %d, want 1", n)
	}
	events, _ := s.Events(ctx, first.ID)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestGetByMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, _ := s.Create(ctx, sampleTicket("msg-1"))

	got, err := s.GetByMessageID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByMessageID: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("id = %d, want %d", got.ID, created.ID)
	}

	if _, err := s.GetByMessageID(ctx, "no-such"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing message err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, _ := s.Create(ctx, sampleTicket("msg-1"))

	if err := s.UpdateStatus(ctx, created.ID, protocol.TicketApproved, "operator"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := s.GetByID(ctx, created.ID)
	if got.Status != protocol.TicketApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at not touched")
	}

	events, _ := s.Events(ctx, created.ID)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	last := events[1]
	if last.Type != protocol.EventStatusChange {
		t.Errorf("event type = %q", last.Type)
	}
	if last.OldValue != "pending" || last.NewValue != "approved" || last.Actor != "operator" {
		t.Errorf("event = %+v", last)
	}
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, _ := s.Create(ctx, sampleTicket("msg-1"))
	if err := s.UpdateStatus(ctx, created.ID, protocol.TicketRejected, "op"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Rejected is terminal.
	err := s.UpdateStatus(ctx, created.ID, protocol.TicketApproved, "op")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}

	// A failed transition writes no event.
	events, _ := s.Events(ctx, created.ID)
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestUpdateStatusUnknownValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, _ := s.Create(ctx, sampleTicket("msg-1"))

	if err := s.UpdateStatus(ctx, created.ID, "archived", "op"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown status err = %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateStatus(ctx, 9999, protocol.TicketApproved, "op"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown ticket err = %v, want ErrNotFound", err)
	}
}

func TestListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleTicket("msg-a")
	b := sampleTicket("msg-b")
	b.Title = "Add dark mode"
	b.Type = protocol.TypeFeature
	b.Labels = []string{"email-generated", "external"}
	c := sampleTicket("msg-c")

	for _, tk := range []*protocol.Ticket{a, b, c} {
		if _, _, err := s.Create(ctx, tk); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	createdB, _ := s.GetByMessageID(ctx, "msg-b")
	s.UpdateStatus(ctx, createdB.ID, protocol.TicketApproved, "op")

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}

	approved := protocol.TicketApproved
	got, _ := s.List(ctx, Filter{Status: &approved})
	if len(got) != 1 || got[0].MessageID != "msg-b" {
		t.Errorf("status filter = %+v", got)
	}

	got, _ = s.List(ctx, Filter{Type: protocol.TypeFeature})
	if len(got) != 1 || got[0].Title != "Add dark mode" {
		t.Errorf("type filter = %+v", got)
	}

	got, _ = s.List(ctx, Filter{Label: "external"})
	if len(got) != 1 {
		t.Errorf("label filter = %d results", len(got))
	}

	got, _ = s.List(ctx, Filter{Query: "dark mode"})
	if len(got) != 1 {
		t.Errorf("query filter = %d results", len(got))
	}

	got, _ = s.List(ctx, Filter{Limit: 2})
	if len(got) != 2 {
		t.Errorf("limit = %d results", len(got))
	}

	n, _ := s.Count(ctx, Filter{Type: protocol.TypeBug})
	if n != 2 {
		t.Errorf("bug count = %d, want 2", n)
	}
}

func TestAppendEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, _ := s.Create(ctx, sampleTicket("msg-1"))

	err := s.AppendEvent(ctx, &protocol.TicketEvent{
		TicketID: created.ID,
		Type:     "comment",
		NewValue: "triaged manually",
		Actor:    "operator",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, _ := s.Events(ctx, created.ID)
	if len(events) != 2 || events[1].NewValue != "triaged manually" {
		t.Errorf("events = %+v", events)
	}
}
