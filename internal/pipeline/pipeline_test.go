package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/internal/extract"
	"github.com/mailhive-io/mailhive/internal/mailindex"
	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/internal/triage"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, ticket.Store, *mailindex.Index) {
	t.Helper()
	dir := t.TempDir()

	store, err := ticket.NewSQLiteStore(filepath.Join(dir, "tickets.db"), ticket.DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("open ticket store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx, err := mailindex.Open(filepath.Join(dir, "mailindex.db"), ticket.DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	cls := classify.New([]string{"ourcorp.com"}, []string{"partner.example"})
	engine := triage.New(store)
	o := New(extract.New(nil), cls, engine, store, idx, nil)
	return o, store, idx
}

func externalMail(id string) protocol.RawMail {
	return protocol.RawMail{
		ID:       id,
		Subject:  "Server down - URGENT",
		From:     protocol.Sender{Name: "Ops", Address: "ops@partner.example"},
		Body:     "Production issue, please help. Call +82 10-1234-5678 if unreachable.",
		BodyType: protocol.ContentText,
		Received: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestProcessCreatesTicketAndIndexes(t *testing.T) {
	o, _, idx := newTestOrchestrator(t)
	ctx := context.Background()

	res, err := o.Process(ctx, externalMail("mail-1"), "create a ticket for this")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Decision != triage.Create {
		t.Fatalf("decision = %q (%s), want create", res.Decision, res.Reason)
	}
	if res.Ticket == nil || res.Ticket.ID == 0 {
		t.Fatalf("ticket = %+v", res.Ticket)
	}
	if res.Ticket.Priority != protocol.PriorityHighest {
		t.Errorf("priority = %q, want Highest", res.Ticket.Priority)
	}

	rec, err := idx.Get(ctx, "mail-1")
	if err != nil {
		t.Fatalf("index record missing: %v", err)
	}
	if rec.Status != "ticketed" {
		t.Errorf("index status = %q", rec.Status)
	}
	if rec.RefinedContent == "" || rec.Sender != "Ops <ops@partner.example>" {
		t.Errorf("record = %+v", rec)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.Process(ctx, externalMail("mail-2"), "create a ticket")
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := o.Process(ctx, externalMail("mail-2"), "create a ticket")
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if second.Decision != triage.AlreadyExists {
		t.Fatalf("second decision = %q, want already_exists", second.Decision)
	}
	if second.Ticket == nil || second.Ticket.ID != first.Ticket.ID {
		t.Errorf("second ticket = %+v, want id %d", second.Ticket, first.Ticket.ID)
	}

	n, err := store.Count(ctx, ticket.Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("ticket count = %d, want 1", n)
	}

	events, err := store.Events(ctx, first.Ticket.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want only the creation event", len(events))
	}
}

func TestProcessSkipsInternalSender(t *testing.T) {
	o, store, idx := newTestOrchestrator(t)
	ctx := context.Background()

	mail := externalMail("mail-3")
	mail.From.Address = "alice@ourcorp.com"

	res, err := o.Process(ctx, mail, "create a ticket")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Decision != triage.Skip {
		t.Fatalf("decision = %q, want skip", res.Decision)
	}

	if n, _ := store.Count(ctx, ticket.Filter{}); n != 0 {
		t.Errorf("ticket count = %d after skip", n)
	}
	if ok, _ := idx.Exists(ctx, "mail-3"); ok {
		t.Error("skipped mail should not be indexed")
	}
}

func TestProcessSkipsWithoutIntent(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)

	res, err := o.Process(context.Background(), externalMail("mail-4"), "what came in today?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Decision != triage.Skip {
		t.Fatalf("decision = %q, want skip", res.Decision)
	}
	if n, _ := store.Count(context.Background(), ticket.Filter{}); n != 0 {
		t.Errorf("ticket count = %d after skip", n)
	}
}

func TestProcessBatchCounts(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	internal := externalMail("mail-int")
	internal.From.Address = "bob@ourcorp.com"

	mails := []protocol.RawMail{
		externalMail("mail-a"),
		externalMail("mail-a"), // duplicate of the first
		internal,
		externalMail("mail-b"),
	}

	br := o.ProcessBatch(context.Background(), mails, "create tickets")
	if br.Created != 2 || br.Existing != 1 || br.Skipped != 1 || br.Failed != 0 {
		t.Errorf("batch = %+v, want 2 created / 1 existing / 1 skipped", br)
	}
}
