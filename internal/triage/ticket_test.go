package triage

import (
	"context"
	"slices"
	"testing"

	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		subject, content string
		want             protocol.Priority
	}{
		{"URGENT: deadline today", "", protocol.PriorityHighest},
		{"Status", "please fix asap", protocol.PriorityHighest},
		{"긴급 문의", "", protocol.PriorityHighest},
		{"Important contract", "", protocol.PriorityHigh},
		{"Reminder", "invoice due next week", protocol.PriorityHigh},
		{"Lunch plans", "pasta or pizza", protocol.PriorityMedium},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.subject, tt.content); got != tt.want {
			t.Errorf("PriorityFor(%q, %q) = %q, want %q", tt.subject, tt.content, got, tt.want)
		}
	}
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		subject, content string
		want             protocol.TicketType
	}{
		{"Login broken", "", protocol.TypeBug},
		{"오류 보고", "", protocol.TypeBug},
		{"New feature", "dark mode please", protocol.TypeFeature},
		{"Enhancement proposal", "", protocol.TypeFeature},
		{"Weekly planning", "", protocol.TypeTask},
		// "issue" alone does not mark a bug.
		{"Production issue", "please help", protocol.TypeTask},
	}
	for _, tt := range tests {
		if got := TypeFor(tt.subject, tt.content); got != tt.want {
			t.Errorf("TypeFor(%q, %q) = %q, want %q", tt.subject, tt.content, got, tt.want)
		}
	}
}

func TestLabelsFor(t *testing.T) {
	mail := protocol.RawMail{HasAttachments: true}
	got := LabelsFor(mail, classify.Internal, protocol.PriorityHighest)

	for _, want := range []string{"email-generated", "auto-classified", "has-attachments", "internal", "urgent"} {
		if !slices.Contains(got, want) {
			t.Errorf("labels %v missing %q", got, want)
		}
	}
	if len(got) > maxLabels {
		t.Errorf("labels = %d, cap is %d", len(got), maxLabels)
	}
}

func TestBuildTicket(t *testing.T) {
	mail := protocol.RawMail{
		ID:      "msg-9",
		Subject: "Printer jammed",
		From:    protocol.Sender{Name: "Kim", Address: "kim@vendor.example"},
		Body:    "<p>raw html body</p>",
	}
	norm := protocol.NormalizedMail{CleanedText: "The printer jams on every page."}

	tk := BuildTicket(mail, norm, classify.External)
	if tk.MessageID != "msg-9" || tk.Status != protocol.TicketPending {
		t.Errorf("ticket = %+v", tk)
	}
	if tk.Description != norm.CleanedText {
		t.Errorf("description = %q, want normalized text", tk.Description)
	}
	if tk.Reporter != "Kim" || tk.ReporterEmail != "kim@vendor.example" {
		t.Errorf("reporter = %q <%s>", tk.Reporter, tk.ReporterEmail)
	}
}

// Full scenario: external sender, urgent subject, "issue" in the body, an
// explicit ticket intent, and no LLM configured.
func TestScenarioUrgentExternalMail(t *testing.T) {
	mail := protocol.RawMail{
		ID:      "msg-scenario",
		Subject: "Server down - URGENT",
		From:    protocol.Sender{Name: "Ops", Address: "ops@external.com"},
		Body:    "Production issue, please help",
	}

	e := New(&fakeLookup{})
	v, err := e.Decide(context.Background(), mail, Request{Intent: "create a ticket for this"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Create {
		t.Fatalf("decision = %q, want create", v.Decision)
	}

	norm := protocol.NormalizedMail{CleanedText: mail.Body}
	tk := BuildTicket(mail, norm, classify.External)

	if tk.Priority != protocol.PriorityHighest {
		t.Errorf("priority = %q, want Highest", tk.Priority)
	}
	if tk.Type != protocol.TypeTask {
		t.Errorf("type = %q, want Task", tk.Type)
	}
	for _, want := range []string{"email-generated", "auto-classified", "external"} {
		if !slices.Contains(tk.Labels, want) {
			t.Errorf("labels %v missing %q", tk.Labels, want)
		}
	}
}
