package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

type fakeLookup struct {
	existing *protocol.Ticket
	err      error
}

func (f *fakeLookup) GetByMessageID(ctx context.Context, messageID string) (*protocol.Ticket, error) {
	if f.existing != nil {
		return f.existing, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, ticket.ErrNotFound
}

type fakeProvider struct {
	content string
	err     error
	calls   int
}

func (f *fakeProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func workMail() protocol.RawMail {
	return protocol.RawMail{
		ID:      "msg-1",
		Subject: "Server down - URGENT",
		From:    protocol.Sender{Name: "Ops", Address: "ops@external.com"},
		Body:    "Production issue, please help",
	}
}

func TestDecideRuleExplicitIntent(t *testing.T) {
	e := New(&fakeLookup{})

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "create a ticket for this"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Create {
		t.Errorf("decision = %q, want create", v.Decision)
	}
	if v.Metadata["source"] != "rule" {
		t.Errorf("source = %v", v.Metadata["source"])
	}
}

func TestDecideRuleNoIntent(t *testing.T) {
	e := New(&fakeLookup{})

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "summarize my inbox"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Skip {
		t.Errorf("decision = %q, want skip", v.Decision)
	}
	if v.Reason != "rule: no explicit intent" {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestDecideRuleKoreanIntent(t *testing.T) {
	e := New(&fakeLookup{})

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "이 메일로 티켓 만들어줘"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Create {
		t.Errorf("decision = %q, want create", v.Decision)
	}
}

func TestDecideDedupWinsOverCreate(t *testing.T) {
	existing := &protocol.Ticket{ID: 7, MessageID: "msg-1"}
	e := New(&fakeLookup{existing: existing})

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "create a ticket"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != AlreadyExists {
		t.Errorf("decision = %q, want already_exists", v.Decision)
	}
	if v.Existing == nil || v.Existing.ID != 7 {
		t.Errorf("existing = %+v", v.Existing)
	}
}

func TestDecideLookupFailureIsFatal(t *testing.T) {
	e := New(&fakeLookup{err: errors.New("disk gone")})

	_, err := e.Decide(context.Background(), workMail(), Request{Intent: "create a ticket"})
	if err == nil {
		t.Fatal("expected error for store failure")
	}
}

func TestDecideLLMVerdictAuthoritative(t *testing.T) {
	// The mail is full of ticket keywords but the LLM says no; the LLM
	// wins and the keywords are metadata only.
	p := &fakeProvider{content: `{"should_create_ticket": false, "reasoning": "automated notification", "confidence": 0.9}`}
	e := New(&fakeLookup{}, WithProvider(p, "test-model", 128))

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "create a ticket for this"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Skip {
		t.Errorf("decision = %q, want skip from llm", v.Decision)
	}
	if v.Metadata["source"] != "llm" {
		t.Errorf("source = %v", v.Metadata["source"])
	}
	if kw, ok := v.Metadata["keywords"].([]string); !ok || len(kw) == 0 {
		t.Errorf("keyword metadata missing: %v", v.Metadata["keywords"])
	}
}

func TestDecideLLMCreateStillChecksDedup(t *testing.T) {
	p := &fakeProvider{content: `{"should_create_ticket": true, "reasoning": "incident report", "confidence": 0.95}`}
	existing := &protocol.Ticket{ID: 3, MessageID: "msg-1"}
	e := New(&fakeLookup{existing: existing}, WithProvider(p, "test-model", 128))

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: ""})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != AlreadyExists {
		t.Errorf("decision = %q, want already_exists", v.Decision)
	}
}

func TestDecideLLMFailureFallsBackToRules(t *testing.T) {
	p := &fakeProvider{err: errors.New("api down")}
	e := New(&fakeLookup{}, WithProvider(p, "test-model", 128))

	v, err := e.Decide(context.Background(), workMail(), Request{Intent: "create a ticket for this"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != Create {
		t.Errorf("decision = %q, want create from rule fallback", v.Decision)
	}
	if v.Metadata["source"] != "rule" {
		t.Errorf("source = %v", v.Metadata["source"])
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict("Here is my judgment:\n```json\n{\"should_create_ticket\": true, \"confidence\": 0.8}\n```\n")
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if !v.ShouldCreate || v.Confidence != 0.8 {
		t.Errorf("verdict = %+v", v)
	}

	if _, err := parseVerdict("I cannot answer that."); err == nil {
		t.Error("expected error for non-JSON reply")
	}
}
