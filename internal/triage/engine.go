// Package triage decides whether a mail becomes a ticket. An external LLM
// verdict is authoritative when a provider is configured and reachable;
// otherwise a deterministic keyword rule applies. The dedup check always
// runs last, so no branch can create a second ticket for a message.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailhive-io/mailhive/internal/provider"
	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// Decision is the tri-state outcome of triage.
type Decision string

const (
	Create        Decision = "create"
	AlreadyExists Decision = "already_exists"
	Skip          Decision = "skip"
)

// Verdict is the full triage outcome. Existing is set on AlreadyExists.
type Verdict struct {
	Decision Decision
	Reason   string
	Metadata map[string]any
	Existing *protocol.Ticket
}

// Request carries the caller's context into a decision.
type Request struct {
	Intent      string
	Corrections []string // past operator corrections, surfaced to the LLM
}

// TicketLookup is the slice of the ticket store the engine needs for its
// dedup check.
type TicketLookup interface {
	GetByMessageID(ctx context.Context, messageID string) (*protocol.Ticket, error)
}

// Engine makes ticket-creation decisions.
type Engine struct {
	lookup    TicketLookup
	provider  provider.Provider
	model     string
	maxTokens int
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvider installs an LLM for external judgment.
func WithProvider(p provider.Provider, model string, maxTokens int) Option {
	return func(e *Engine) {
		e.provider = p
		e.model = model
		e.maxTokens = maxTokens
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine. Without a provider it runs on keyword rules alone.
func New(lookup TicketLookup, opts ...Option) *Engine {
	e := &Engine{
		lookup:    lookup,
		maxTokens: 256,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide returns the triage verdict for a mail. It errors only on storage
// failures during the dedup check; LLM failures degrade to the rule branch.
func (e *Engine) Decide(ctx context.Context, mail protocol.RawMail, req Request) (*Verdict, error) {
	// Keyword hits are diagnostic metadata in every branch; they never
	// override an available external verdict.
	signals := matchSignals(mail.Subject + " " + mail.Body)
	meta := map[string]any{"keywords": signals}

	var wantCreate bool
	var reason string

	if e.provider != nil {
		v, err := e.askProvider(ctx, mail, req)
		if err == nil {
			wantCreate = v.ShouldCreate
			reason = "llm: " + v.Reasoning
			meta["source"] = "llm"
			meta["confidence"] = v.Confidence
			meta["detected_intent"] = v.DetectedIntent
		} else {
			e.logger.Warn("external judgment unavailable, using rules", "err", err)
			wantCreate, reason = e.ruleDecision(req.Intent)
			meta["source"] = "rule"
		}
	} else {
		wantCreate, reason = e.ruleDecision(req.Intent)
		meta["source"] = "rule"
	}

	if !wantCreate {
		return &Verdict{Decision: Skip, Reason: reason, Metadata: meta}, nil
	}

	// Dedup always wins over a create verdict from either branch.
	existing, err := e.lookup.GetByMessageID(ctx, mail.ID)
	if err == nil {
		return &Verdict{
			Decision: AlreadyExists,
			Reason:   fmt.Sprintf("ticket %d already exists for this message", existing.ID),
			Metadata: meta,
			Existing: existing,
		}, nil
	}
	if !errors.Is(err, ticket.ErrNotFound) {
		return nil, fmt.Errorf("triage: dedup check: %w", err)
	}

	return &Verdict{Decision: Create, Reason: reason, Metadata: meta}, nil
}

// ruleDecision is the deterministic fallback: create only on explicit
// ticket intent from the caller.
func (e *Engine) ruleDecision(intent string) (bool, string) {
	if HasExplicitIntent(intent) {
		return true, "rule: explicit ticket intent"
	}
	return false, "rule: no explicit intent"
}

const systemPrompt = `You are the ticket-creation judge of a mail management system.

Analyze the mail and decide whether it needs a work ticket.

Mail that needs a ticket: work requests or instructions, project issues or
task requests, bug reports or technical problems, processes needing approval,
meeting or scheduling requests, customer support requests, outage or incident
reports, collaboration or review requests.

Mail that does not: personal greetings, plain information sharing such as
newsletters or announcements, spam and advertising, automated notifications,
casual conversation.

If the user's request asks for tickets or work mail, work-related mail should
become tickets.

Respond with JSON only:
{
    "should_create_ticket": true/false,
    "reasoning": "brief justification",
    "confidence": 0.0-1.0,
    "detected_intent": "ticket_creation|mail_query|information_request|other",
    "ticket_type": "jira|general|project|issue|other"
}`

const bodyExcerptLen = 500

type llmVerdict struct {
	ShouldCreate   bool    `json:"should_create_ticket"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
	DetectedIntent string  `json:"detected_intent"`
	TicketType     string  `json:"ticket_type"`
}

// askProvider sends subject, sender, a body excerpt, and the caller's
// intent to the LLM and parses its JSON verdict.
func (e *Engine) askProvider(ctx context.Context, mail protocol.RawMail, req Request) (*llmVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mail:\nSubject: %s\nSender: %s <%s>\nBody: %s\n\n",
		mail.Subject, mail.From.Name, mail.From.Address, excerpt(mail.Body, bodyExcerptLen))
	fmt.Fprintf(&b, "User request: %q\n", req.Intent)
	if len(req.Corrections) > 0 {
		fmt.Fprintf(&b, "Past operator corrections: %s\n", strings.Join(req.Corrections, "; "))
	}
	b.WriteString("\nDoes this mail describe work that needs a ticket?")

	resp, err := e.provider.Chat(ctx, protocol.ChatRequest{
		Model: e.model,
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	v, err := parseVerdict(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	return v, nil
}

// parseVerdict extracts the JSON object from an LLM reply, tolerating
// prose or code fences around it.
func parseVerdict(content string) (*llmVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in verdict: %.80q", content)
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	return &v, nil
}

func excerpt(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
