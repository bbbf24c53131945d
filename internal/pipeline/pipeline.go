// Package pipeline glues the stages together: normalize a raw mail,
// classify its sender, run triage, and persist the outcome to the ticket
// store and content index. Processing the same message twice is safe.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/internal/extract"
	"github.com/mailhive-io/mailhive/internal/mailindex"
	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/internal/triage"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// Result is the outcome of processing one mail.
type Result struct {
	Decision   triage.Decision
	Reason     string
	Ticket     *protocol.Ticket // set on Create and AlreadyExists
	Normalized protocol.NormalizedMail
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Created  int
	Existing int
	Skipped  int
	Failed   int
}

// Orchestrator runs the mail-to-ticket pipeline.
type Orchestrator struct {
	normalizer *extract.Normalizer
	classifier *classify.Classifier
	engine     *triage.Engine
	tickets    ticket.Store
	index      *mailindex.Index
	logger     *slog.Logger
}

// New wires an Orchestrator. A nil logger falls back to slog.Default().
func New(normalizer *extract.Normalizer, classifier *classify.Classifier, engine *triage.Engine,
	tickets ticket.Store, index *mailindex.Index, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		normalizer: normalizer,
		classifier: classifier,
		engine:     engine,
		tickets:    tickets,
		index:      index,
		logger:     logger,
	}
}

// Process runs one mail through the pipeline. Skip performs no persistence;
// AlreadyExists returns the existing ticket without side effects; Create
// writes the ticket plus its event and indexes the normalized content.
// Calling Process twice with the same message id never creates a second
// ticket.
func (o *Orchestrator) Process(ctx context.Context, mail protocol.RawMail, intent string) (*Result, error) {
	norm := o.normalizer.Normalize(mail.Body, mail.BodyType)
	norm.MessageID = mail.ID

	shouldCreate, kind, domain := o.classifier.ShouldCreateTicket(mail.From.Address)
	if !shouldCreate {
		o.logger.Debug("internal sender, skipping", "mail_id", mail.ID, "domain", domain)
		return &Result{
			Decision:   triage.Skip,
			Reason:     "internal sender " + domain,
			Normalized: norm,
		}, nil
	}

	verdict, err := o.engine.Decide(ctx, mail, triage.Request{Intent: intent})
	if err != nil {
		return nil, fmt.Errorf("pipeline: decide %s: %w", mail.ID, err)
	}

	switch verdict.Decision {
	case triage.Skip:
		return &Result{Decision: triage.Skip, Reason: verdict.Reason, Normalized: norm}, nil

	case triage.AlreadyExists:
		return &Result{
			Decision:   triage.AlreadyExists,
			Reason:     verdict.Reason,
			Ticket:     verdict.Existing,
			Normalized: norm,
		}, nil
	}

	created, ok, err := o.tickets.Create(ctx, triage.BuildTicket(mail, norm, kind))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create ticket %s: %w", mail.ID, err)
	}
	if !ok {
		// A concurrent worker won the insert between the dedup check
		// and here; the unique constraint collapsed both into one.
		return &Result{
			Decision:   triage.AlreadyExists,
			Reason:     fmt.Sprintf("ticket %d already exists for this message", created.ID),
			Ticket:     created,
			Normalized: norm,
		}, nil
	}

	if err := o.index.Upsert(ctx, indexRecord(mail, norm)); err != nil {
		return nil, fmt.Errorf("pipeline: index %s: %w", mail.ID, err)
	}

	o.logger.Info("ticket created",
		"mail_id", mail.ID, "ticket_id", created.ID,
		"priority", created.Priority, "type", created.Type, "method", norm.Method)

	return &Result{
		Decision:   triage.Create,
		Reason:     verdict.Reason,
		Ticket:     created,
		Normalized: norm,
	}, nil
}

// ProcessBatch runs a batch of mails, counting outcomes. Failures are
// logged and counted, not propagated, so one bad mail cannot stall a scan.
func (o *Orchestrator) ProcessBatch(ctx context.Context, mails []protocol.RawMail, intent string) BatchResult {
	var br BatchResult
	for _, mail := range mails {
		res, err := o.Process(ctx, mail, intent)
		if err != nil {
			o.logger.Error("mail processing failed", "mail_id", mail.ID, "err", err)
			br.Failed++
			continue
		}
		switch res.Decision {
		case triage.Create:
			br.Created++
		case triage.AlreadyExists:
			br.Existing++
		default:
			br.Skipped++
		}
	}
	return br
}

func indexRecord(mail protocol.RawMail, norm protocol.NormalizedMail) *mailindex.Record {
	return &mailindex.Record{
		MessageID:        mail.ID,
		Subject:          mail.Subject,
		Sender:           fmt.Sprintf("%s <%s>", mail.From.Name, mail.From.Address),
		OriginalContent:  mail.Body,
		RefinedContent:   norm.CleanedText,
		Summary:          norm.Summary,
		KeyPoints:        norm.KeyPoints,
		ContentType:      string(mail.BodyType),
		ExtractionMethod: norm.Method,
		Status:           "ticketed",
		ReceivedAt:       mail.Received,
	}
}
