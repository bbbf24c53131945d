package triage

import (
	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

const maxLabels = 5

// PriorityFor derives a ticket priority from subject plus body text:
// urgency keywords win over importance keywords, default Medium.
func PriorityFor(subject, content string) protocol.Priority {
	text := subject + " " + content
	if containsAny(text, urgentKeywords) {
		return protocol.PriorityHighest
	}
	if containsAny(text, highKeywords) {
		return protocol.PriorityHigh
	}
	return protocol.PriorityMedium
}

// TypeFor derives a ticket type: bug keywords first, then feature keywords,
// default Task.
func TypeFor(subject, content string) protocol.TicketType {
	text := subject + " " + content
	if containsAny(text, bugKeywords) {
		return protocol.TypeBug
	}
	if containsAny(text, featureKeywords) {
		return protocol.TypeFeature
	}
	return protocol.TypeTask
}

// LabelsFor builds the ticket label set: fixed provenance labels plus
// conditional attachment, domain, and urgency tags, capped at maxLabels.
func LabelsFor(mail protocol.RawMail, kind classify.Kind, priority protocol.Priority) []string {
	labels := []string{"email-generated", "auto-classified"}
	if mail.HasAttachments {
		labels = append(labels, "has-attachments")
	}
	if kind == classify.Internal {
		labels = append(labels, "internal")
	} else {
		labels = append(labels, "external")
	}
	if priority == protocol.PriorityHighest {
		labels = append(labels, "urgent")
	}
	if len(labels) > maxLabels {
		labels = labels[:maxLabels]
	}
	return labels
}

// BuildTicket assembles the pending ticket for a mail judged worth creating.
// The description carries the normalized content, not the raw body.
func BuildTicket(mail protocol.RawMail, norm protocol.NormalizedMail, kind classify.Kind) *protocol.Ticket {
	priority := PriorityFor(mail.Subject, norm.CleanedText)
	return &protocol.Ticket{
		MessageID:     mail.ID,
		Status:        protocol.TicketPending,
		Title:         mail.Subject,
		Description:   norm.CleanedText,
		Priority:      priority,
		Type:          TypeFor(mail.Subject, norm.CleanedText),
		Reporter:      mail.From.Name,
		ReporterEmail: mail.From.Address,
		Labels:        LabelsFor(mail, kind, priority),
	}
}
