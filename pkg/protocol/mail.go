package protocol

import "time"

// ContentType identifies the encoding of a raw mail body.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentText ContentType = "text"
)

// Sender is the name/address pair of a mail originator.
type Sender struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// RawMail is a normalized message record handed to the pipeline by a mail
// connector. It is never persisted as-is; the pipeline derives a
// NormalizedMail and, depending on triage, a Ticket from it.
type RawMail struct {
	// ID is the connector's message id, globally unique per source mailbox.
	ID             string      `json:"id"`
	Subject        string      `json:"subject"`
	From           Sender      `json:"from"`
	Body           string      `json:"body"`
	BodyType       ContentType `json:"body_type"`
	Received       time.Time   `json:"received"`
	HasAttachments bool        `json:"has_attachments"`
}

// NormalizedMail is the denoised form of a RawMail produced by the content
// extractor. Immutable once created.
type NormalizedMail struct {
	MessageID string `json:"message_id"`
	// CleanedText is the body with markup and boilerplate stripped.
	CleanedText string `json:"cleaned_text"`
	// Summary is at most 300 characters.
	Summary string `json:"summary"`
	// KeyPoints holds up to 5 elements, each 15-200 characters.
	KeyPoints []string `json:"key_points"`
	// Method records which extraction stage produced the result.
	// Diagnostic only; no decision logic reads it.
	Method string `json:"extraction_method"`
}
