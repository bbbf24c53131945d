// Package provider abstracts the LLM APIs consulted by the triage engine
// for external ticket-creation judgment.
package provider

import (
	"context"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// Provider is the abstraction over LLM chat APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}
