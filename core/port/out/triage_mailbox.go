// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// Connector is implemented by collaborators that must be reachable before the loop runs.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
}

// =============================================================================
// Mailbox
// =============================================================================

// InboxProvider reads customer mail.
type InboxProvider interface {
	// ListUnseen returns unread messages received within window, at most max.
	ListUnseen(ctx context.Context, window time.Duration, max int) ([]domain.InboundMessage, error)
	Get(ctx context.Context, id string) (*domain.InboundMessage, error)
	MarkRead(ctx context.Context, id string) error
}

// OutboxProvider sends replies.
type OutboxProvider interface {
	Send(ctx context.Context, msg *OutgoingMessage) (*SendResult, error)
}

// OutgoingMessage is a plain-text reply.
type OutgoingMessage struct {
	To        string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

// SendResult identifies the sent message at the provider.
type SendResult struct {
	MessageID string
	ThreadID  string
	SentAt    time.Time
}
