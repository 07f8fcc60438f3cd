package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// TicketingProvider is the external ticket tracker.
type TicketingProvider interface {
	CreateTicket(ctx context.Context, req *TicketRequest) (ticketID string, err error)
	CreateFollowupTask(ctx context.Context, req *FollowupRequest) (taskID string, err error)
}

// TicketRequest carries the fields submitted for a new ticket.
type TicketRequest struct {
	Title         string
	Description   string
	Priority      domain.Priority
	Category      domain.Category
	CustomerEmail string
	Source        string
	Metadata      TicketMetadata
}

type TicketMetadata struct {
	MessageID string                 `json:"message_id"`
	ThreadID  string                 `json:"thread_id"`
	Analysis  domain.AnalysisSummary `json:"analysis"`
}

// FollowupRequest schedules a callback task against a ticket.
type FollowupRequest struct {
	TicketID    string
	Title       string
	Description string
	DueAt       time.Time
	Urgency     domain.CallbackUrgency
}

// AvailabilityProvider reports busy time for the support team.
type AvailabilityProvider interface {
	Busy(ctx context.Context, from, to time.Time) ([]domain.Interval, error)
}
