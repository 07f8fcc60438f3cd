package in

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// AutomationService is the control surface of the triage loop.
type AutomationService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() AutomationStatus
	SetCheckInterval(d time.Duration)
	ProcessOne(ctx context.Context, msg *domain.InboundMessage) (*ProcessResult, error)
}

// AutomationStatus is the loop snapshot exposed over HTTP.
type AutomationStatus struct {
	IsRunning      bool       `json:"is_running"`
	State          string     `json:"state"`
	ProcessedCount int        `json:"processed_count"`
	CheckInterval  float64    `json:"check_interval"` // seconds
	LastCheck      *time.Time `json:"last_check"`
}

// ProcessResult describes what the pipeline did with one message.
type ProcessResult struct {
	MessageID      string                `json:"message_id"`
	Skipped        bool                  `json:"skipped"`
	Analysis       *domain.Analysis      `json:"analysis,omitempty"`
	Ticket         *domain.TicketRef     `json:"ticket,omitempty"`
	ReplySent      bool                  `json:"reply_sent"`
	Resolution     domain.ResolutionType `json:"resolution_type,omitempty"`
	MarkedRead     bool                  `json:"marked_read"`
	Processed      bool                  `json:"processed"`
	KnowledgeMatch string                `json:"knowledge_match,omitempty"`
}
