package domain

import "time"

// InteractionType labels an interaction record.
type InteractionType string

const (
	InteractionEmailProcessed InteractionType = "email_processed"
	InteractionEmailSent      InteractionType = "email_sent"
	// InteractionMessageCompleted marks a message that finished every step.
	InteractionMessageCompleted InteractionType = "message_completed"
)

// ResolutionType records how a processed message was answered.
type ResolutionType string

const (
	ResolutionKnowledgeBase ResolutionType = "knowledge_base_match"
	ResolutionTemplate      ResolutionType = "template_reply"
	ResolutionHumanReview   ResolutionType = "human_review"
)

// InteractionRecord is a write-once audit entry.
type InteractionRecord struct {
	ID              string          `json:"id" db:"id" bson:"_id"`
	InteractionType InteractionType `json:"interaction_type" db:"interaction_type" bson:"interaction_type"`
	MessageID       string          `json:"message_id" db:"message_id" bson:"message_id"`
	ThreadID        string          `json:"thread_id" db:"thread_id" bson:"thread_id"`
	CustomerEmail   string          `json:"customer_email" db:"customer_email" bson:"customer_email"`
	Subject         string          `json:"subject" db:"subject" bson:"subject"`
	Analysis        AnalysisSummary `json:"analysis" db:"-" bson:"analysis"`
	TicketID        *string         `json:"ticket_id,omitempty" db:"ticket_id" bson:"ticket_id,omitempty"`
	TicketCreated   bool            `json:"ticket_created" db:"ticket_created" bson:"ticket_created"`
	ReplySent       bool            `json:"reply_sent" db:"reply_sent" bson:"reply_sent"`
	ReplyMessageID  string          `json:"reply_message_id,omitempty" db:"reply_message_id" bson:"reply_message_id,omitempty"`
	ResolutionType  ResolutionType  `json:"resolution_type,omitempty" db:"resolution_type" bson:"resolution_type,omitempty"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at" bson:"created_at"`
}

// InteractionQuery filters interaction history. Zero fields are ignored.
type InteractionQuery struct {
	MessageID       string
	CustomerEmail   string
	InteractionType InteractionType
	Since           time.Time
	Until           time.Time
	Limit           int
}
