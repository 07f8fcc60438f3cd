package domain

import "time"

// TicketRef is all the pipeline keeps about a created ticket.
type TicketRef struct {
	TicketID       string     `json:"ticket_id"`
	Priority       Priority   `json:"priority"`
	Category       Category   `json:"category"`
	CreatedAt      time.Time  `json:"created_at"`
	FollowupTaskID string     `json:"followup_task_id,omitempty"`
	FollowupAt     *time.Time `json:"followup_at,omitempty"`
}

// ShortID is the reference quoted to customers: the first 8 characters.
func (t *TicketRef) ShortID() string {
	return ShortTicketID(t.TicketID)
}

func ShortTicketID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// CallbackUrgency selects how soon a follow-up should happen.
type CallbackUrgency string

const (
	UrgencyImmediate       CallbackUrgency = "immediate"
	UrgencyWithinTwoHours  CallbackUrgency = "within_2_hours"
	UrgencyWithinDay       CallbackUrgency = "24_hours"
	UrgencyNextBusinessDay CallbackUrgency = "next_business_day"
)

// UrgencyFor maps a priority onto the follow-up urgency.
func UrgencyFor(p Priority) CallbackUrgency {
	switch p {
	case PriorityHigh:
		return UrgencyWithinTwoHours
	case PriorityLow:
		return UrgencyNextBusinessDay
	default:
		return UrgencyWithinDay
	}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}
