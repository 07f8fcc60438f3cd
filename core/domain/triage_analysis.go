package domain

import "fmt"

// Category is the support category assigned to a message.
type Category string

const (
	CategoryTechnical      Category = "technical"
	CategoryBilling        Category = "billing"
	CategoryAccount        Category = "account"
	CategoryGeneral        Category = "general"
	CategoryComplaint      Category = "complaint"
	CategoryFeatureRequest Category = "feature_request"
)

// Categories in declaration order. Ties in rule scoring resolve to the earliest.
var Categories = []Category{
	CategoryTechnical,
	CategoryBilling,
	CategoryAccount,
	CategoryGeneral,
	CategoryComplaint,
	CategoryFeatureRequest,
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Intent string

const (
	IntentQuestion       Intent = "question"
	IntentSupportRequest Intent = "support_request"
	IntentRefundRequest  Intent = "refund_request"
	IntentComplaint      Intent = "complaint"
	IntentInformation    Intent = "information"
)

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}

func (i Intent) Valid() bool {
	switch i {
	case IntentQuestion, IntentSupportRequest, IntentRefundRequest, IntentComplaint, IntentInformation:
		return true
	}
	return false
}

// Analysis is the classifier verdict for one message.
// It is produced once per message and replaced wholesale, never patched.
type Analysis struct {
	Category      Category  `json:"category"`
	Priority      Priority  `json:"priority"`
	Sentiment     Sentiment `json:"sentiment"`
	Intent        Intent    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Keywords      []string  `json:"keywords"`
	RequiresHuman bool      `json:"requires_human"`
	TicketNeeded  bool      `json:"ticket_needed"`
	Reasoning     string    `json:"reasoning,omitempty"`
}

// Validate reports the first enum field holding a value outside its set.
func (a Analysis) Validate() error {
	if !a.Category.Valid() {
		return fmt.Errorf("invalid category %q", a.Category)
	}
	if !a.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", a.Priority)
	}
	if !a.Sentiment.Valid() {
		return fmt.Errorf("invalid sentiment %q", a.Sentiment)
	}
	if !a.Intent.Valid() {
		return fmt.Errorf("invalid intent %q", a.Intent)
	}
	return nil
}

// Enforce returns a copy with confidence clamped to [0,1] and the
// ticket/human flags raised wherever priority, category or sentiment demand them.
func (a Analysis) Enforce() Analysis {
	out := a
	switch {
	case out.Confidence < 0 || out.Confidence != out.Confidence:
		out.Confidence = 0
	case out.Confidence > 1:
		out.Confidence = 1
	}

	if out.Priority == PriorityHigh || out.Category == CategoryTechnical || out.Category == CategoryComplaint {
		out.TicketNeeded = true
	}
	if out.Priority == PriorityHigh || out.Sentiment == SentimentNegative ||
		out.Category == CategoryComplaint || out.Category == CategoryBilling {
		out.RequiresHuman = true
	}
	if out.Keywords != nil {
		out.Keywords = append([]string(nil), out.Keywords...)
	}
	return out
}

// RequiresTicket is the ticket policy: high priority, technical or complaint
// messages, and support requests outside the general category.
func (a Analysis) RequiresTicket() bool {
	switch {
	case a.Priority == PriorityHigh:
		return true
	case a.Category == CategoryTechnical || a.Category == CategoryComplaint:
		return true
	case a.Intent == IntentSupportRequest && a.Category != CategoryGeneral:
		return true
	}
	return false
}

// Summary is the subset of the analysis persisted with interaction records.
func (a Analysis) Summary() AnalysisSummary {
	return AnalysisSummary{
		Category:      a.Category,
		Priority:      a.Priority,
		Sentiment:     a.Sentiment,
		Intent:        a.Intent,
		Confidence:    a.Confidence,
		Keywords:      a.Keywords,
		RequiresHuman: a.RequiresHuman,
	}
}

// AnalysisSummary is embedded in interaction records and ticket metadata.
type AnalysisSummary struct {
	Category      Category  `json:"category" bson:"category"`
	Priority      Priority  `json:"priority" bson:"priority"`
	Sentiment     Sentiment `json:"sentiment" bson:"sentiment"`
	Intent        Intent    `json:"intent" bson:"intent"`
	Confidence    float64   `json:"confidence" bson:"confidence"`
	Keywords      []string  `json:"keywords" bson:"keywords"`
	RequiresHuman bool      `json:"requires_human" bson:"requires_human"`
}
