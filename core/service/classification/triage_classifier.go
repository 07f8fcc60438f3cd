// Package classification assigns category, priority, sentiment and intent to support mail.
package classification

import (
	"context"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
)

// Classifier is the strategy used by the pipeline. Implementations never fail:
// any internal error yields SafeDefault.
type Classifier interface {
	Name() string
	Analyze(ctx context.Context, body, subject, sender string) domain.Analysis
}

const fallbackReasoning = "Fallback analysis - AI unavailable"

// SafeDefault is the fail-safe verdict: route to a human and open a ticket.
func SafeDefault() domain.Analysis {
	return domain.Analysis{
		Category:      domain.CategoryGeneral,
		Priority:      domain.PriorityMedium,
		Sentiment:     domain.SentimentNeutral,
		Intent:        domain.IntentSupportRequest,
		Confidence:    0.5,
		Keywords:      []string{},
		RequiresHuman: true,
		TicketNeeded:  true,
		Reasoning:     fallbackReasoning,
	}
}

// recoverAnalysis replaces the result of a panicking Analyze with SafeDefault.
// It must be deferred directly by Analyze.
func recoverAnalysis(a *domain.Analysis, log zerolog.Logger) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("classifier panicked, using fallback analysis")
		*a = SafeDefault().Enforce()
	}
}
