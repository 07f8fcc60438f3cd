// Package report aggregates the interaction log into support analytics.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const (
	DefaultPeriod  = 7 * 24 * time.Hour
	maxRecords     = 10000
	summarySubject = 10
)

// Stats summarises processed messages over a period.
type Stats struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`

	TotalProcessed int                     `json:"total_processed"`
	TotalSent      int                     `json:"total_sent"`
	ByType         map[string]int          `json:"by_type"`
	ByCategory     map[domain.Category]int `json:"by_category"`
	ByPriority     map[domain.Priority]int `json:"by_priority"`
	ByResolution   map[string]int          `json:"by_resolution"`

	TicketsCreated     int     `json:"tickets_created"`
	TicketCreationRate float64 `json:"ticket_creation_rate"`
	AutoResolutionRate float64 `json:"auto_resolution_rate"`
	HumanReviewRate    float64 `json:"human_review_rate"`
	AvgConfidence      float64 `json:"avg_confidence"`

	Summary string `json:"summary,omitempty"`
}

// Compute derives Stats from records. Rates are over email_processed records.
func Compute(records []domain.InteractionRecord) *Stats {
	s := &Stats{
		ByType:       make(map[string]int),
		ByCategory:   make(map[domain.Category]int),
		ByPriority:   make(map[domain.Priority]int),
		ByResolution: make(map[string]int),
	}

	var confidence float64
	var kbMatches, humanReview int
	for _, r := range records {
		if r.InteractionType == domain.InteractionMessageCompleted {
			continue
		}
		s.ByType[string(r.InteractionType)]++
		if r.InteractionType == domain.InteractionEmailSent {
			s.TotalSent++
			continue
		}
		if r.InteractionType != domain.InteractionEmailProcessed {
			continue
		}

		s.TotalProcessed++
		s.ByCategory[r.Analysis.Category]++
		s.ByPriority[r.Analysis.Priority]++
		if r.ResolutionType != "" {
			s.ByResolution[string(r.ResolutionType)]++
		}
		confidence += r.Analysis.Confidence

		if r.TicketCreated {
			s.TicketsCreated++
		}
		switch r.ResolutionType {
		case domain.ResolutionKnowledgeBase:
			kbMatches++
		case domain.ResolutionHumanReview:
			humanReview++
		}
	}

	if s.TotalProcessed > 0 {
		n := float64(s.TotalProcessed)
		s.TicketCreationRate = round(float64(s.TicketsCreated) / n)
		s.AutoResolutionRate = round(float64(kbMatches) / n)
		s.HumanReviewRate = round(float64(humanReview) / n)
		s.AvgConfidence = round(confidence / n)
	}
	return s
}

func round(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// =============================================================================
// Service
// =============================================================================

type Service struct {
	interactions out.InteractionLog
	llm          out.InferenceService
	now          func() time.Time
}

// NewService builds the stats service. llm may be nil, in which case no
// narrative summary is produced.
func NewService(interactions out.InteractionLog, llm out.InferenceService) *Service {
	return &Service{interactions: interactions, llm: llm, now: time.Now}
}

// Stats computes analytics for the last period (DefaultPeriod when zero).
func (s *Service) Stats(ctx context.Context, period time.Duration) (*Stats, error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	until := s.now()
	since := until.Add(-period)

	records, err := s.interactions.Query(ctx, domain.InteractionQuery{
		Since: since,
		Until: until,
		Limit: maxRecords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}

	stats := Compute(records)
	stats.Since, stats.Until = since, until
	return stats, nil
}

// StatsWithSummary also asks the inference service for a short narrative.
// A failed summary leaves Summary empty.
func (s *Service) StatsWithSummary(ctx context.Context, period time.Duration) (*Stats, error) {
	stats, err := s.Stats(ctx, period)
	if err != nil || s.llm == nil || stats.TotalProcessed == 0 {
		return stats, err
	}

	summary, err := s.llm.Complete(ctx,
		"You are a support operations analyst. Summarize the figures in two or three sentences.",
		summaryPrompt(stats))
	if err == nil {
		stats.Summary = strings.TrimSpace(summary)
	}
	return stats, nil
}

func summaryPrompt(s *Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Period: %s to %s\n", s.Since.Format(time.RFC3339), s.Until.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Processed: %d, replies sent: %d, tickets: %d\n", s.TotalProcessed, s.TotalSent, s.TicketsCreated)
	fmt.Fprintf(&sb, "Auto-resolution rate: %.3f, human review rate: %.3f\n", s.AutoResolutionRate, s.HumanReviewRate)

	cats := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for i, c := range cats {
		if i >= summarySubject {
			break
		}
		fmt.Fprintf(&sb, "- %s: %d\n", c, s.ByCategory[domain.Category(c)])
	}
	return sb.String()
}
