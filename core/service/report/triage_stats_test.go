package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
)

func processed(cat domain.Category, prio domain.Priority, res domain.ResolutionType, ticket bool, conf float64) domain.InteractionRecord {
	return domain.InteractionRecord{
		InteractionType: domain.InteractionEmailProcessed,
		Analysis:        domain.AnalysisSummary{Category: cat, Priority: prio, Confidence: conf},
		ResolutionType:  res,
		TicketCreated:   ticket,
	}
}

func sample() []domain.InteractionRecord {
	return []domain.InteractionRecord{
		processed(domain.CategoryTechnical, domain.PriorityHigh, domain.ResolutionHumanReview, true, 0.9),
		processed(domain.CategoryAccount, domain.PriorityMedium, domain.ResolutionKnowledgeBase, false, 0.8),
		processed(domain.CategoryGeneral, domain.PriorityMedium, domain.ResolutionTemplate, false, 0.6),
		processed(domain.CategoryTechnical, domain.PriorityMedium, domain.ResolutionTemplate, true, 0.8),
		{InteractionType: domain.InteractionEmailSent},
		{InteractionType: domain.InteractionEmailSent},
		{InteractionType: domain.InteractionMessageCompleted},
	}
}

func TestCompute(t *testing.T) {
	s := Compute(sample())

	assert.Equal(t, 4, s.TotalProcessed)
	assert.Equal(t, 2, s.TotalSent)
	assert.Equal(t, 2, s.ByType["email_sent"])
	assert.NotContains(t, s.ByType, "message_completed")
	assert.Equal(t, 2, s.ByCategory[domain.CategoryTechnical])
	assert.Equal(t, 3, s.ByPriority[domain.PriorityMedium])
	assert.Equal(t, 2, s.ByResolution["template_reply"])
	assert.Equal(t, 2, s.TicketsCreated)
	assert.Equal(t, 0.5, s.TicketCreationRate)
	assert.Equal(t, 0.25, s.AutoResolutionRate)
	assert.Equal(t, 0.25, s.HumanReviewRate)
	assert.Equal(t, 0.775, s.AvgConfidence)
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	assert.Zero(t, s.TotalProcessed)
	assert.Zero(t, s.TicketCreationRate)
	assert.NotNil(t, s.ByCategory)
}

type fakeLog struct {
	records []domain.InteractionRecord
	query   domain.InteractionQuery
	err     error
}

func (f *fakeLog) Append(context.Context, *domain.InteractionRecord) error { return nil }
func (f *fakeLog) Query(_ context.Context, q domain.InteractionQuery) ([]domain.InteractionRecord, error) {
	f.query = q
	return f.records, f.err
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func TestService_Stats(t *testing.T) {
	now := time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)
	log := &fakeLog{records: sample()}
	svc := NewService(log, nil)
	svc.now = func() time.Time { return now }

	s, err := svc.Stats(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-DefaultPeriod), log.query.Since)
	assert.Equal(t, now, log.query.Until)
	assert.Equal(t, 4, s.TotalProcessed)
	assert.Equal(t, now, s.Until)
}

func TestService_StatsError(t *testing.T) {
	svc := NewService(&fakeLog{err: errors.New("pq: connection refused")}, nil)

	_, err := svc.Stats(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestService_StatsWithSummary(t *testing.T) {
	svc := NewService(&fakeLog{records: sample()}, &fakeLLM{reply: "  Volume was light.  "})
	s, err := svc.StatsWithSummary(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Volume was light.", s.Summary)

	svc = NewService(&fakeLog{records: sample()}, &fakeLLM{err: errors.New("openai: 500")})
	s, err = svc.StatsWithSummary(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, s.Summary)
	assert.Equal(t, 4, s.TotalProcessed)
}
