package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const calendarProviderID = "google_calendar"

type CalendarConfig struct {
	Credentials GoogleCredentials
	CalendarIDs []string
	Endpoint    string
	HTTPClient  *http.Client
}

// CalendarAdapter answers free/busy questions for the support team calendars.
type CalendarAdapter struct {
	cfg CalendarConfig
	svc *calendar.Service
	log zerolog.Logger
}

// NewCalendarAdapter creates the calendar service. No call is made until Busy.
func NewCalendarAdapter(ctx context.Context, cfg CalendarConfig, log zerolog.Logger) (*CalendarAdapter, error) {
	if len(cfg.CalendarIDs) == 0 {
		cfg.CalendarIDs = []string{"primary"}
	}
	opts := clientOptions(cfg.Credentials, cfg.Endpoint, cfg.HTTPClient, calendar.CalendarReadonlyScope)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarAdapter{
		cfg: cfg,
		svc: svc,
		log: log.With().Str("component", "calendar").Logger(),
	}, nil
}

// Busy returns the merged busy intervals of every configured calendar.
func (a *CalendarAdapter) Busy(ctx context.Context, from, to time.Time) ([]domain.Interval, error) {
	items := make([]*calendar.FreeBusyRequestItem, len(a.cfg.CalendarIDs))
	for i, id := range a.cfg.CalendarIDs {
		items[i] = &calendar.FreeBusyRequestItem{Id: id}
	}

	resp, err := a.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapGoogleError(calendarProviderID, err, "failed to query free/busy")
	}

	var busy []domain.Interval
	for calID, cal := range resp.Calendars {
		for _, e := range cal.Errors {
			a.log.Warn().Str("calendar", calID).Str("reason", e.Reason).Msg("calendar not readable")
		}
		for _, p := range cal.Busy {
			start, err1 := time.Parse(time.RFC3339, p.Start)
			end, err2 := time.Parse(time.RFC3339, p.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy = append(busy, domain.Interval{Start: start, End: end})
		}
	}
	return mergeIntervals(busy), nil
}

// mergeIntervals sorts intervals and joins overlapping or touching ones.
func mergeIntervals(in []domain.Interval) []domain.Interval {
	if len(in) == 0 {
		return []domain.Interval{}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	merged := []domain.Interval{in[0]}
	for _, iv := range in[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

var _ out.AvailabilityProvider = (*CalendarAdapter)(nil)
