// Package ticket decides whether a message needs a tracked ticket and opens it.
package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

const (
	source            = "automation"
	maxDescriptionLen = 1000
)

type Service struct {
	provider      out.TicketingProvider
	availability  out.AvailabilityProvider
	loc           *time.Location
	now           func() time.Time
	log           zerolog.Logger
	extendedHours bool
}

type Option func(*Service)

// WithAvailability snaps follow-ups to the first free slot of the support calendar.
func WithAvailability(p out.AvailabilityProvider) Option {
	return func(s *Service) { s.availability = p }
}

// WithLocation sets the timezone business hours are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithExtendedHours schedules every follow-up in the extended window,
// not only high priority ones.
func WithExtendedHours() Option {
	return func(s *Service) { s.extendedHours = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(provider out.TicketingProvider, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		loc:      time.UTC,
		now:      time.Now,
		log:      log.With().Str("component", "ticket_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Needed applies the ticket policy. A classifier that already asked for a
// ticket, such as the fail-safe analysis, is honoured as well.
func Needed(a domain.Analysis) bool {
	return a.TicketNeeded || a.RequiresTicket()
}

// BuildRequest maps a message and its analysis onto ticket fields.
func BuildRequest(msg *domain.InboundMessage, a domain.Analysis) *out.TicketRequest {
	return &out.TicketRequest{
		Title:         msg.Subject,
		Description:   firstChars(msg.Body, maxDescriptionLen),
		Priority:      a.Priority,
		Category:      a.Category,
		CustomerEmail: msg.SenderAddress,
		Source:        source,
		Metadata: out.TicketMetadata{
			MessageID: msg.ID,
			ThreadID:  msg.ThreadID,
			Analysis:  a.Summary(),
		},
	}
}

// DecideAndCreate opens a ticket when the analysis calls for one.
// It returns nil when no ticket is needed or creation failed; failures are logged only.
func (s *Service) DecideAndCreate(ctx context.Context, msg *domain.InboundMessage, a domain.Analysis) *domain.TicketRef {
	if !Needed(a) {
		return nil
	}
	if s.provider == nil {
		s.log.Warn().Str("message_id", msg.ID).Msg("ticket needed but no ticketing provider configured")
		return nil
	}

	id, err := s.provider.CreateTicket(ctx, BuildRequest(msg, a))
	if err != nil {
		s.log.Error().
			Err(apperr.Collaborator("ticketing", "create ticket", err)).
			Str("message_id", msg.ID).
			Msg("ticket creation failed")
		return nil
	}

	ref := &domain.TicketRef{
		TicketID:  id,
		Priority:  a.Priority,
		Category:  a.Category,
		CreatedAt: s.now(),
	}
	s.log.Info().Str("ticket_id", id).Str("message_id", msg.ID).Str("priority", string(a.Priority)).Msg("ticket created")

	if a.RequiresHuman {
		s.scheduleFollowup(ctx, ref, msg, a)
	}
	return ref
}

// FollowupTime picks the due time for a follow-up, snapped to a free slot when
// busy intervals are known.
func FollowupTime(now time.Time, priority domain.Priority, busy []domain.Interval) time.Time {
	return followupTime(now, priority, busy, priority == domain.PriorityHigh)
}

func followupTime(now time.Time, priority domain.Priority, busy []domain.Interval, extended bool) time.Time {
	due := CallbackTime(now, domain.UrgencyFor(priority))
	if busy == nil {
		return due
	}
	slots := FindSlots(SlotRequest{
		From:     due,
		MaxSlots: 1,
		Extended: extended,
	}, busy)
	if len(slots) == 0 {
		return due
	}
	return slots[0].Start
}

func (s *Service) scheduleFollowup(ctx context.Context, ref *domain.TicketRef, msg *domain.InboundMessage, a domain.Analysis) {
	now := s.now().In(s.loc)

	var busy []domain.Interval
	if s.availability != nil {
		b, err := s.availability.Busy(ctx, now, now.AddDate(0, 0, defaultSearchDays+2))
		if err != nil {
			s.log.Warn().Err(apperr.Collaborator("calendar", "free/busy", err)).Msg("availability unknown, using plain callback time")
		} else {
			busy = append([]domain.Interval{}, b...)
		}
	}
	due := followupTime(now, a.Priority, busy, s.extendedHours || a.Priority == domain.PriorityHigh)

	taskID, err := s.provider.CreateFollowupTask(ctx, &out.FollowupRequest{
		TicketID:    ref.TicketID,
		Title:       fmt.Sprintf("Follow up: %s", msg.Subject),
		Description: fmt.Sprintf("Contact %s about ticket #%s (%s, %s priority).", msg.SenderAddress, ref.ShortID(), a.Category, a.Priority),
		DueAt:       due,
		Urgency:     domain.UrgencyFor(a.Priority),
	})
	if err != nil {
		s.log.Warn().Err(apperr.Collaborator("ticketing", "create followup task", err)).Str("ticket_id", ref.TicketID).Msg("follow-up not scheduled")
		return
	}
	ref.FollowupTaskID = taskID
	ref.FollowupAt = &due
}

func firstChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
