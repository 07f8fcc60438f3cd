package ticket

import (
	"time"

	"triage_server/core/domain"
)

// CallbackTime returns when a follow-up of the given urgency is due.
// It reads no clock; now carries the location used for business days.
func CallbackTime(now time.Time, urgency domain.CallbackUrgency) time.Time {
	switch urgency {
	case domain.UrgencyImmediate:
		return now.Add(30 * time.Minute)
	case domain.UrgencyWithinTwoHours:
		return now.Add(2 * time.Hour)
	case domain.UrgencyWithinDay:
		return now.Add(24 * time.Hour)
	case domain.UrgencyNextBusinessDay:
		return nextBusinessDay(now)
	}
	return now.Add(24 * time.Hour)
}

// nextBusinessDay is 09:00 on the first Monday-to-Friday after now's date.
func nextBusinessDay(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day()+1, businessStartHour, 0, 0, 0, now.Location())
	for isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

const (
	businessStartHour = 9
	businessEndHour   = 17
	extendedStartHour = 8
	extendedEndHour   = 20

	defaultSearchDays = 7
	defaultMaxSlots   = 10
)

// SlotRequest bounds a search for free callback slots.
type SlotRequest struct {
	From     time.Time
	Duration time.Duration // default 1h
	Days     int           // default 7
	MaxSlots int           // default 10
	// Extended widens the window to 08:00-20:00 and allows weekends.
	Extended bool
}

// FindSlots lists hourly slots starting at or after req.From that fit inside
// the daily window and do not overlap any busy interval.
func FindSlots(req SlotRequest, busy []domain.Interval) []domain.Interval {
	if req.Duration <= 0 {
		req.Duration = time.Hour
	}
	if req.Days <= 0 {
		req.Days = defaultSearchDays
	}
	if req.MaxSlots <= 0 {
		req.MaxSlots = defaultMaxSlots
	}
	startHour, endHour := businessStartHour, businessEndHour
	if req.Extended {
		startHour, endHour = extendedStartHour, extendedEndHour
	}

	loc := req.From.Location()
	var slots []domain.Interval
	for day := 0; day < req.Days; day++ {
		date := time.Date(req.From.Year(), req.From.Month(), req.From.Day()+day, 0, 0, 0, 0, loc)
		if !req.Extended && isWeekend(date) {
			continue
		}
		dayEnd := time.Date(date.Year(), date.Month(), date.Day(), endHour, 0, 0, 0, loc)

		for hour := startHour; hour < endHour; hour++ {
			start := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, loc)
			slot := domain.Interval{Start: start, End: start.Add(req.Duration)}
			if start.Before(req.From) || slot.End.After(dayEnd) || overlapsAny(slot, busy) {
				continue
			}
			slots = append(slots, slot)
			if len(slots) == req.MaxSlots {
				return slots
			}
		}
	}
	return slots
}

func overlapsAny(slot domain.Interval, busy []domain.Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}
