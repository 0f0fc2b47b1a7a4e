// Package dashboard derives counters and the activity feed from the same
// committed-appointment view the booking engine writes. Read-only: nothing
// here may influence availability.
package dashboard

import (
	"sort"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// FeedSize caps the recent-activity feed.
const FeedSize = 3

// Stats is the value object handed to patient and doctor dashboards.
type Stats struct {
	Today     int
	ThisMonth int
	Upcoming  int
	Recent    []model.Appointment
}

// Compute aggregates one subject's appointments as of now. Cancelled
// appointments never count toward Today/ThisMonth/Upcoming but stay in the
// history the feed falls back to when nothing lies ahead.
func Compute(appts []model.Appointment, now time.Time) Stats {
	today := model.DateOf(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	var stats Stats
	var future, past []model.Appointment
	for _, a := range appts {
		startsAt := a.StartsAt()
		if a.Status.IsActive() {
			if a.Date.Equal(today) {
				stats.Today++
			}
			if !startsAt.Before(monthStart) && startsAt.Before(monthEnd) {
				stats.ThisMonth++
			}
			if startsAt.After(now) {
				stats.Upcoming++
				future = append(future, a)
				continue
			}
		}
		// A cancelled appointment whose slot never arrived is neither
		// upcoming nor history; it appears nowhere on the dashboard.
		if !startsAt.After(now) {
			past = append(past, a)
		}
	}

	stats.Recent = feed(future, past)
	return stats
}

// feed prefers the nearest upcoming appointments; only when none exist does
// it surface the most recent history (cancelled included).
func feed(future, past []model.Appointment) []model.Appointment {
	if len(future) > 0 {
		sort.Slice(future, func(i, j int) bool {
			return future[i].StartsAt().Before(future[j].StartsAt())
		})
		if len(future) > FeedSize {
			future = future[:FeedSize]
		}
		return future
	}

	sort.Slice(past, func(i, j int) bool {
		return past[i].StartsAt().After(past[j].StartsAt())
	})
	if len(past) > FeedSize {
		past = past[:FeedSize]
	}
	return past
}
