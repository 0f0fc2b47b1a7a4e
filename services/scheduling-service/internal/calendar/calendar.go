// Package calendar projects committed appointments onto display structures.
// Pure functions over the appointment set; no I/O and no booking state.
package calendar

import (
	"sort"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// Cell is one day of the month grid.
type Cell struct {
	Date         time.Time
	Today        bool
	InMonth      bool
	Appointments []model.Appointment
}

// MonthCells is the fixed grid size: 6 full weeks keeps the layout stable
// across months regardless of where the 1st falls.
const MonthCells = 42

// BuildMonth returns exactly 42 cells starting from the Monday on or before
// the 1st of the month. Appointments land in cells by calendar-date equality;
// time of day only orders them within a cell.
func BuildMonth(year int, month time.Month, appts []model.Appointment, today time.Time) []Cell {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	// Weekday() has Sunday = 0; shift so Monday starts the row.
	offset := (int(first.Weekday()) + 6) % 7
	gridStart := first.AddDate(0, 0, -offset)
	todayDate := model.DateOf(today)

	byDay := make(map[string][]model.Appointment, len(appts))
	for _, a := range appts {
		k := a.Date.Format("2006-01-02")
		byDay[k] = append(byDay[k], a)
	}

	cells := make([]Cell, 0, MonthCells)
	for i := 0; i < MonthCells; i++ {
		day := gridStart.AddDate(0, 0, i)
		dayAppts := append([]model.Appointment(nil), byDay[day.Format("2006-01-02")]...)
		sort.Slice(dayAppts, func(i, j int) bool {
			return dayAppts[i].Start < dayAppts[j].Start
		})
		cells = append(cells, Cell{
			Date:         day,
			Today:        day.Equal(todayDate),
			InMonth:      day.Month() == month,
			Appointments: dayAppts,
		})
	}
	return cells
}

// DayList returns the appointments on one calendar date, ordered by start.
func DayList(appts []model.Appointment, date time.Time) []model.Appointment {
	day := model.DateOf(date)
	var out []model.Appointment
	for _, a := range appts {
		if a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// DisplayOrder sorts appointments for list views: today's entries first
// (by start), then future days ascending, then past days most-recent-first.
// Keeps stale history from burying the current day. Applied uniformly to the
// doctor daily view and the patient upcoming view.
func DisplayOrder(appts []model.Appointment, now time.Time) []model.Appointment {
	today := model.DateOf(now)

	rank := func(a model.Appointment) int {
		switch {
		case a.Date.Equal(today):
			return 0
		case a.Date.After(today):
			return 1
		default:
			return 2
		}
	}

	out := append([]model.Appointment(nil), appts...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		switch ri {
		case 2: // past: most recent day first, by start within the day
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].Start < out[j].Start
		default: // today and future: chronological
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.Before(out[j].Date)
			}
			return out[i].Start < out[j].Start
		}
	})
	return out
}
