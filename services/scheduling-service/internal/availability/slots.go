package availability

import (
	"errors"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// ErrUnsupportedSchedule rejects working hours with closing at or before
// opening. Overnight shifts are not supported; the grid never wraps midnight.
var ErrUnsupportedSchedule = errors.New("closing time must be after opening time")

const DefaultSlotMinutes = 30

// SlotGrid returns the bookable slot starts for one working day: opening,
// opening+step, ... up to and including closing. The grid depends only on the
// schedule, never on booking state.
func SlotGrid(sched model.DoctorSchedule) ([]model.TimeOfDay, error) {
	step := sched.SlotMinutes
	if step <= 0 {
		step = DefaultSlotMinutes
	}
	if sched.Closing <= sched.Opening {
		return nil, ErrUnsupportedSchedule
	}

	var grid []model.TimeOfDay
	for t := sched.Opening; t <= sched.Closing; t += model.TimeOfDay(step) {
		grid = append(grid, t)
	}
	return grid, nil
}

// OnGrid reports whether t is a valid slot start under the schedule.
func OnGrid(sched model.DoctorSchedule, t model.TimeOfDay) bool {
	step := sched.SlotMinutes
	if step <= 0 {
		step = DefaultSlotMinutes
	}
	if sched.Closing <= sched.Opening {
		return false
	}
	if t < sched.Opening || t > sched.Closing {
		return false
	}
	return (t-sched.Opening)%model.TimeOfDay(step) == 0
}

// Free filters a slot grid down to the starts not occupied by any of the
// given active appointments. Display-only: commit re-validates in storage.
func Free(grid []model.TimeOfDay, taken []model.TimeOfDay) []model.TimeOfDay {
	if len(taken) == 0 {
		return grid
	}
	occupied := make(map[model.TimeOfDay]struct{}, len(taken))
	for _, t := range taken {
		occupied[t] = struct{}{}
	}
	free := make([]model.TimeOfDay, 0, len(grid))
	for _, t := range grid {
		if _, ok := occupied[t]; !ok {
			free = append(free, t)
		}
	}
	return free
}
