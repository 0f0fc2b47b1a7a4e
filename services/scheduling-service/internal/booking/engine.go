package booking

import (
	"context"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/availability"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// Store is the committed-appointment collaborator. Implementations must
// re-validate slot exclusivity at commit time: Create and Move fail with
// ErrSlotConflict when another active appointment holds the target slot, even
// if an earlier read said it was free.
type Store interface {
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	// Cancel releases the slot by status transition. The row is kept.
	Cancel(ctx context.Context, id string, at time.Time) (model.Appointment, error)
	// Move atomically relocates an active appointment to a new slot. On
	// conflict nothing changes and the original slot stays occupied.
	Move(ctx context.Context, id string, newDate time.Time, newStart model.TimeOfDay) (model.Appointment, error)
	IsFree(ctx context.Context, doctorID string, date time.Time, start model.TimeOfDay) (bool, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error)
}

// ScheduleSource supplies a doctor's working hours. Returns ErrUnknownDoctor
// when the doctor has no schedule.
type ScheduleSource interface {
	GetSchedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error)
}

// Engine owns the appointment state machine. It validates requests against
// the doctor's slot grid and delegates the exclusivity guarantee to the store.
type Engine struct {
	store     Store
	schedules ScheduleSource
	now       func() time.Time
}

func NewEngine(store Store, schedules ScheduleSource, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, schedules: schedules, now: now}
}

// Create books a slot for a patient. The slot must be on the doctor's grid
// and not on a past date. The returned appointment is in scheduled state.
func (e *Engine) Create(ctx context.Context, doctorID, patientID string, date time.Time, start model.TimeOfDay) (model.Appointment, error) {
	sched, err := e.schedules.GetSchedule(ctx, doctorID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := e.validateSlot(sched, date, start); err != nil {
		return model.Appointment{}, err
	}

	now := e.now()
	appt := model.Appointment{
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      model.DateOf(date),
		Start:     start,
		Status:    model.StatusScheduled,
		CreatedAt: now,
	}
	return e.store.Create(ctx, appt)
}

// Cancel releases the appointment's slot. Cancelling an already-cancelled
// appointment is a no-op success so retried cancellations have one effect.
func (e *Engine) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	return e.store.Cancel(ctx, id, e.now())
}

// Reschedule moves the appointment to a new slot, keeping its identity. The
// old slot is released only if the new slot commits: on any failure the
// original appointment is untouched and still holds its slot.
func (e *Engine) Reschedule(ctx context.Context, id string, newDate time.Time, newStart model.TimeOfDay) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.IsActive() {
		return model.Appointment{}, ErrNotFound
	}

	sched, err := e.schedules.GetSchedule(ctx, appt.DoctorID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := e.validateSlot(sched, newDate, newStart); err != nil {
		return model.Appointment{}, err
	}
	return e.store.Move(ctx, id, model.DateOf(newDate), newStart)
}

// Slots returns the doctor's free slot starts for a day. A display hint only:
// Create re-validates at commit.
func (e *Engine) Slots(ctx context.Context, doctorID string, date time.Time) ([]model.TimeOfDay, error) {
	sched, err := e.schedules.GetSchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	grid, err := availability.SlotGrid(sched)
	if err != nil {
		return nil, err
	}

	appts, err := e.store.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day := model.DateOf(date)
	var taken []model.TimeOfDay
	for _, a := range appts {
		if a.Status.IsActive() && a.Date.Equal(day) {
			taken = append(taken, a.Start)
		}
	}
	return availability.Free(grid, taken), nil
}

// ListByDoctor and ListByPatient expose the committed view the aggregators
// read, so calendars and dashboards always agree with booking truth.
func (e *Engine) ListByDoctor(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	return e.store.ListByDoctor(ctx, doctorID)
}

func (e *Engine) ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	return e.store.ListByPatient(ctx, patientID)
}

// Now exposes the engine clock so read-side projections share it.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) validateSlot(sched model.DoctorSchedule, date time.Time, start model.TimeOfDay) error {
	if sched.Closing <= sched.Opening {
		return availability.ErrUnsupportedSchedule
	}
	if model.DateOf(date).Before(model.DateOf(e.now())) {
		return ErrInvalidSlot
	}
	if !availability.OnGrid(sched, start) {
		return ErrInvalidSlot
	}
	return nil
}
