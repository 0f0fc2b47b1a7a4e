package model

import "time"

// Status is the closed set of persisted appointment states. Completed is
// never written; it is inferred from the clock at read time.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"

	// StatusCompleted only appears from EffectiveStatus, never in storage.
	StatusCompleted Status = "completed"
)

// IsActive reports whether the appointment counts toward slot exclusivity.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

type Appointment struct {
	ID          string
	DoctorID    string
	PatientID   string
	Date        time.Time // calendar date, midnight
	Start       TimeOfDay
	Status      Status
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// StartsAt is the appointment's slot anchored on its date.
func (a Appointment) StartsAt() time.Time {
	return a.Start.At(a.Date)
}

// EffectiveStatus maps an active appointment whose slot has passed to
// completed; stored states pass through unchanged.
func (a Appointment) EffectiveStatus(now time.Time) Status {
	if a.Status.IsActive() && a.StartsAt().Before(now) {
		return StatusCompleted
	}
	return a.Status
}

type DoctorSchedule struct {
	DoctorID    string
	Opening     TimeOfDay
	Closing     TimeOfDay
	SlotMinutes int
}
