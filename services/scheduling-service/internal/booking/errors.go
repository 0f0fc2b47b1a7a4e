package booking

import "errors"

// Error kinds returned by the engine. All are caller-recoverable; handlers
// map them to HTTP statuses and the engine never logs or formats user text.
var (
	// ErrInvalidSlot: requested time is off the doctor's slot grid, outside
	// working hours, or on a past date.
	ErrInvalidSlot = errors.New("requested time is not a bookable slot")

	// ErrSlotConflict: the slot was occupied at commit time.
	ErrSlotConflict = errors.New("slot already booked")

	// ErrUnknownDoctor: no schedule exists for the doctor.
	ErrUnknownDoctor = errors.New("doctor has no schedule")

	// ErrNotFound: the appointment id does not exist.
	ErrNotFound = errors.New("appointment not found")
)
