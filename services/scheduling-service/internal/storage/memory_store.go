package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

type slotKey struct {
	doctorID string
	date     string
	start    model.TimeOfDay
}

// MemStore is an in-memory booking.Store. A single mutex serializes commits,
// and the slot index is re-checked under that lock, so two concurrent creates
// for one slot yield exactly one success. Used by tests and local dev.
type MemStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
	slots map[slotKey]string // active appointment per slot
}

func NewMemStore() *MemStore {
	return &MemStore{
		appts: map[string]model.Appointment{},
		slots: map[slotKey]string{},
	}
}

func keyFor(a model.Appointment) slotKey {
	return slotKey{doctorID: a.DoctorID, date: a.Date.Format("2006-01-02"), start: a.Start}
}

func (s *MemStore) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyFor(appt)
	if _, occupied := s.slots[key]; occupied {
		return model.Appointment{}, booking.ErrSlotConflict
	}

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	s.appts[appt.ID] = appt
	s.slots[key] = appt.ID
	return appt, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, nil
}

func (s *MemStore) Cancel(ctx context.Context, id string, at time.Time) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}

	delete(s.slots, keyFor(appt))
	appt.Status = model.StatusCancelled
	cancelledAt := at
	appt.CancelledAt = &cancelledAt
	s.appts[id] = appt
	return appt, nil
}

func (s *MemStore) Move(ctx context.Context, id string, newDate time.Time, newStart model.TimeOfDay) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	if !appt.Status.IsActive() {
		return model.Appointment{}, booking.ErrNotFound
	}

	moved := appt
	moved.Date = newDate
	moved.Start = newStart
	newKey := keyFor(moved)
	if holder, occupied := s.slots[newKey]; occupied && holder != id {
		// New slot taken: leave the original appointment untouched.
		return model.Appointment{}, booking.ErrSlotConflict
	}

	delete(s.slots, keyFor(appt))
	moved.Status = model.StatusRescheduled
	s.appts[id] = moved
	s.slots[newKey] = id
	return moved, nil
}

func (s *MemStore) IsFree(ctx context.Context, doctorID string, date time.Time, start model.TimeOfDay) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{doctorID: doctorID, date: date.Format("2006-01-02"), start: start}
	_, occupied := s.slots[key]
	return !occupied, nil
}

func (s *MemStore) ListByDoctor(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, a := range s.appts {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemStore) ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, a := range s.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ booking.Store = (*MemStore)(nil)
