package schedule

import (
	"context"
	"sync"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// StaticSource holds schedules in memory. Used by tests and local dev.
type StaticSource struct {
	mu        sync.RWMutex
	schedules map[string]model.DoctorSchedule
}

func NewStaticSource(schedules ...model.DoctorSchedule) *StaticSource {
	s := &StaticSource{schedules: map[string]model.DoctorSchedule{}}
	for _, sched := range schedules {
		s.schedules[sched.DoctorID] = sched
	}
	return s
}

func (s *StaticSource) GetSchedule(_ context.Context, doctorID string) (model.DoctorSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[doctorID]
	if !ok {
		return model.DoctorSchedule{}, booking.ErrUnknownDoctor
	}
	return sched, nil
}

func (s *StaticSource) Put(sched model.DoctorSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.DoctorID] = sched
}

var _ booking.ScheduleSource = (*StaticSource)(nil)
