package schedule

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

// Repository reads the locally cached doctor schedules. The directory
// service owns the data; this cache is refreshed by its Kafka events so
// booking never blocks on a cross-service call.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetSchedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error) {
	var s model.DoctorSchedule
	var opening, closing, slot int
	err := r.pool.QueryRow(ctx, `
		SELECT doctor_id, opening_minutes, closing_minutes, slot_minutes
		FROM doctor_schedules
		WHERE doctor_id = $1
	`, doctorID).Scan(&s.DoctorID, &opening, &closing, &slot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DoctorSchedule{}, booking.ErrUnknownDoctor
		}
		return model.DoctorSchedule{}, err
	}
	s.Opening = model.TimeOfDay(opening)
	s.Closing = model.TimeOfDay(closing)
	s.SlotMinutes = slot
	return s, nil
}

// Upsert applies a schedule-updated event from the directory service.
func (r *Repository) Upsert(ctx context.Context, s model.DoctorSchedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_schedules (doctor_id, opening_minutes, closing_minutes, slot_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id) DO UPDATE
		SET opening_minutes = EXCLUDED.opening_minutes,
			closing_minutes = EXCLUDED.closing_minutes,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
	`, s.DoctorID, s.Opening.Minutes(), s.Closing.Minutes(), s.SlotMinutes)
	return err
}

var _ booking.ScheduleSource = (*Repository)(nil)
