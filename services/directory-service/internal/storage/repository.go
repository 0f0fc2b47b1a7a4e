package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/directory-service/internal/outbox"
)

// EventScheduleUpdated is published whenever a doctor's working hours change,
// so the scheduling side can refresh its local schedule cache.
const EventScheduleUpdated = "directory.doctor.schedule.updated.v1"

var (
	ErrNotFound        = errors.New("doctor not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrDuplicate       = errors.New("doctor already exists")
)

type Doctor struct {
	ID        string
	FullName  string
	Specialty string
	CreatedAt time.Time
}

// Schedule holds a doctor's daily working window as minutes since midnight.
type Schedule struct {
	DoctorID       string
	OpeningMinutes int
	ClosingMinutes int
	SlotMinutes    int
	UpdatedAt      time.Time
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

func (r *Repository) CreateDoctor(ctx context.Context, fullName, specialty string) (Doctor, error) {
	d := Doctor{
		ID:        uuid.NewString(),
		FullName:  fullName,
		Specialty: specialty,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, full_name, specialty)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, d.ID, d.FullName, d.Specialty).Scan(&d.CreatedAt)
	if err != nil {
		return Doctor{}, mapError(err)
	}
	return d, nil
}

func (r *Repository) GetDoctor(ctx context.Context, doctorID string) (Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, full_name, specialty, created_at
		FROM doctors
		WHERE id = $1
	`, doctorID).Scan(&d.ID, &d.FullName, &d.Specialty, &d.CreatedAt)
	if err != nil {
		return Doctor{}, mapError(err)
	}
	return d, nil
}

func (r *Repository) ListDoctors(ctx context.Context, limit int) ([]Doctor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, full_name, specialty, created_at
		FROM doctors
		ORDER BY full_name, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FullName, &d.Specialty, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertSchedule stores the doctor's working window and records the
// schedule-updated event in the same transaction.
func (r *Repository) UpsertSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	if s.OpeningMinutes < 0 || s.ClosingMinutes <= s.OpeningMinutes || s.SlotMinutes <= 0 {
		return Schedule{}, ErrInvalidSchedule
	}
	if _, err := r.GetDoctor(ctx, s.DoctorID); err != nil {
		return Schedule{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Schedule{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO doctor_schedules (doctor_id, opening_minutes, closing_minutes, slot_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id) DO UPDATE
		SET opening_minutes = EXCLUDED.opening_minutes,
			closing_minutes = EXCLUDED.closing_minutes,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
		RETURNING updated_at
	`, s.DoctorID, s.OpeningMinutes, s.ClosingMinutes, s.SlotMinutes).Scan(&s.UpdatedAt)
	if err != nil {
		return Schedule{}, mapError(err)
	}

	payload, err := json.Marshal(map[string]any{
		"doctor_id":    s.DoctorID,
		"opening":      clock(s.OpeningMinutes),
		"closing":      clock(s.ClosingMinutes),
		"slot_minutes": s.SlotMinutes,
	})
	if err != nil {
		return Schedule{}, err
	}
	if err := r.outbox.Insert(ctx, tx, s.DoctorID, EventScheduleUpdated, payload); err != nil {
		return Schedule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (r *Repository) GetSchedule(ctx context.Context, doctorID string) (Schedule, error) {
	var s Schedule
	err := r.pool.QueryRow(ctx, `
		SELECT doctor_id::text, opening_minutes, closing_minutes, slot_minutes, updated_at
		FROM doctor_schedules
		WHERE doctor_id = $1
	`, doctorID).Scan(&s.DoctorID, &s.OpeningMinutes, &s.ClosingMinutes, &s.SlotMinutes, &s.UpdatedAt)
	if err != nil {
		return Schedule{}, mapError(err)
	}
	return s, nil
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503", "23514":
			return ErrInvalidSchedule
		}
	}
	return err
}
