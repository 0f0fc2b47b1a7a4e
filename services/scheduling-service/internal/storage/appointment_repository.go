package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/outbox"
)

const (
	EventBooked      = "scheduling.appointment.booked.v1"
	EventCancelled   = "scheduling.appointment.cancelled.v1"
	EventRescheduled = "scheduling.appointment.rescheduled.v1"
)

// AppointmentRepository implements booking.Store on Postgres. Slot
// exclusivity is enforced by a partial unique index over
// (doctor_id, appt_date, start_minutes) restricted to active statuses, so the
// commit itself is the re-validation: a lost race surfaces as a constraint
// violation, never as a double booking.
//
// Every mutation writes its outbox event in the same transaction; the state
// change and the event are atomic.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

// NewAppointmentRepository wires the store. outboxRepo may be nil; mutations
// then commit without events (used in tests against a bare schema).
func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const apptColumns = `id::text, doctor_id, patient_id, appt_date, start_minutes, status, created_at, cancelled_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var start int
	var status string
	var cancelledAt *time.Time
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &start, &status, &a.CreatedAt, &cancelledAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Start = model.TimeOfDay(start)
	a.Status = model.Status(status)
	a.CancelledAt = cancelledAt
	return a, nil
}

func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, appt_date, start_minutes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+apptColumns+`
	`, appt.DoctorID, appt.PatientID, appt.Date, appt.Start.Minutes(), string(appt.Status), appt.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}

	if err := r.emit(ctx, tx, EventBooked, created, nil); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapError(err)
	}
	return created, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, id string, at time.Time) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = $2
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+apptColumns+`
	`, id, at)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already cancelled (idempotent) or missing; Get distinguishes.
			return r.Get(ctx, id)
		}
		return model.Appointment{}, mapError(err)
	}

	if err := r.emit(ctx, tx, EventCancelled, appt, nil); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

// Move relocates an active appointment in one UPDATE. When the target slot is
// held, the unique index aborts the transaction and the row keeps its old
// slot, which gives reschedule its all-or-nothing property for free.
func (r *AppointmentRepository) Move(ctx context.Context, id string, newDate time.Time, newStart model.TimeOfDay) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	if !prev.Status.IsActive() {
		return model.Appointment{}, booking.ErrNotFound
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2,
			start_minutes = $3,
			status = 'rescheduled'
		WHERE id = $1
		RETURNING `+apptColumns+`
	`, id, newDate, newStart.Minutes())
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}

	if err := r.emit(ctx, tx, EventRescheduled, appt, &prev); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (r *AppointmentRepository) IsFree(ctx context.Context, doctorID string, date time.Time, start model.TimeOfDay) (bool, error) {
	var occupied bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
				AND appt_date = $2
				AND start_minutes = $3
				AND status IN ('scheduled', 'rescheduled')
		)
	`, doctorID, date, start.Minutes()).Scan(&occupied)
	if err != nil {
		return false, err
	}
	return !occupied, nil
}

func (r *AppointmentRepository) ListByDoctor(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	return r.list(ctx, `doctor_id`, doctorID)
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	return r.list(ctx, `patient_id`, patientID)
}

func (r *AppointmentRepository) list(ctx context.Context, column, value string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY appt_date ASC, start_minutes ASC
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment, prev *model.Appointment) error {
	if r.outbox == nil {
		return nil
	}

	body := map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date.Format("2006-01-02"),
		"start":          appt.Start.String(),
		"status":         string(appt.Status),
	}
	if appt.CancelledAt != nil {
		body["cancelled_at"] = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if prev != nil {
		body["previous_date"] = prev.Date.Format("2006-01-02")
		body["previous_start"] = prev.Start.String()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01") {
		return booking.ErrSlotConflict
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	return err
}

var _ booking.Store = (*AppointmentRepository)(nil)
