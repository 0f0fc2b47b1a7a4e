package storage

import (
	"context"

	"github.com/clinicbook/clinicbook/libs/db"
)

// IdempotencyRepository backs Idempotency-Key replay on the public booking
// endpoint. A key is first claimed, then finalized with the response that was
// sent; replays of a finalized key get the stored response back verbatim.
type IdempotencyRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	PatientID     string
	Key           string
	AppointmentID string
	StatusCode    int
	ResponseBody  []byte
	Finalized     bool
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Claim registers the key for the patient. Returns claimed=false when the
// key already exists, along with the existing record.
func (r *IdempotencyRepository) Claim(ctx context.Context, patientID, key string) (IdempotencyRecord, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (patient_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (patient_id, idempotency_key) DO NOTHING
	`, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyRecord{PatientID: patientID, Key: key}, true, nil
	}

	rec, err := r.get(ctx, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

// Finalize stores the response for later replay.
func (r *IdempotencyRepository) Finalize(ctx context.Context, patientID, key, appointmentID string, statusCode int, body []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_body = $5,
			finalized = true
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key, appointmentID, statusCode, body)
	return err
}

func (r *IdempotencyRepository) get(ctx context.Context, patientID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var body []byte
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_body, ''::bytea),
			finalized
		FROM booking_idempotency_keys
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key).Scan(&rec.PatientID, &rec.Key, &rec.AppointmentID, &rec.StatusCode, &body, &rec.Finalized)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	rec.ResponseBody = body
	return rec, nil
}
