package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/availability"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/calendar"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/storage"
)

// IdempotencyStore is what the create path needs for Idempotency-Key replay.
// Nil-able: without it the endpoint still works, just without replay.
type IdempotencyStore interface {
	Claim(ctx context.Context, patientID, key string) (storage.IdempotencyRecord, bool, error)
	Finalize(ctx context.Context, patientID, key, appointmentID string, statusCode int, body []byte) error
}

type BookingHandler struct {
	engine *booking.Engine
	idem   IdempotencyStore
	logger *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, idem IdempotencyStore, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, idem: idem, logger: logger}
}

type createRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`  // 2006-01-02
	Start     string `json:"start"` // 15:04
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

func toItem(a model.Appointment, now time.Time) appointmentItem {
	item := appointmentItem{
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Date.Format("2006-01-02"),
		Start:         a.Start.String(),
		Status:        string(a.EffectiveStatus(now)),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.DoctorID == "" || req.PatientID == "" {
		http.Error(w, "doctor_id and patient_id are required", http.StatusBadRequest)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := model.ParseTimeOfDay(req.Start)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.idem != nil {
		rec, claimed, err := h.idem.Claim(ctx, req.PatientID, idemKey)
		if err != nil {
			http.Error(w, "failed to check idempotency key", http.StatusInternalServerError)
			return
		}
		if !claimed {
			if !rec.Finalized {
				http.Error(w, "request with this idempotency key is in flight", http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponseBody)
			return
		}
	}

	appt, err := h.engine.Create(ctx, req.DoctorID, req.PatientID, date, start)
	if err != nil {
		status, msg := engineError(err)
		if idemKey != "" && h.idem != nil && status != http.StatusInternalServerError {
			_ = h.idem.Finalize(ctx, req.PatientID, idemKey, "", status, []byte(msg))
		}
		http.Error(w, msg, status)
		return
	}

	body, err := json.Marshal(toItem(appt, h.engine.Now()))
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Finalize(ctx, req.PatientID, idemKey, appt.ID, http.StatusCreated, body); err != nil {
			h.logger.Warn("failed to finalize idempotency key", "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Cancel(r.Context(), req.AppointmentID)
	if err != nil {
		status, msg := engineError(err)
		http.Error(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt, h.engine.Now()))
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := model.ParseTimeOfDay(req.Start)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, date, start)
	if err != nil {
		status, msg := engineError(err)
		http.Error(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt, h.engine.Now()))
}

type slotItem struct {
	Start string `json:"start"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || dateStr == "" {
		http.Error(w, "doctor_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := model.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.Slots(r.Context(), doctorID, date)
	if err != nil {
		status, msg := engineError(err)
		http.Error(w, msg, status)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{Start: s.String()})
	}
	writeJSON(w, http.StatusOK, items)
}

// List returns a subject's appointments in display order: today first, then
// upcoming, then history.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appts, ok := h.subjectAppointments(w, r)
	if !ok {
		return
	}

	now := h.engine.Now()
	ordered := calendar.DisplayOrder(appts, now)
	items := make([]appointmentItem, 0, len(ordered))
	for _, a := range ordered {
		items = append(items, toItem(a, now))
	}
	writeJSON(w, http.StatusOK, items)
}

// subjectAppointments resolves the doctor_id/patient_id query (exactly one)
// and loads that subject's appointments. Writes the error response itself.
func (h *BookingHandler) subjectAppointments(w http.ResponseWriter, r *http.Request) ([]model.Appointment, bool) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if (doctorID == "") == (patientID == "") {
		http.Error(w, "exactly one of doctor_id or patient_id is required", http.StatusBadRequest)
		return nil, false
	}

	var appts []model.Appointment
	var err error
	if doctorID != "" {
		appts, err = h.engine.ListByDoctor(r.Context(), doctorID)
	} else {
		appts, err = h.engine.ListByPatient(r.Context(), patientID)
	}
	if err != nil {
		http.Error(w, "failed to load appointments", http.StatusInternalServerError)
		return nil, false
	}
	return appts, true
}

func engineError(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrSlotConflict):
		return http.StatusConflict, "slot already booked"
	case errors.Is(err, booking.ErrInvalidSlot):
		return http.StatusUnprocessableEntity, "requested time is not a bookable slot"
	case errors.Is(err, availability.ErrUnsupportedSchedule):
		return http.StatusUnprocessableEntity, "doctor schedule does not support booking"
	case errors.Is(err, booking.ErrUnknownDoctor):
		return http.StatusNotFound, "doctor not found"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "appointment not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
