package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/clinicbook/clinicbook/services/directory-service/internal/storage"
)

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

type doctorItem struct {
	DoctorID  string `json:"doctor_id"`
	FullName  string `json:"full_name"`
	Specialty string `json:"specialty"`
}

func toDoctorItem(d storage.Doctor) doctorItem {
	return doctorItem{DoctorID: d.ID, FullName: d.FullName, Specialty: d.Specialty}
}

func (h *Handler) Doctors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDoctors(w, r)
	case http.MethodPost:
		h.createDoctor(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createDoctor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName  string `json:"full_name"`
		Specialty string `json:"specialty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Specialty = strings.TrimSpace(req.Specialty)
	if req.FullName == "" {
		http.Error(w, "full_name is required", http.StatusBadRequest)
		return
	}

	d, err := h.repo.CreateDoctor(r.Context(), req.FullName, req.Specialty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toDoctorItem(d))
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	doctors, err := h.repo.ListDoctors(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]doctorItem, 0, len(doctors))
	for _, d := range doctors {
		items = append(items, toDoctorItem(d))
	}
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) Doctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if id == "" {
		http.Error(w, "doctor_id is required", http.StatusBadRequest)
		return
	}
	d, err := h.repo.GetDoctor(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toDoctorItem(d))
}

type scheduleItem struct {
	DoctorID    string `json:"doctor_id"`
	Opening     string `json:"opening"`
	Closing     string `json:"closing"`
	SlotMinutes int    `json:"slot_minutes"`
}

func toScheduleItem(s storage.Schedule) scheduleItem {
	return scheduleItem{
		DoctorID:    s.DoctorID,
		Opening:     formatClock(s.OpeningMinutes),
		Closing:     formatClock(s.ClosingMinutes),
		SlotMinutes: s.SlotMinutes,
	}
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSchedule(w, r)
	case http.MethodPost, http.MethodPut:
		h.upsertSchedule(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if id == "" {
		http.Error(w, "doctor_id is required", http.StatusBadRequest)
		return
	}
	s, err := h.repo.GetSchedule(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toScheduleItem(s))
}

func (h *Handler) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.DoctorID == "" {
		http.Error(w, "doctor_id is required", http.StatusBadRequest)
		return
	}
	opening, err := parseClock(req.Opening)
	if err != nil {
		http.Error(w, "invalid opening time", http.StatusUnprocessableEntity)
		return
	}
	closing, err := parseClock(req.Closing)
	if err != nil {
		http.Error(w, "invalid closing time", http.StatusUnprocessableEntity)
		return
	}

	s, err := h.repo.UpsertSchedule(r.Context(), storage.Schedule{
		DoctorID:       req.DoctorID,
		OpeningMinutes: opening,
		ClosingMinutes: closing,
		SlotMinutes:    req.SlotMinutes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(toScheduleItem(s))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "doctor not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidSchedule):
		http.Error(w, "schedule must open before it closes with a positive slot length", http.StatusUnprocessableEntity)
	case errors.Is(err, storage.ErrDuplicate):
		http.Error(w, "doctor already exists", http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseClock reads "HH:MM" into minutes since midnight.
func parseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	return hh*60 + mm, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
