package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/calendar"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/dashboard"
)

type calendarCell struct {
	Date         string            `json:"date"`
	Today        bool              `json:"today"`
	InMonth      bool              `json:"in_month"`
	Appointments []appointmentItem `json:"appointments"`
}

// Calendar serves the 6-week month grid for a doctor or patient.
func (h *BookingHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil || year < 1970 || year > 9999 {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}
	monthNum, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil || monthNum < 1 || monthNum > 12 {
		http.Error(w, "invalid month", http.StatusBadRequest)
		return
	}

	appts, ok := h.subjectAppointments(w, r)
	if !ok {
		return
	}

	now := h.engine.Now()
	cells := calendar.BuildMonth(year, time.Month(monthNum), appts, now)
	out := make([]calendarCell, 0, len(cells))
	for _, c := range cells {
		items := make([]appointmentItem, 0, len(c.Appointments))
		for _, a := range c.Appointments {
			items = append(items, toItem(a, now))
		}
		out = append(out, calendarCell{
			Date:         c.Date.Format("2006-01-02"),
			Today:        c.Today,
			InMonth:      c.InMonth,
			Appointments: items,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type dashboardResponse struct {
	Today     int               `json:"today"`
	ThisMonth int               `json:"this_month"`
	Upcoming  int               `json:"upcoming"`
	Recent    []appointmentItem `json:"recent"`
}

// Dashboard serves the counters and activity feed shared by the patient and
// doctor home screens.
func (h *BookingHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appts, ok := h.subjectAppointments(w, r)
	if !ok {
		return
	}

	now := h.engine.Now()
	stats := dashboard.Compute(appts, now)
	resp := dashboardResponse{
		Today:     stats.Today,
		ThisMonth: stats.ThisMonth,
		Upcoming:  stats.Upcoming,
		Recent:    make([]appointmentItem, 0, len(stats.Recent)),
	}
	for _, a := range stats.Recent {
		resp.Recent = append(resp.Recent, toItem(a, now))
	}
	writeJSON(w, http.StatusOK, resp)
}
