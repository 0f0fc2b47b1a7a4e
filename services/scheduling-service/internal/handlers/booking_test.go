package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/storage"
)

var testNow = time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) *BookingHandler {
	t.Helper()
	return newTestHandlerWithIdem(t, nil)
}

func newTestHandlerWithIdem(t *testing.T, idem IdempotencyStore) *BookingHandler {
	t.Helper()
	opening, _ := model.ParseTimeOfDay("08:00")
	closing, _ := model.ParseTimeOfDay("12:00")
	schedules := schedule.NewStaticSource(model.DoctorSchedule{
		DoctorID:    "doc-1",
		Opening:     opening,
		Closing:     closing,
		SlotMinutes: 30,
	})
	eng := booking.NewEngine(storage.NewMemStore(), schedules, func() time.Time { return testNow })
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewBookingHandler(eng, idem, logger)
}

// fakeIdemStore keeps idempotency records in a map, mirroring what the pg
// repository does per (patient, key).
type fakeIdemStore struct {
	recs map[string]storage.IdempotencyRecord
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{recs: map[string]storage.IdempotencyRecord{}}
}

func (f *fakeIdemStore) Claim(_ context.Context, patientID, key string) (storage.IdempotencyRecord, bool, error) {
	k := patientID + "/" + key
	if rec, ok := f.recs[k]; ok {
		return rec, false, nil
	}
	rec := storage.IdempotencyRecord{PatientID: patientID, Key: key}
	f.recs[k] = rec
	return rec, true, nil
}

func (f *fakeIdemStore) Finalize(_ context.Context, patientID, key, appointmentID string, statusCode int, body []byte) error {
	k := patientID + "/" + key
	rec := f.recs[k]
	rec.AppointmentID = appointmentID
	rec.StatusCode = statusCode
	rec.ResponseBody = body
	rec.Finalized = true
	f.recs[k] = rec
	return nil
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://clinic.test/", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h(rw, req)
	return rw
}

func book(t *testing.T, h *BookingHandler, doctor, patient, date, start string) appointmentItem {
	t.Helper()
	rw := postJSON(t, h.Create, `{"doctor_id":"`+doctor+`","patient_id":"`+patient+`","date":"`+date+`","start":"`+start+`"}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d %s", rw.Code, rw.Body.String())
	}
	var item appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &item); err != nil {
		t.Fatalf("invalid booking response: %v", err)
	}
	return item
}

func postJSONKey(t *testing.T, h http.HandlerFunc, idemKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://clinic.test/", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", idemKey)
	rw := httptest.NewRecorder()
	h(rw, req)
	return rw
}

func TestCreate_IdempotencyKeyFinalized(t *testing.T) {
	idem := newFakeIdemStore()
	h := newTestHandlerWithIdem(t, idem)

	rw := postJSONKey(t, h.Create, "key-1", `{"doctor_id":"doc-1","patient_id":"pat-a","date":"2024-06-10","start":"09:00"}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d %s", rw.Code, rw.Body.String())
	}
	var item appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &item); err != nil {
		t.Fatalf("invalid booking response: %v", err)
	}

	rec, ok := idem.recs["pat-a/key-1"]
	if !ok {
		t.Fatal("key was never claimed")
	}
	if !rec.Finalized {
		t.Fatal("key not finalized after a successful booking")
	}
	if rec.StatusCode != http.StatusCreated || rec.AppointmentID != item.AppointmentID {
		t.Fatalf("stored %d/%s, want %d/%s", rec.StatusCode, rec.AppointmentID, http.StatusCreated, item.AppointmentID)
	}
	if !bytes.Equal(rec.ResponseBody, rw.Body.Bytes()) {
		t.Fatal("stored body differs from the response that was sent")
	}
}

func TestCreate_IdempotentRetryReplaysStoredResponse(t *testing.T) {
	idem := newFakeIdemStore()
	h := newTestHandlerWithIdem(t, idem)

	first := postJSONKey(t, h.Create, "key-1", `{"doctor_id":"doc-1","patient_id":"pat-a","date":"2024-06-10","start":"09:00"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d %s", first.Code, first.Body.String())
	}

	// Retry with the same key but a different slot: the stored response wins
	// and no second appointment is created.
	retry := postJSONKey(t, h.Create, "key-1", `{"doctor_id":"doc-1","patient_id":"pat-a","date":"2024-06-10","start":"09:30"}`)
	if retry.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want %d", retry.Code, http.StatusCreated)
	}
	if !bytes.Equal(retry.Body.Bytes(), first.Body.Bytes()) {
		t.Fatalf("replay body = %s, want the original %s", retry.Body.String(), first.Body.String())
	}
	if rw := postJSON(t, h.Create, `{"doctor_id":"doc-1","patient_id":"pat-b","date":"2024-06-10","start":"09:30"}`); rw.Code != http.StatusCreated {
		t.Fatalf("09:30 should still be free after the replay, got %d", rw.Code)
	}
}

func TestCreate_InFlightKeyConflicts(t *testing.T) {
	idem := newFakeIdemStore()
	idem.recs["pat-a/key-1"] = storage.IdempotencyRecord{PatientID: "pat-a", Key: "key-1"}
	h := newTestHandlerWithIdem(t, idem)

	rw := postJSONKey(t, h.Create, "key-1", `{"doctor_id":"doc-1","patient_id":"pat-a","date":"2024-06-10","start":"09:00"}`)
	if rw.Code != http.StatusConflict {
		t.Fatalf("in-flight key should conflict, got %d", rw.Code)
	}
}

func TestCreate_ReturnsScheduled(t *testing.T) {
	h := newTestHandler(t)
	item := book(t, h, "doc-1", "pat-1", "2024-06-10", "09:00")
	if item.Status != "scheduled" {
		t.Fatalf("status = %s, want scheduled", item.Status)
	}
	if item.AppointmentID == "" {
		t.Fatal("expected an appointment id")
	}
}

func TestCreate_ConflictIs409(t *testing.T) {
	h := newTestHandler(t)
	book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00")

	rw := postJSON(t, h.Create, `{"doctor_id":"doc-1","patient_id":"pat-b","date":"2024-06-10","start":"09:00"}`)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestCreate_OffGridIs422(t *testing.T) {
	h := newTestHandler(t)
	rw := postJSON(t, h.Create, `{"doctor_id":"doc-1","patient_id":"pat-a","date":"2024-06-10","start":"09:10"}`)
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rw.Code)
	}
}

func TestCreate_UnknownDoctorIs404(t *testing.T) {
	h := newTestHandler(t)
	rw := postJSON(t, h.Create, `{"doctor_id":"doc-404","patient_id":"pat-a","date":"2024-06-10","start":"09:00"}`)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestCancel_IdempotentOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	item := book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00")

	first := postJSON(t, h.Cancel, `{"appointment_id":"`+item.AppointmentID+`"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d %s", first.Code, first.Body.String())
	}
	second := postJSON(t, h.Cancel, `{"appointment_id":"`+item.AppointmentID+`"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("repeated cancel should succeed, got %d", second.Code)
	}
}

func TestReschedule_FreesOldSlot(t *testing.T) {
	h := newTestHandler(t)
	item := book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00")

	rw := postJSON(t, h.Reschedule, `{"appointment_id":"`+item.AppointmentID+`","date":"2024-06-10","start":"09:30"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("reschedule failed: %d %s", rw.Code, rw.Body.String())
	}

	// 09:00 is bookable again; 09:30 is not.
	if rw := postJSON(t, h.Create, `{"doctor_id":"doc-1","patient_id":"pat-b","date":"2024-06-10","start":"09:00"}`); rw.Code != http.StatusCreated {
		t.Fatalf("old slot should be free, got %d", rw.Code)
	}
	if rw := postJSON(t, h.Create, `{"doctor_id":"doc-1","patient_id":"pat-c","date":"2024-06-10","start":"09:30"}`); rw.Code != http.StatusConflict {
		t.Fatalf("new slot should conflict, got %d", rw.Code)
	}
}

func TestSlots_ListsFreeGrid(t *testing.T) {
	h := newTestHandler(t)
	book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00")

	req := httptest.NewRequest(http.MethodGet, "http://clinic.test/slots?doctor_id=doc-1&date=2024-06-10", nil)
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("slots failed: %d", rw.Code)
	}

	var items []slotItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid slots response: %v", err)
	}
	if len(items) != 8 {
		t.Fatalf("expected 8 free slots, got %d", len(items))
	}
	for _, it := range items {
		if it.Start == "09:00" {
			t.Fatal("booked slot listed as free")
		}
	}
}

func TestCalendar_42Cells(t *testing.T) {
	h := newTestHandler(t)
	book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00")

	req := httptest.NewRequest(http.MethodGet, "http://clinic.test/calendar?doctor_id=doc-1&year=2024&month=6", nil)
	rw := httptest.NewRecorder()
	h.Calendar(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("calendar failed: %d %s", rw.Code, rw.Body.String())
	}

	var cells []calendarCell
	if err := json.Unmarshal(rw.Body.Bytes(), &cells); err != nil {
		t.Fatalf("invalid calendar response: %v", err)
	}
	if len(cells) != 42 {
		t.Fatalf("expected 42 cells, got %d", len(cells))
	}
	found := false
	for _, c := range cells {
		if c.Date == "2024-06-10" {
			found = true
			if !c.Today || !c.InMonth || len(c.Appointments) != 1 {
				t.Fatalf("unexpected cell for today: %+v", c)
			}
		}
	}
	if !found {
		t.Fatal("today's cell missing from grid")
	}
}

func TestCalendar_RequiresExactlyOneSubject(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "http://clinic.test/calendar?doctor_id=a&patient_id=b&year=2024&month=6", nil)
	rw := httptest.NewRecorder()
	h.Calendar(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestDashboard_CountsAndFeed(t *testing.T) {
	h := newTestHandler(t)
	book(t, h, "doc-1", "pat-a", "2024-06-10", "09:00") // today, upcoming
	book(t, h, "doc-1", "pat-a", "2024-06-20", "10:00") // this month
	cancelled := book(t, h, "doc-1", "pat-a", "2024-06-11", "11:00")
	if rw := postJSON(t, h.Cancel, `{"appointment_id":"`+cancelled.AppointmentID+`"}`); rw.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d", rw.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "http://clinic.test/dashboard?patient_id=pat-a", nil)
	rw := httptest.NewRecorder()
	h.Dashboard(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("dashboard failed: %d %s", rw.Code, rw.Body.String())
	}

	var resp dashboardResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid dashboard response: %v", err)
	}
	if resp.Today != 1 || resp.ThisMonth != 2 || resp.Upcoming != 2 {
		t.Fatalf("unexpected counters: %+v", resp)
	}
	if len(resp.Recent) != 2 {
		t.Fatalf("expected 2 feed entries, got %d", len(resp.Recent))
	}
	if resp.Recent[0].Date != "2024-06-10" {
		t.Fatalf("nearest upcoming should lead the feed, got %s", resp.Recent[0].Date)
	}
}

func TestList_DisplayOrder(t *testing.T) {
	h := newTestHandler(t)
	book(t, h, "doc-1", "pat-a", "2024-06-12", "09:00") // future
	book(t, h, "doc-1", "pat-a", "2024-06-10", "11:00") // today
	book(t, h, "doc-1", "pat-a", "2024-06-10", "08:30") // today, earlier

	req := httptest.NewRequest(http.MethodGet, "http://clinic.test/appointments?patient_id=pat-a", nil)
	rw := httptest.NewRecorder()
	h.List(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rw.Code)
	}

	var items []appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid list response: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Date != "2024-06-10" || items[0].Start != "08:30" {
		t.Fatalf("today's earliest should lead, got %s %s", items[0].Date, items[0].Start)
	}
	if items[2].Date != "2024-06-12" {
		t.Fatalf("future should come after today, got %s", items[2].Date)
	}
}
