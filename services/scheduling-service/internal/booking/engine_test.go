package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/availability"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/booking"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/storage"
)

var testNow = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*booking.Engine, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	schedules := schedule.NewStaticSource(model.DoctorSchedule{
		DoctorID:    "doc-1",
		Opening:     mustTime(t, "08:00"),
		Closing:     mustTime(t, "12:00"),
		SlotMinutes: 30,
	})
	return booking.NewEngine(store, schedules, func() time.Time { return testNow }), store
}

func mustTime(t *testing.T, s string) model.TimeOfDay {
	t.Helper()
	v, err := model.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q) failed: %v", s, err)
	}
	return v
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreate_Succeeds(t *testing.T) {
	eng, _ := newTestEngine(t)

	appt, err := eng.Create(context.Background(), "doc-1", "pat-1", date(2024, time.June, 10), mustTime(t, "09:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
	if appt.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestCreate_DoubleBookingConflicts(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)
	nine := mustTime(t, "09:00")

	if _, err := eng.Create(ctx, "doc-1", "pat-a", day, nine); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	_, err := eng.Create(ctx, "doc-1", "pat-b", day, nine)
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)

	cases := []struct {
		name    string
		doctor  string
		date    time.Time
		start   string
		wantErr error
	}{
		{"off-grid", "doc-1", day, "09:10", booking.ErrInvalidSlot},
		{"before-hours", "doc-1", day, "07:30", booking.ErrInvalidSlot},
		{"after-hours", "doc-1", day, "12:30", booking.ErrInvalidSlot},
		{"past-date", "doc-1", date(2024, time.May, 20), "09:00", booking.ErrInvalidSlot},
		{"unknown-doctor", "doc-404", day, "09:00", booking.ErrUnknownDoctor},
	}
	for _, tc := range cases {
		_, err := eng.Create(ctx, tc.doctor, "pat-1", tc.date, mustTime(t, tc.start))
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestCreate_OvernightScheduleRejected(t *testing.T) {
	store := storage.NewMemStore()
	schedules := schedule.NewStaticSource(model.DoctorSchedule{
		DoctorID:    "doc-night",
		Opening:     mustTime(t, "18:00"),
		Closing:     mustTime(t, "08:00"),
		SlotMinutes: 30,
	})
	eng := booking.NewEngine(store, schedules, func() time.Time { return testNow })

	_, err := eng.Create(context.Background(), "doc-night", "pat-1", date(2024, time.June, 10), mustTime(t, "19:00"))
	if !errors.Is(err, availability.ErrUnsupportedSchedule) {
		t.Fatalf("expected ErrUnsupportedSchedule, got %v", err)
	}
	if _, err := eng.Slots(context.Background(), "doc-night", date(2024, time.June, 10)); !errors.Is(err, availability.ErrUnsupportedSchedule) {
		t.Fatalf("Slots: expected ErrUnsupportedSchedule, got %v", err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)
	nine := mustTime(t, "09:00")

	appt, err := eng.Create(ctx, "doc-1", "pat-1", day, nine)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := eng.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if first.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", first.Status)
	}

	second, err := eng.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("second Cancel should be a no-op success, got %v", err)
	}
	if second.CancelledAt == nil || !second.CancelledAt.Equal(*first.CancelledAt) {
		t.Fatal("second Cancel must not change state")
	}

	free, err := store.IsFree(ctx, "doc-1", day, nine)
	if err != nil || !free {
		t.Fatalf("slot should be free after cancel (free=%v, err=%v)", free, err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Cancel(context.Background(), "missing")
	if !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReschedule_MovesSlot(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)
	nine, nineThirty := mustTime(t, "09:00"), mustTime(t, "09:30")

	appt, err := eng.Create(ctx, "doc-1", "pat-a", day, nine)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	moved, err := eng.Reschedule(ctx, appt.ID, day, nineThirty)
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if moved.ID != appt.ID {
		t.Fatal("reschedule must keep the appointment identity")
	}
	if moved.Status != model.StatusRescheduled {
		t.Fatalf("status = %s, want rescheduled", moved.Status)
	}

	if free, _ := store.IsFree(ctx, "doc-1", day, nine); !free {
		t.Fatal("old slot 09:00 should be free after reschedule")
	}
	if free, _ := store.IsFree(ctx, "doc-1", day, nineThirty); free {
		t.Fatal("new slot 09:30 should be occupied after reschedule")
	}
}

func TestReschedule_ConflictLeavesOriginalUntouched(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)
	nine, ten := mustTime(t, "09:00"), mustTime(t, "10:00")

	appt, err := eng.Create(ctx, "doc-1", "pat-a", day, nine)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := eng.Create(ctx, "doc-1", "pat-b", day, ten); err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	_, err = eng.Reschedule(ctx, appt.ID, day, ten)
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// All-or-nothing: the original still holds its slot in its old state.
	got, err := store.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.StatusScheduled || got.Start != nine {
		t.Fatalf("original mutated: status=%s start=%s", got.Status, got.Start)
	}
	if free, _ := store.IsFree(ctx, "doc-1", day, nine); free {
		t.Fatal("original slot must still be occupied after failed reschedule")
	}
}

func TestReschedule_OffGridRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)

	appt, err := eng.Create(ctx, "doc-1", "pat-a", day, mustTime(t, "09:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := eng.Reschedule(ctx, appt.ID, day, mustTime(t, "09:10")); !errors.Is(err, booking.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
}

func TestReschedule_CancelledRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)

	appt, err := eng.Create(ctx, "doc-1", "pat-a", day, mustTime(t, "09:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := eng.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := eng.Reschedule(ctx, appt.ID, day, mustTime(t, "09:30")); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cancelled appointment, got %v", err)
	}
}

func TestSlots_ExcludesBooked(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)

	if _, err := eng.Create(ctx, "doc-1", "pat-a", day, mustTime(t, "09:00")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	slots, err := eng.Slots(ctx, "doc-1", day)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	// Grid 08:00..12:00 has 9 starts; one is taken.
	if len(slots) != 8 {
		t.Fatalf("expected 8 free slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.String() == "09:00" {
			t.Fatal("booked slot still listed as free")
		}
	}
}

func TestConcurrentCreate_ExactlyOneWins(t *testing.T) {
	eng, _ := newTestEngine(t)
	day := date(2024, time.June, 10)
	nine := mustTime(t, "09:00")

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Create(context.Background(), "doc-1", "pat", day, nine)
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, booking.ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one success, got %d wins / %d conflicts", wins, conflicts)
	}
}

func TestConcurrentReschedule_SingleWinnerForTargetSlot(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	day := date(2024, time.June, 10)

	a, err := eng.Create(ctx, "doc-1", "pat-a", day, mustTime(t, "08:00"))
	if err != nil {
		t.Fatalf("Create a failed: %v", err)
	}
	b, err := eng.Create(ctx, "doc-1", "pat-b", day, mustTime(t, "08:30"))
	if err != nil {
		t.Fatalf("Create b failed: %v", err)
	}

	target := mustTime(t, "11:00")
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = eng.Reschedule(ctx, id, day, target)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, booking.ErrSlotConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one reschedule winner, got %d", wins)
	}
	if free, _ := store.IsFree(ctx, "doc-1", day, target); free {
		t.Fatal("target slot should be occupied by the winner")
	}
}
