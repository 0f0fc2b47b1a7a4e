package calendar

import (
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/scheduling-service/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func appt(id string, date time.Time, start string) model.Appointment {
	t, err := model.ParseTimeOfDay(start)
	if err != nil {
		panic(err)
	}
	return model.Appointment{
		ID:       id,
		DoctorID: "doc-1",
		Date:     date,
		Start:    t,
		Status:   model.StatusScheduled,
	}
}

func TestBuildMonth_Always42Cells(t *testing.T) {
	months := []struct {
		year  int
		month time.Month
	}{
		{2024, time.February}, // leap year
		{2023, time.February}, // non-leap
		{2024, time.June},
		{2024, time.December},
		{2026, time.March}, // 1st on a Sunday, max back-fill
	}
	for _, m := range months {
		cells := BuildMonth(m.year, m.month, nil, day(2024, time.June, 10))
		if len(cells) != MonthCells {
			t.Fatalf("%d-%s: expected %d cells, got %d", m.year, m.month, MonthCells, len(cells))
		}
	}
}

func TestBuildMonth_MondayAlignedAndContiguous(t *testing.T) {
	cells := BuildMonth(2024, time.June, nil, day(2024, time.June, 10))
	if cells[0].Date.Weekday() != time.Monday {
		t.Fatalf("grid should start on Monday, got %s", cells[0].Date.Weekday())
	}
	// June 1 2024 is a Saturday, so the grid starts in late May.
	if cells[0].Date.Month() != time.May {
		t.Fatalf("expected grid to back-fill into May, got %s", cells[0].Date)
	}
	for i := 1; i < len(cells); i++ {
		if !cells[i].Date.Equal(cells[i-1].Date.AddDate(0, 0, 1)) {
			t.Fatalf("cells not contiguous at %d: %s then %s", i, cells[i-1].Date, cells[i].Date)
		}
	}
}

func TestBuildMonth_FlagsAndBuckets(t *testing.T) {
	today := day(2024, time.June, 10)
	appts := []model.Appointment{
		appt("a1", day(2024, time.June, 10), "09:30"),
		appt("a2", day(2024, time.June, 10), "09:00"),
		appt("a3", day(2024, time.June, 11), "10:00"),
		appt("a4", day(2024, time.July, 1), "08:00"), // outside displayed month
	}
	cells := BuildMonth(2024, time.June, appts, today)

	var todayCell *Cell
	for i := range cells {
		if cells[i].Today {
			if todayCell != nil {
				t.Fatal("more than one cell flagged as today")
			}
			todayCell = &cells[i]
		}
		if cells[i].Date.Month() == time.June && !cells[i].InMonth {
			t.Fatalf("June day %s not flagged InMonth", cells[i].Date)
		}
		if cells[i].Date.Month() != time.June && cells[i].InMonth {
			t.Fatalf("non-June day %s flagged InMonth", cells[i].Date)
		}
	}
	if todayCell == nil {
		t.Fatal("no cell flagged as today")
	}
	if len(todayCell.Appointments) != 2 {
		t.Fatalf("expected 2 appointments on today cell, got %d", len(todayCell.Appointments))
	}
	// Within-cell ordering is by start time.
	if todayCell.Appointments[0].ID != "a2" || todayCell.Appointments[1].ID != "a1" {
		t.Fatalf("today cell not ordered by start: %s, %s",
			todayCell.Appointments[0].ID, todayCell.Appointments[1].ID)
	}
}

func TestBuildMonth_Restartable(t *testing.T) {
	today := day(2024, time.June, 10)
	appts := []model.Appointment{appt("a1", day(2024, time.June, 5), "09:00")}

	first := BuildMonth(2024, time.June, appts, today)
	_ = BuildMonth(2024, time.May, appts, today) // navigate away
	second := BuildMonth(2024, time.June, appts, today)

	if len(first) != len(second) {
		t.Fatalf("rebuild changed cell count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Date.Equal(second[i].Date) || len(first[i].Appointments) != len(second[i].Appointments) {
			t.Fatalf("rebuild differs at cell %d", i)
		}
	}
}

func TestDisplayOrder_TodayFirstThenFutureThenPast(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	appts := []model.Appointment{
		appt("past-old", day(2024, time.June, 1), "09:00"),
		appt("future", day(2024, time.June, 12), "09:00"),
		appt("past-recent", day(2024, time.June, 8), "11:00"),
		appt("today-late", day(2024, time.June, 10), "15:00"),
		appt("today-early", day(2024, time.June, 10), "09:00"),
	}

	got := DisplayOrder(appts, now)
	want := []string{"today-early", "today-late", "future", "past-recent", "past-old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestDayList(t *testing.T) {
	appts := []model.Appointment{
		appt("b", day(2024, time.June, 10), "10:00"),
		appt("a", day(2024, time.June, 10), "08:30"),
		appt("other-day", day(2024, time.June, 11), "08:00"),
	}
	got := DayList(appts, day(2024, time.June, 10))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected day list: %+v", got)
	}
}
