package calendar

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		n    int
		want time.Time
	}{
		{"PlainForward", date(2024, 3, 15), 2, date(2024, 5, 15)},
		{"PlainBackward", date(2024, 3, 15), -2, date(2024, 1, 15)},
		{"CrossYear", date(2024, 11, 10), 3, date(2025, 2, 10)},
		{"ClampLeapFebruary", date(2024, 1, 31), 1, date(2024, 2, 29)},
		{"ClampFebruary", date(2023, 1, 31), 1, date(2023, 2, 28)},
		{"ClampThirtyDayMonth", date(2024, 8, 31), -2, date(2024, 6, 30)},
		{"TwentyFourMonths", date(2022, 10, 18), 24, date(2024, 10, 18)},
		{"Zero", date(2024, 7, 4), 0, date(2024, 7, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonths(tt.in, tt.n)
			if !got.Equal(tt.want) {
				t.Errorf("AddMonths(%s, %d) = %s, want %s", tt.in.Format("2006-01-02"), tt.n, got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestAddMonthsKeepsClock(t *testing.T) {
	in := time.Date(2024, 1, 31, 13, 45, 10, 0, time.UTC)
	got := AddMonths(in, 1)
	want := time.Date(2024, 2, 29, 13, 45, 10, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSubMonths(t *testing.T) {
	if got := SubMonths(date(2024, 3, 31), 1); !got.Equal(date(2024, 2, 29)) {
		t.Errorf("SubMonths = %s, want 2024-02-29", got.Format("2006-01-02"))
	}
}

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"SameDay", date(2024, 1, 1), date(2024, 1, 1), 0},
		{"ExactMonths", date(2024, 1, 15), date(2024, 4, 15), 3},
		{"OneDayShort", date(2024, 1, 15), date(2024, 4, 14), 2},
		{"ClampedEndOfMonth", date(2024, 1, 31), date(2024, 2, 29), 1},
		{"Negative", date(2024, 4, 15), date(2024, 1, 15), -3},
		{"TwoYears", date(2022, 10, 18), date(2024, 10, 18), 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MonthsBetween(tt.from, tt.to); got != tt.want {
				t.Errorf("MonthsBetween = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	now := date(2026, 10, 18)

	t.Run("InsideWindow", func(t *testing.T) {
		if !Within(date(2025, 1, 1), now, 24) {
			t.Error("expected event inside window")
		}
	})

	t.Run("ExactlyWindowOldAgesOut", func(t *testing.T) {
		if Within(date(2024, 10, 18), now, 24) {
			t.Error("event exactly 24 months old should no longer count")
		}
	})

	t.Run("OneDayBeforeAgeOut", func(t *testing.T) {
		if !Within(date(2024, 10, 19), now, 24) {
			t.Error("event one day short of 24 months should count")
		}
	})

	t.Run("FutureEvent", func(t *testing.T) {
		if Within(date(2026, 11, 1), now, 24) {
			t.Error("future event should not count")
		}
	})

	t.Run("SameInstant", func(t *testing.T) {
		if !Within(now, now, 1) {
			t.Error("event at now should count")
		}
	})
}

func TestEarliestLatest(t *testing.T) {
	a, b := date(2025, 1, 1), date(2026, 1, 1)

	if got := Earliest(nil, &b, &a); got == nil || !got.Equal(a) {
		t.Errorf("Earliest = %v, want %s", got, a)
	}
	if got := Latest(&a, nil, &b); got == nil || !got.Equal(b) {
		t.Errorf("Latest = %v, want %s", got, b)
	}
	if Earliest() != nil || Latest(nil) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2026, 10, 18, 17, 3, 2, 1, time.UTC)
	if got := StartOfDay(in); !got.Equal(date(2026, 10, 18)) {
		t.Errorf("StartOfDay = %s", got)
	}
}
