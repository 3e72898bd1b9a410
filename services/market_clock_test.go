package services

import (
	"testing"
	"time"
)

func TestMarketCloseDTE(t *testing.T) {
	now := time.Date(2025, 6, 3, 11, 0, 0, 0, easternTime)

	if got := marketCloseDTE(now, now); got != 0 {
		t.Errorf("same-day DTE = %d, want 0", got)
	}
	if got := marketCloseDTE(now, now.AddDate(0, 0, 30)); got != 30 {
		t.Errorf("30-day DTE = %d, want 30", got)
	}
	if got := marketCloseDTE(now, now.AddDate(0, 0, -2)); got != 0 {
		t.Errorf("past expiration DTE = %d, want floor 0", got)
	}

	// Pinning both sides to 16:00 keeps time-of-day out of the count.
	late := time.Date(2025, 6, 3, 23, 0, 0, 0, easternTime)
	morningExp := time.Date(2025, 6, 5, 9, 0, 0, 0, easternTime)
	if got := marketCloseDTE(late, morningExp); got != 2 {
		t.Errorf("pinned DTE = %d, want 2", got)
	}
}

func TestMinutesToMarketClose(t *testing.T) {
	at := time.Date(2025, 6, 3, 15, 30, 0, 0, easternTime)
	if got := minutesToMarketClose(at); got != 30 {
		t.Errorf("minutes to close at 15:30 = %g, want 30", got)
	}

	after := time.Date(2025, 6, 3, 16, 30, 0, 0, easternTime)
	if got := minutesToMarketClose(after); got != -30 {
		t.Errorf("minutes to close at 16:30 = %g, want -30", got)
	}
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday midday", time.Date(2025, 6, 3, 11, 0, 0, 0, easternTime), true},
		{"weekday premarket", time.Date(2025, 6, 3, 9, 0, 0, 0, easternTime), false},
		{"opening bell", time.Date(2025, 6, 3, 9, 30, 0, 0, easternTime), true},
		{"at the close", time.Date(2025, 6, 3, 16, 0, 0, 0, easternTime), false},
		{"saturday", time.Date(2025, 6, 7, 11, 0, 0, 0, easternTime), false},
		{"sunday", time.Date(2025, 6, 8, 11, 0, 0, 0, easternTime), false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMarketOpen(tt.at); got != tt.want {
				t.Errorf("isMarketOpen(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}
