package services

import (
	"errors"
	"math"
	"testing"
	"time"

	"delta-trader/interfaces"
)

func fixedNow() time.Time {
	// A Monday at noon Eastern.
	return time.Date(2025, 6, 2, 12, 0, 0, 0, easternTime)
}

func newTestExpirationSelector() *ExpirationSelector {
	s := NewExpirationSelector()
	s.now = fixedNow
	return s
}

func expirationsAt(days ...int) []time.Time {
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = fixedNow().AddDate(0, 0, d)
	}
	return out
}

func TestSelectEmptyExpirations(t *testing.T) {
	s := newTestExpirationSelector()

	_, err := s.Select(nil, 3, interfaces.PhaseTrending, 50)
	if !errors.Is(err, ErrNoExpirationsAvailable) {
		t.Fatalf("expected ErrNoExpirationsAvailable, got %v", err)
	}
}

func TestTargetDTEPolicy(t *testing.T) {
	s := newTestExpirationSelector()
	available := expirationsAt(7, 14, 30, 45)

	tests := []struct {
		name    string
		quality int
		phase   interfaces.OscillatorPhase
		want    int
	}{
		{"extreme reversal quality 5", 5, interfaces.PhaseExtremeReversal, 7},
		{"extreme reversal quality 3", 3, interfaces.PhaseExtremeReversal, 14},
		{"compression overrides quality", 5, interfaces.PhaseCompression, 45},
		{"quality 5 trending", 5, interfaces.PhaseTrending, 14},
		{"quality 4 trending", 4, interfaces.PhaseTrending, 30},
		{"quality 3 trending", 3, interfaces.PhaseTrending, 30},
		{"quality 2 trending", 2, interfaces.PhaseTrending, 45},
		{"quality 1 trending", 1, interfaces.PhaseTrending, 45},
		{"unknown quality defaults to 30", 0, interfaces.PhaseTrending, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := s.Select(available, tt.quality, tt.phase, 50)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sel.TargetDTE != tt.want {
				t.Errorf("target DTE = %d, want %d", sel.TargetDTE, tt.want)
			}
			if sel.ActualDTE != tt.want {
				t.Errorf("actual DTE = %d, want %d (exact match available)", sel.ActualDTE, tt.want)
			}
		})
	}
}

func TestSelectClosestExpiration(t *testing.T) {
	s := newTestExpirationSelector()

	// Target 30 for quality 4; 28 is closer than 45.
	sel, err := s.Select(expirationsAt(14, 28, 45), 4, interfaces.PhaseTrending, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.ActualDTE != 28 {
		t.Errorf("actual DTE = %d, want 28", sel.ActualDTE)
	}
}

func TestSelectTieBreaksFirstInInputOrder(t *testing.T) {
	s := newTestExpirationSelector()

	// 28 and 32 are both 2 days off the 30-day target.
	available := expirationsAt(32, 28)
	sel, err := s.Select(available, 4, interfaces.PhaseTrending, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sel.Expiration.Equal(available[0]) {
		t.Errorf("tie should go to first input expiration, got %v", sel.Expiration)
	}
}

func TestSelectFloorsDTEAtZero(t *testing.T) {
	s := newTestExpirationSelector()

	sel, err := s.Select(expirationsAt(-2), 3, interfaces.PhaseTrending, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.ActualDTE != 0 {
		t.Errorf("past expiration DTE = %d, want 0", sel.ActualDTE)
	}
}

func TestIsWeeklyExpiration(t *testing.T) {
	monthly := time.Date(2025, 7, 18, 0, 0, 0, 0, easternTime) // day 18, in 15-21
	early := time.Date(2025, 7, 4, 0, 0, 0, 0, easternTime)
	sameMonth := time.Date(2025, 7, 16, 0, 0, 0, 0, easternTime)

	if isWeeklyExpiration(monthly, []time.Time{monthly}) {
		t.Error("single expiration on day 18 should be monthly")
	}
	if !isWeeklyExpiration(early, []time.Time{early}) {
		t.Error("day-4 expiration should be weekly")
	}
	if !isWeeklyExpiration(monthly, []time.Time{monthly, sameMonth}) {
		t.Error("two expirations in the same month should both classify weekly")
	}
}

func TestThetaDecayRate(t *testing.T) {
	// At 30 DTE with zero IV rank the acceleration factor is exactly 1.
	got := thetaDecayRate(30, 0)
	want := 1.0 / 30.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("thetaDecayRate(30, 0) = %v, want %v", got, want)
	}

	// Inside 30 DTE decay accelerates by sqrt(30/DTE).
	got = thetaDecayRate(15, 100)
	want = (1.0 / 15.0) * 1.5 * math.Sqrt(2)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("thetaDecayRate(15, 100) = %v, want %v", got, want)
	}

	// Beyond 30 DTE no acceleration applies.
	got = thetaDecayRate(45, 50)
	want = (1.0 / 45.0) * 1.25
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("thetaDecayRate(45, 50) = %v, want %v", got, want)
	}

	// Expiration day must not divide by zero.
	if rate := thetaDecayRate(0, 50); math.IsInf(rate, 0) || math.IsNaN(rate) {
		t.Errorf("thetaDecayRate(0, 50) = %v, want finite", rate)
	}
}
