package services

import (
	"errors"
	"testing"

	"delta-trader/interfaces"
)

func TestSizeValidation(t *testing.T) {
	s := NewPositionSizer(DefaultPositionSizerConfig())

	cases := []struct {
		name    string
		account float64
		premium float64
		quality int
	}{
		{"zero account", 0, 5.0, 3},
		{"negative premium", 100_000, -1, 3},
		{"quality too low", 100_000, 5.0, 0},
		{"quality too high", 100_000, 5.0, 6},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Size(tt.account, tt.premium, tt.quality, interfaces.PhaseTrending, nil)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSizeBaseline(t *testing.T) {
	s := NewPositionSizer(DefaultPositionSizerConfig())

	// $100k account, $5 premium, quality 4, neutral phase:
	// $2000 risk / $500 per contract = 4 contracts.
	size, err := s.Size(100_000, 5.0, 4, interfaces.PhaseTrending, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size.Contracts != 4 {
		t.Errorf("contracts = %d, want 4", size.Contracts)
	}
	if size.BaseRisk != 2000 {
		t.Errorf("base risk = %g, want 2000", size.BaseRisk)
	}
	if size.RiskPerContract != 500 {
		t.Errorf("risk per contract = %g, want 500", size.RiskPerContract)
	}
	if size.TotalPremium != 2000 {
		t.Errorf("total premium = %g, want 2000", size.TotalPremium)
	}
	if size.ShouldSkipTrade {
		t.Error("baseline sizing should not skip")
	}
}

func TestSizeMultipliers(t *testing.T) {
	s := NewPositionSizer(DefaultPositionSizerConfig())

	tests := []struct {
		name    string
		quality int
		phase   interfaces.OscillatorPhase
		want    int
	}{
		{"quality 5 scales up", 5, interfaces.PhaseTrending, 6},
		{"extreme reversal scales up", 4, interfaces.PhaseExtremeReversal, 6},
		{"zone reversal scales moderately", 4, interfaces.PhaseZoneReversal, 5},
		{"compression halves", 4, interfaces.PhaseCompression, 2},
		{"quality 1 halves", 1, interfaces.PhaseTrending, 2},
		{"quality 2", 2, interfaces.PhaseTrending, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := s.Size(100_000, 5.0, tt.quality, tt.phase, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if size.Contracts != tt.want {
				t.Errorf("contracts = %d, want %d (%s)", size.Contracts, tt.want, size.Rationale)
			}
		})
	}
}

func TestSizeMaxLossOverrideAndCap(t *testing.T) {
	s := NewPositionSizer(DefaultPositionSizerConfig())

	// $50 defined risk per contract would allow 40 contracts, but
	// 40 x $5 x 100 = $20k premium blows the 5% cap; recompute against
	// $5000 gives 10.
	maxLoss := 50.0
	size, err := s.Size(100_000, 5.0, 4, interfaces.PhaseTrending, &maxLoss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size.RiskPerContract != 50 {
		t.Errorf("risk per contract = %g, want override 50", size.RiskPerContract)
	}
	if size.Contracts != 10 {
		t.Errorf("contracts = %d, want 10 after cap", size.Contracts)
	}
	if size.TotalPremium != 5000 {
		t.Errorf("total premium = %g, want 5000", size.TotalPremium)
	}
}

func TestSizeMinimumOneContract(t *testing.T) {
	s := NewPositionSizer(DefaultPositionSizerConfig())

	// Risk budget of $200 cannot afford a $500 contract, but sizing
	// never returns zero.
	size, err := s.Size(10_000, 5.0, 4, interfaces.PhaseTrending, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size.Contracts != 1 {
		t.Errorf("contracts = %d, want floor of 1", size.Contracts)
	}
}

func TestSizeSkipOnCompression(t *testing.T) {
	config := DefaultPositionSizerConfig()
	config.SkipOnCompression = true
	s := NewPositionSizer(config)

	size, err := s.Size(100_000, 5.0, 4, interfaces.PhaseCompression, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !size.ShouldSkipTrade {
		t.Error("expected skip during compression")
	}
	if size.Contracts != 0 {
		t.Errorf("skipped trade should size zero contracts, got %d", size.Contracts)
	}

	// Non-compression phases still size normally.
	size, err = s.Size(100_000, 5.0, 4, interfaces.PhaseTrending, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size.ShouldSkipTrade {
		t.Error("trending phase should not skip")
	}
}
