package services

import (
	"fmt"
	"math"
	"time"

	"delta-trader/interfaces"

	"github.com/sirupsen/logrus"
)

// Selection validation thresholds.
const (
	maxDeltaDeviation = 0.15
	maxSpreadMidRatio = 0.10
	highIVRankCutoff  = 70.0
	strikeIncrement   = 0.50
	optionMultiplier  = 100.0
)

// StrikeSelection is the result of picking a single contract for a
// target delta.
type StrikeSelection struct {
	Contract     *interfaces.OptionContract `json:"contract"`
	TargetDelta  float64                    `json:"target_delta"`
	ActualDelta  float64                    `json:"actual_delta"`
	Deviation    float64                    `json:"deviation"`
	Premium      float64                    `json:"premium"` // bid/ask mid
	QualityScore float64                    `json:"quality_score"`
	Rationale    string                     `json:"rationale"`
}

// SpreadSelection pairs a long leg (higher |delta|) with a short leg for
// a two-leg vertical.
type SpreadSelection struct {
	LongLeg    *interfaces.OptionContract `json:"long_leg"`
	ShortLeg   *interfaces.OptionContract `json:"short_leg"`
	NetPremium float64                    `json:"net_premium"`
	Width      float64                    `json:"width"`
	MaxRisk    float64                    `json:"max_risk"`
	MaxProfit  float64                    `json:"max_profit"`
	Breakeven  float64                    `json:"breakeven"`
	Rationale  string                     `json:"rationale"`
}

// StrikeSelector picks contracts matching a target delta, with
// market-condition strike adjustments.
type StrikeSelector struct {
	logger *logrus.Logger
}

// NewStrikeSelector creates a new strike selector.
func NewStrikeSelector() *StrikeSelector {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &StrikeSelector{logger: logger}
}

// SelectStrike picks the contract minimizing |delta - target| among
// candidates of the given kind and expiration, then applies the
// market-condition strike adjustment and re-resolves to the nearest
// actual contract.
func (s *StrikeSelector) SelectStrike(chain *interfaces.OptionChain, targetDelta float64, kind string, expiration time.Time, cond *interfaces.MarketCondition) (*StrikeSelection, error) {
	candidates := filterContracts(chain, kind, expiration)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no %s contracts for %s expiring %s",
			ErrNoContractsAvailable, kind, chain.UnderlyingSymbol, expiration.Format("2006-01-02"))
	}

	chosen := closestByDelta(candidates, targetDelta)

	adjusted := adjustStrike(chosen.StrikePrice, chain.UnderlyingPrice, cond)
	if adjusted != chosen.StrikePrice {
		if realigned := closestByStrike(candidates, adjusted); realigned != nil {
			s.logger.WithFields(logrus.Fields{
				"original_strike": chosen.StrikePrice,
				"adjusted_target": adjusted,
				"final_strike":    realigned.StrikePrice,
			}).Debug("Strike adjusted for market condition")
			chosen = realigned
		}
	}

	deviation := math.Abs(chosen.Delta - targetDelta)
	sel := &StrikeSelection{
		Contract:     chosen,
		TargetDelta:  targetDelta,
		ActualDelta:  chosen.Delta,
		Deviation:    deviation,
		Premium:      chosen.MidPrice(),
		QualityScore: qualityScore(chosen, deviation),
		Rationale: fmt.Sprintf("%s %g %s delta %.3f vs target %.3f (off %.3f), mid %.2f",
			chain.UnderlyingSymbol, chosen.StrikePrice, kind, chosen.Delta, targetDelta, deviation, chosen.MidPrice()),
	}

	s.logger.WithFields(logrus.Fields{
		"symbol":    chosen.Symbol,
		"strike":    chosen.StrikePrice,
		"delta":     chosen.Delta,
		"deviation": deviation,
		"quality":   sel.QualityScore,
	}).Info("Strike selected")

	return sel, nil
}

// SelectSpread picks long and short legs by their target deltas and
// validates the vertical-spread structure invariants.
func (s *StrikeSelector) SelectSpread(chain *interfaces.OptionChain, longDelta, shortDelta float64, kind string, expiration time.Time, cond *interfaces.MarketCondition) (*SpreadSelection, error) {
	candidates := filterContracts(chain, kind, expiration)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no %s contracts for %s expiring %s",
			ErrNoContractsAvailable, kind, chain.UnderlyingSymbol, expiration.Format("2006-01-02"))
	}

	long := closestByDelta(candidates, longDelta)
	short := closestByDelta(candidates, shortDelta)

	if err := validateSpread(long, short, kind); err != nil {
		return nil, err
	}

	netPremium := long.MidPrice() - short.MidPrice()
	width := math.Abs(short.StrikePrice - long.StrikePrice)

	breakeven := long.StrikePrice + netPremium
	if kind == "put" {
		breakeven = long.StrikePrice - netPremium
	}

	spread := &SpreadSelection{
		LongLeg:    long,
		ShortLeg:   short,
		NetPremium: netPremium,
		Width:      width,
		MaxRisk:    netPremium * optionMultiplier,
		MaxProfit:  (width - netPremium) * optionMultiplier,
		Breakeven:  breakeven,
		Rationale: fmt.Sprintf("%s %s spread long %g (Δ%.3f) / short %g (Δ%.3f), net %.2f, width %g",
			chain.UnderlyingSymbol, kind, long.StrikePrice, long.Delta, short.StrikePrice, short.Delta, netPremium, width),
	}

	s.logger.WithFields(logrus.Fields{
		"long_strike":  long.StrikePrice,
		"short_strike": short.StrikePrice,
		"net_premium":  netPremium,
		"max_risk":     spread.MaxRisk,
	}).Info("Spread selected")

	return spread, nil
}

// ValidateSelection rejects selections with excessive delta deviation,
// wide bid/ask spreads, or physically insane Greeks.
func ValidateSelection(sel *StrikeSelection) error {
	c := sel.Contract
	if sel.Deviation > maxDeltaDeviation {
		return fmt.Errorf("%w: delta deviation %.3f exceeds %.2f", ErrSelectionRejected, sel.Deviation, maxDeltaDeviation)
	}
	mid := c.MidPrice()
	if mid > 0 && (c.Ask-c.Bid)/mid > maxSpreadMidRatio {
		return fmt.Errorf("%w: bid/ask spread %.1f%% of mid exceeds %.0f%%",
			ErrSelectionRejected, (c.Ask-c.Bid)/mid*100, maxSpreadMidRatio*100)
	}
	if !greeksSane(c) {
		return fmt.Errorf("%w: greeks out of range (Δ%.3f Γ%.4f Θ%.4f V%.4f)",
			ErrSelectionRejected, c.Delta, c.Gamma, c.Theta, c.Vega)
	}
	return nil
}

// filterContracts keeps contracts matching kind and expiration with a
// usable delta and two-sided quotes.
func filterContracts(chain *interfaces.OptionChain, kind string, expiration time.Time) []*interfaces.OptionContract {
	source := chain.Calls
	if kind == "put" {
		source = chain.Puts
	}

	var out []*interfaces.OptionContract
	for _, c := range source {
		if c.ContractType != kind {
			continue
		}
		if !sameDay(c.ExpirationDate, expiration) {
			continue
		}
		if math.IsNaN(c.Delta) {
			continue
		}
		if c.Bid <= 0 || c.Ask <= 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// closestByDelta returns the first contract minimizing |delta - target|.
func closestByDelta(candidates []*interfaces.OptionContract, target float64) *interfaces.OptionContract {
	best := candidates[0]
	bestDist := math.Abs(best.Delta - target)
	for _, c := range candidates[1:] {
		if dist := math.Abs(c.Delta - target); dist < bestDist {
			best = c
			bestDist = dist
		}
	}
	return best
}

// closestByStrike returns the first contract minimizing |strike - target|.
func closestByStrike(candidates []*interfaces.OptionContract, target float64) *interfaces.OptionContract {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	bestDist := math.Abs(best.StrikePrice - target)
	for _, c := range candidates[1:] {
		if dist := math.Abs(c.StrikePrice - target); dist < bestDist {
			best = c
			bestDist = dist
		}
	}
	return best
}

// adjustStrike shifts a chosen strike relative to at-the-money based on
// the oscillator phase, with an extra nudge away from ATM when IV rank is
// elevated. The reversal/compression move and the high-IV move compound.
// Result is rounded to the nearest 0.50 increment.
func adjustStrike(strike, atm float64, cond *interfaces.MarketCondition) float64 {
	adjusted := strike
	if cond != nil {
		distance := adjusted - atm
		switch cond.OscillatorPhase {
		case interfaces.PhaseExtremeReversal:
			// More aggressive: pull 30% of the distance toward ATM.
			adjusted -= 0.30 * distance
		case interfaces.PhaseCompression:
			// More conservative: push 20% of the distance away from ATM.
			adjusted += 0.20 * distance
		}
		if cond.IVRank > highIVRankCutoff {
			adjusted += 0.10 * (adjusted - atm)
		}
	}
	return math.Round(adjusted/strikeIncrement) * strikeIncrement
}

// validateSpread enforces the vertical-spread ordering invariants.
func validateSpread(long, short *interfaces.OptionContract, kind string) error {
	if kind == "call" && long.StrikePrice >= short.StrikePrice {
		return fmt.Errorf("%w: call spread requires long strike %g < short strike %g",
			ErrInvalidSpreadStructure, long.StrikePrice, short.StrikePrice)
	}
	if kind == "put" && long.StrikePrice <= short.StrikePrice {
		return fmt.Errorf("%w: put spread requires long strike %g > short strike %g",
			ErrInvalidSpreadStructure, long.StrikePrice, short.StrikePrice)
	}
	if math.Abs(long.Delta) <= math.Abs(short.Delta) {
		return fmt.Errorf("%w: long leg |delta| %.3f must exceed short leg |delta| %.3f",
			ErrInvalidSpreadStructure, math.Abs(long.Delta), math.Abs(short.Delta))
	}
	return nil
}

// qualityScore blends delta accuracy (40%), bid/ask tightness (30%) and
// Greeks sanity (30%) into a 0-100 score.
func qualityScore(c *interfaces.OptionContract, deviation float64) float64 {
	deltaScore := clamp01(1-deviation/maxDeltaDeviation) * 40

	spreadScore := 0.0
	if mid := c.MidPrice(); mid > 0 {
		ratio := (c.Ask - c.Bid) / mid
		spreadScore = clamp01(1-ratio/maxSpreadMidRatio) * 30
	}

	greeksScore := 0.0
	if greeksSane(c) {
		greeksScore = 30
	}

	return deltaScore + spreadScore + greeksScore
}

func greeksSane(c *interfaces.OptionContract) bool {
	return math.Abs(c.Delta) <= 1 && c.Gamma >= 0 && c.Theta <= 0 && c.Vega >= 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
