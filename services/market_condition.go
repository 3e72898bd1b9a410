package services

import (
	"fmt"
	"math"

	"delta-trader/interfaces"

	"github.com/sirupsen/logrus"
)

// MarketConditionService classifies the oscillator phase and signal
// quality from recent bars. It gives the external market-condition feed a
// concrete in-repo provider; callers may also supply conditions directly.
type MarketConditionService struct {
	logger *logrus.Logger
}

// NewMarketConditionService creates a new market condition classifier.
func NewMarketConditionService() *MarketConditionService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &MarketConditionService{logger: logger}
}

// Classify derives the oscillator phase, bias and signal quality from
// recent bars plus the chain's IV rank.
func (mcs *MarketConditionService) Classify(bars []*interfaces.Bar, ivRank float64) (*interfaces.MarketCondition, error) {
	if len(bars) < 21 {
		return nil, fmt.Errorf("need at least 21 bars for classification, got %d", len(bars))
	}

	rsi := CalculateRSI(bars, 14)
	bandWidth := CalculateBandWidth(bars, 20)

	phase, bias := classifyPhase(rsi, bandWidth)
	quality := signalQuality(rsi, bandWidth, phase)

	cond := &interfaces.MarketCondition{
		OscillatorPhase: phase,
		Bias:            bias,
		IVRank:          ivRank,
		SignalQuality:   quality,
	}

	if ivRank >= 50 {
		cond.VolatilityRegime = "elevated"
	} else {
		cond.VolatilityRegime = "subdued"
	}

	mcs.logger.WithFields(logrus.Fields{
		"rsi":        rsi,
		"band_width": bandWidth,
		"phase":      phase,
		"bias":       bias,
		"quality":    quality,
	}).Debug("Market condition classified")

	return cond, nil
}

// CalculateRSI calculates the Relative Strength Index over closes.
func CalculateRSI(bars []*interfaces.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50.0 // neutral
	}

	gains := 0.0
	losses := 0.0

	start := len(bars) - period - 1
	for i := start; i < len(bars)-1; i++ {
		change := bars[i+1].Close - bars[i].Close
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateBandWidth returns the Bollinger band width as a fraction of
// the moving average; narrow bands indicate volatility compression.
func CalculateBandWidth(bars []*interfaces.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	start := len(bars) - period
	sum := 0.0
	for i := start; i < len(bars); i++ {
		sum += bars[i].Close
	}
	mean := sum / float64(period)

	variance := 0.0
	for i := start; i < len(bars); i++ {
		d := bars[i].Close - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))

	if mean == 0 {
		return 0
	}
	return (4 * stdDev) / mean
}

// classifyPhase maps oscillator readings to a phase and directional bias.
func classifyPhase(rsi, bandWidth float64) (interfaces.OscillatorPhase, string) {
	switch {
	case rsi <= 20:
		return interfaces.PhaseExtremeReversal, "bullish"
	case rsi >= 80:
		return interfaces.PhaseExtremeReversal, "bearish"
	case rsi <= 30:
		return interfaces.PhaseZoneReversal, "bullish"
	case rsi >= 70:
		return interfaces.PhaseZoneReversal, "bearish"
	case bandWidth > 0 && bandWidth < 0.04:
		return interfaces.PhaseCompression, ""
	default:
		return interfaces.PhaseTrending, ""
	}
}

// signalQuality scores setup quality 1-5: deeper oscillator extremes and
// tighter compression read as higher quality.
func signalQuality(rsi, bandWidth float64, phase interfaces.OscillatorPhase) int {
	score := 0

	distance := math.Abs(rsi - 50)
	switch {
	case distance >= 35:
		score += 3
	case distance >= 25:
		score += 2
	case distance >= 15:
		score += 1
	}

	if phase == interfaces.PhaseCompression && bandWidth < 0.02 {
		score += 2
	} else if phase == interfaces.PhaseCompression {
		score += 1
	}

	if phase == interfaces.PhaseExtremeReversal {
		score += 2
	}

	quality := score
	if quality < 1 {
		quality = 1
	}
	if quality > 5 {
		quality = 5
	}
	return quality
}
