package services

import (
	"fmt"
	"math"
	"time"

	"delta-trader/interfaces"

	"github.com/sirupsen/logrus"
)

// ExpirationSelection is the result of picking a target expiration.
type ExpirationSelection struct {
	Expiration     time.Time `json:"expiration"`
	TargetDTE      int       `json:"target_dte"`
	ActualDTE      int       `json:"actual_dte"`
	IsWeekly       bool      `json:"is_weekly"`
	ThetaDecayRate float64   `json:"theta_decay_rate"`
	Rationale      string    `json:"rationale"`
}

// ExpirationSelector computes a target days-to-expiration from signal
// quality and market conditions, then picks the closest available expiration.
type ExpirationSelector struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewExpirationSelector creates a new expiration selector.
func NewExpirationSelector() *ExpirationSelector {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &ExpirationSelector{
		logger: logger,
		now:    time.Now,
	}
}

// Select picks the available expiration closest to the target DTE for the
// given signal quality and oscillator condition. Ties go to the first
// expiration encountered in input order.
func (s *ExpirationSelector) Select(available []time.Time, signalQuality int, phase interfaces.OscillatorPhase, ivRank float64) (*ExpirationSelection, error) {
	if len(available) == 0 {
		return nil, ErrNoExpirationsAvailable
	}

	targetDTE := s.targetDTE(signalQuality, phase)
	now := s.now()

	best := available[0]
	bestDTE := marketCloseDTE(now, available[0])
	bestDist := abs(bestDTE - targetDTE)
	for _, exp := range available[1:] {
		dte := marketCloseDTE(now, exp)
		if dist := abs(dte - targetDTE); dist < bestDist {
			best = exp
			bestDTE = dte
			bestDist = dist
		}
	}

	sel := &ExpirationSelection{
		Expiration:     best,
		TargetDTE:      targetDTE,
		ActualDTE:      bestDTE,
		IsWeekly:       isWeeklyExpiration(best, available),
		ThetaDecayRate: thetaDecayRate(bestDTE, ivRank),
		Rationale: fmt.Sprintf("target %dd for quality %d in %s, picked %s (%dd, off by %dd)",
			targetDTE, signalQuality, phase, best.Format("2006-01-02"), bestDTE, bestDist),
	}

	s.logger.WithFields(logrus.Fields{
		"target_dte": targetDTE,
		"actual_dte": bestDTE,
		"expiration": best.Format("2006-01-02"),
		"weekly":     sel.IsWeekly,
	}).Info("Expiration selected")

	return sel, nil
}

// targetDTE applies the target-DTE policy in priority order: extreme
// reversal overrides everything, then compression, then the quality tier.
func (s *ExpirationSelector) targetDTE(signalQuality int, phase interfaces.OscillatorPhase) int {
	if phase == interfaces.PhaseExtremeReversal {
		if signalQuality == 5 {
			return 7
		}
		return 14
	}
	if phase == interfaces.PhaseCompression {
		return 45
	}

	switch signalQuality {
	case 5:
		return 14
	case 4, 3:
		return 30
	case 2, 1:
		return 45
	default:
		return 30
	}
}

// isWeeklyExpiration flags expirations outside the monthly window
// (day-of-month 15-21) or sharing a month with another available expiration.
func isWeeklyExpiration(exp time.Time, available []time.Time) bool {
	if exp.Day() < 15 || exp.Day() > 21 {
		return true
	}
	sameMonth := 0
	for _, other := range available {
		if other.Year() == exp.Year() && other.Month() == exp.Month() {
			sameMonth++
		}
	}
	return sameMonth > 1
}

// thetaDecayRate estimates daily decay pressure for the chosen expiration.
// Decay accelerates inside 30 DTE; higher IV rank steepens the curve.
func thetaDecayRate(dte int, ivRank float64) float64 {
	if dte < 1 {
		dte = 1
	}
	acceleration := 1.0
	if dte <= 30 {
		acceleration = math.Sqrt(30.0 / float64(dte))
	}
	return (1.0 / float64(dte)) * (1.0 + ivRank/100.0*0.5) * acceleration
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
