package services

import (
	"fmt"
	"math"

	"delta-trader/interfaces"

	"github.com/sirupsen/logrus"
)

// PositionSizerConfig holds the risk-budget knobs.
type PositionSizerConfig struct {
	BaseRiskPercent    float64 // fraction of account risked per trade
	MaxPositionPercent float64 // hard cap on total premium exposure
	SkipOnCompression  bool    // refuse new entries during compression
}

// DefaultPositionSizerConfig returns the standard 2% risk / 5% cap budget.
func DefaultPositionSizerConfig() PositionSizerConfig {
	return PositionSizerConfig{
		BaseRiskPercent:    0.02,
		MaxPositionPercent: 0.05,
		SkipOnCompression:  false,
	}
}

// PositionSize is the sizing output with every intermediate multiplier
// retained for audit.
type PositionSize struct {
	Contracts             int     `json:"contracts"`
	BaseRisk              float64 `json:"base_risk"`
	QualityMultiplier     float64 `json:"quality_multiplier"`
	OscillatorMultiplier  float64 `json:"oscillator_multiplier"`
	CompressionMultiplier float64 `json:"compression_multiplier"`
	AdjustedRisk          float64 `json:"adjusted_risk"`
	RiskPerContract       float64 `json:"risk_per_contract"`
	TotalPremium          float64 `json:"total_premium"`
	MaxPositionValue      float64 `json:"max_position_value"`
	ShouldSkipTrade       bool    `json:"should_skip_trade"`
	Rationale             string  `json:"rationale"`
}

// PositionSizer computes contract counts under the account risk budget.
type PositionSizer struct {
	config PositionSizerConfig
	logger *logrus.Logger
}

// NewPositionSizer creates a position sizer with the given config.
func NewPositionSizer(config PositionSizerConfig) *PositionSizer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PositionSizer{config: config, logger: logger}
}

// Size computes the contract count for a new entry. maxLossPerContract
// overrides the premium-based risk-per-contract when provided.
func (s *PositionSizer) Size(accountSize, premium float64, signalQuality int, phase interfaces.OscillatorPhase, maxLossPerContract *float64) (*PositionSize, error) {
	if accountSize <= 0 {
		return nil, fmt.Errorf("%w: account size must be positive, got %.2f", ErrValidation, accountSize)
	}
	if premium <= 0 {
		return nil, fmt.Errorf("%w: premium must be positive, got %.2f", ErrValidation, premium)
	}
	if signalQuality < 1 || signalQuality > 5 {
		return nil, fmt.Errorf("%w: signal quality must be 1-5, got %d", ErrValidation, signalQuality)
	}

	if s.config.SkipOnCompression && phase == interfaces.PhaseCompression {
		s.logger.WithField("phase", phase).Info("Skipping trade during compression")
		return &PositionSize{
			ShouldSkipTrade: true,
			Rationale:       "compression active and skip-on-compression enabled",
		}, nil
	}

	baseRisk := accountSize * s.config.BaseRiskPercent
	qualityMult := qualityMultiplier(signalQuality)
	oscMult := oscillatorMultiplier(phase)
	compMult := 1.0
	if phase == interfaces.PhaseCompression {
		compMult = 0.5
	}

	adjustedRisk := baseRisk * qualityMult * oscMult * compMult

	riskPerContract := premium * optionMultiplier
	if maxLossPerContract != nil {
		riskPerContract = *maxLossPerContract
	}

	contracts := int(math.Floor(adjustedRisk / riskPerContract))
	if contracts < 1 {
		contracts = 1
	}

	maxPositionValue := accountSize * s.config.MaxPositionPercent
	totalPremium := float64(contracts) * premium * optionMultiplier
	capped := false
	if totalPremium > maxPositionValue {
		contracts = int(math.Floor(maxPositionValue / (premium * optionMultiplier)))
		if contracts < 1 {
			contracts = 1
		}
		totalPremium = float64(contracts) * premium * optionMultiplier
		capped = true
	}

	size := &PositionSize{
		Contracts:             contracts,
		BaseRisk:              baseRisk,
		QualityMultiplier:     qualityMult,
		OscillatorMultiplier:  oscMult,
		CompressionMultiplier: compMult,
		AdjustedRisk:          adjustedRisk,
		RiskPerContract:       riskPerContract,
		TotalPremium:          totalPremium,
		MaxPositionValue:      maxPositionValue,
		Rationale: fmt.Sprintf("base $%.0f x quality %.2f x oscillator %.2f x compression %.2f = $%.0f risk, $%.0f/contract -> %d contracts (capped=%v)",
			baseRisk, qualityMult, oscMult, compMult, adjustedRisk, riskPerContract, contracts, capped),
	}

	s.logger.WithFields(logrus.Fields{
		"account_size":  accountSize,
		"premium":       premium,
		"quality":       signalQuality,
		"phase":         phase,
		"adjusted_risk": adjustedRisk,
		"contracts":     contracts,
		"capped":        capped,
	}).Info("Position sized")

	return size, nil
}

func qualityMultiplier(quality int) float64 {
	switch quality {
	case 1:
		return 0.5
	case 2:
		return 0.75
	case 5:
		return 1.5
	default: // 3, 4
		return 1.0
	}
}

func oscillatorMultiplier(phase interfaces.OscillatorPhase) float64 {
	switch phase {
	case interfaces.PhaseExtremeReversal:
		return 1.5
	case interfaces.PhaseZoneReversal:
		return 1.25
	default:
		return 1.0
	}
}
