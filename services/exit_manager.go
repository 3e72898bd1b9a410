package services

import (
	"fmt"
	"math"
	"time"

	"delta-trader/interfaces"

	"github.com/sirupsen/logrus"
)

// Exit condition types, ordered by resolution priority below.
const (
	ExitStopLoss           = "STOP_LOSS"
	ExitProfitTarget1      = "PROFIT_TARGET_1"
	ExitProfitTarget2      = "PROFIT_TARGET_2"
	ExitProfitTarget3      = "PROFIT_TARGET_3"
	ExitDTE                = "DTE_EXIT"
	ExitThetaDecay         = "THETA_DECAY"
	ExitIVCrush            = "IV_CRUSH"
	ExitEOD                = "EOD_EXIT"
	ExitOscillatorReversal = "OSCILLATOR_REVERSAL"
)

// exitPriority is the fixed total order used when multiple conditions
// fire in the same cycle. Highest wins.
var exitPriority = []string{
	ExitStopLoss,
	ExitDTE,
	ExitEOD,
	ExitThetaDecay,
	ExitIVCrush,
	ExitProfitTarget3,
	ExitProfitTarget2,
	ExitProfitTarget1,
	ExitOscillatorReversal,
}

// ExitManagerConfig holds the exit thresholds.
type ExitManagerConfig struct {
	StopLossPercent      float64 // loss as fraction of entry value
	ProfitTarget1Percent float64 // gain fractions of entry value
	ProfitTarget2Percent float64
	ProfitTarget3Percent float64
	Target1ClosePercent  float64 // fraction of original size closed at target 1
	Target2ClosePercent  float64 // fraction of the remainder closed at target 2
	DTEThreshold         int
	ThetaDecayPercent    float64 // daily theta as fraction of entry value
	IVCrushPercent       float64 // IV drop as fraction of entry IV
	EODMinutes           float64 // minutes before close
}

// DefaultExitManagerConfig returns the standard thresholds.
func DefaultExitManagerConfig() ExitManagerConfig {
	return ExitManagerConfig{
		StopLossPercent:      0.90,
		ProfitTarget1Percent: 0.50,
		ProfitTarget2Percent: 1.00,
		ProfitTarget3Percent: 2.00,
		Target1ClosePercent:  0.50,
		Target2ClosePercent:  0.60,
		DTEThreshold:         3,
		ThetaDecayPercent:    0.10,
		IVCrushPercent:       0.30,
		EODMinutes:           30,
	}
}

// ExitCondition is one evaluated trigger.
type ExitCondition struct {
	Type        string  `json:"type"`
	Triggered   bool    `json:"triggered"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// ExitDecision is the resolved outcome of one evaluation cycle.
type ExitDecision struct {
	ShouldExit    bool            `json:"should_exit"`
	ExitType      string          `json:"exit_type,omitempty"`
	CloseFraction float64         `json:"close_fraction"`
	Urgency       string          `json:"urgency,omitempty"`
	Rationale     string          `json:"rationale,omitempty"`
	Conditions    []ExitCondition `json:"conditions,omitempty"`
}

// ExitExecutionPlan is handed to the caller to submit as a closing order.
type ExitExecutionPlan struct {
	ExitType           string  `json:"exit_type"`
	ContractsToClose   int     `json:"contracts_to_close"`
	Urgency            string  `json:"urgency"`
	OrderType          string  `json:"order_type"` // "market" or "limit"
	EstimatedFillPrice float64 `json:"estimated_fill_price"`
	Rationale          string  `json:"rationale"`
}

// ExitManager evaluates the eight exit conditions against the latest
// snapshot. Evaluation is a pure function of its inputs and never errors:
// a nil or unusable snapshot yields an empty decision.
type ExitManager struct {
	config ExitManagerConfig
	logger *logrus.Logger
}

// NewExitManager creates an exit manager with the given thresholds.
func NewExitManager(config ExitManagerConfig) *ExitManager {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &ExitManager{config: config, logger: logger}
}

// Evaluate runs all eight conditions and resolves the winner by priority.
func (em *ExitManager) Evaluate(pos *Position, snap *PositionSnapshot, cond *interfaces.MarketCondition, now time.Time) *ExitDecision {
	if pos == nil || snap == nil {
		return &ExitDecision{}
	}
	entryValue := pos.EntryValue()
	if entryValue <= 0 {
		return &ExitDecision{}
	}

	conditions := []ExitCondition{
		em.evalStopLoss(snap, entryValue),
		em.evalProfitTarget1(pos, snap, entryValue),
		em.evalProfitTarget2(pos, snap, entryValue),
		em.evalProfitTarget3(pos, snap, entryValue),
		em.evalDTE(snap),
		em.evalThetaDecay(pos, snap, entryValue),
		em.evalIVCrush(pos, snap),
		em.evalEOD(now),
		em.evalOscillatorReversal(pos, cond),
	}

	var fired []ExitCondition
	for _, c := range conditions {
		if c.Triggered {
			fired = append(fired, c)
		}
	}
	if len(fired) == 0 {
		return &ExitDecision{Conditions: conditions}
	}

	winner := resolveByPriority(fired)
	fraction, urgency := closePolicy(winner.Type, em.config)

	decision := &ExitDecision{
		ShouldExit:    true,
		ExitType:      winner.Type,
		CloseFraction: fraction,
		Urgency:       urgency,
		Rationale:     fmt.Sprintf("%s: %s (%d condition(s) fired)", winner.Type, winner.Description, len(fired)),
		Conditions:    fired,
	}

	em.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"exit_type":   winner.Type,
		"fraction":    fraction,
		"urgency":     urgency,
		"fired":       len(fired),
	}).Info("Exit condition triggered")

	return decision
}

// ApplyDecision records the evaluation on the position and advances the
// profit-target flags. Status changes are left to the close path.
func (em *ExitManager) ApplyDecision(pos *Position, decision *ExitDecision, now time.Time) {
	if decision == nil || !decision.ShouldExit {
		return
	}

	switch decision.ExitType {
	case ExitProfitTarget1:
		pos.Target1Hit = true
	case ExitProfitTarget2:
		pos.Target2Hit = true
	case ExitProfitTarget3:
		pos.Target3Hit = true
	}

	pos.ExitEvaluations = append(pos.ExitEvaluations, ExitEvaluationRecord{
		Timestamp:     now,
		ExitType:      decision.ExitType,
		CloseFraction: decision.CloseFraction,
		Urgency:       decision.Urgency,
		Rationale:     decision.Rationale,
	})
}

// BuildExecutionPlan converts a decision into a closing order plan.
// IMMEDIATE urgency uses a market order with slippage modeled at 2% of
// the quote mid; everything else goes out as a limit at the mid.
func (em *ExitManager) BuildExecutionPlan(pos *Position, decision *ExitDecision, quote *interfaces.OptionsQuote) *ExitExecutionPlan {
	if decision == nil || !decision.ShouldExit {
		return nil
	}

	base := pos.RemainingContracts
	if decision.ExitType == ExitProfitTarget1 {
		base = pos.Contracts
	}
	contracts := int(math.Ceil(decision.CloseFraction * float64(base)))
	if contracts > pos.RemainingContracts {
		contracts = pos.RemainingContracts
	}
	if contracts < 1 {
		contracts = 1
	}

	mid := quote.Mid()
	orderType := "limit"
	fill := mid
	if decision.Urgency == SeverityImmediate {
		orderType = "market"
		fill = mid * 0.98
	}

	return &ExitExecutionPlan{
		ExitType:           decision.ExitType,
		ContractsToClose:   contracts,
		Urgency:            decision.Urgency,
		OrderType:          orderType,
		EstimatedFillPrice: fill,
		Rationale:          decision.Rationale,
	}
}

func (em *ExitManager) evalStopLoss(snap *PositionSnapshot, entryValue float64) ExitCondition {
	threshold := entryValue * em.config.StopLossPercent
	loss := -snap.PnL.Total
	return ExitCondition{
		Type:        ExitStopLoss,
		Triggered:   loss >= threshold,
		Value:       loss,
		Threshold:   threshold,
		Description: fmt.Sprintf("loss $%.2f vs stop $%.2f", loss, threshold),
	}
}

func (em *ExitManager) evalProfitTarget1(pos *Position, snap *PositionSnapshot, entryValue float64) ExitCondition {
	threshold := entryValue * em.config.ProfitTarget1Percent
	return ExitCondition{
		Type:        ExitProfitTarget1,
		Triggered:   !pos.Target1Hit && snap.PnL.Total >= threshold,
		Value:       snap.PnL.Total,
		Threshold:   threshold,
		Description: fmt.Sprintf("profit $%.2f vs target 1 $%.2f", snap.PnL.Total, threshold),
	}
}

func (em *ExitManager) evalProfitTarget2(pos *Position, snap *PositionSnapshot, entryValue float64) ExitCondition {
	threshold := entryValue * em.config.ProfitTarget2Percent
	// Strict sequencing: target 2 is gated on target 1's flag.
	return ExitCondition{
		Type:        ExitProfitTarget2,
		Triggered:   pos.Target1Hit && !pos.Target2Hit && snap.PnL.Total >= threshold,
		Value:       snap.PnL.Total,
		Threshold:   threshold,
		Description: fmt.Sprintf("profit $%.2f vs target 2 $%.2f", snap.PnL.Total, threshold),
	}
}

func (em *ExitManager) evalProfitTarget3(pos *Position, snap *PositionSnapshot, entryValue float64) ExitCondition {
	threshold := entryValue * em.config.ProfitTarget3Percent
	return ExitCondition{
		Type:        ExitProfitTarget3,
		Triggered:   pos.Target2Hit && !pos.Target3Hit && snap.PnL.Total >= threshold,
		Value:       snap.PnL.Total,
		Threshold:   threshold,
		Description: fmt.Sprintf("profit $%.2f vs target 3 $%.2f", snap.PnL.Total, threshold),
	}
}

func (em *ExitManager) evalDTE(snap *PositionSnapshot) ExitCondition {
	return ExitCondition{
		Type:        ExitDTE,
		Triggered:   snap.DTE <= em.config.DTEThreshold,
		Value:       float64(snap.DTE),
		Threshold:   float64(em.config.DTEThreshold),
		Description: fmt.Sprintf("%d DTE vs threshold %d", snap.DTE, em.config.DTEThreshold),
	}
}

func (em *ExitManager) evalThetaDecay(pos *Position, snap *PositionSnapshot, entryValue float64) ExitCondition {
	dailyTheta := math.Abs(pos.EntryGreeks.Theta) * float64(pos.Contracts) * optionMultiplier
	threshold := entryValue * em.config.ThetaDecayPercent
	return ExitCondition{
		Type:        ExitThetaDecay,
		Triggered:   dailyTheta > threshold && snap.PnL.Total < 0,
		Value:       dailyTheta,
		Threshold:   threshold,
		Description: fmt.Sprintf("daily theta $%.2f vs %.0f%% of entry ($%.2f), pnl $%.2f", dailyTheta, em.config.ThetaDecayPercent*100, threshold, snap.PnL.Total),
	}
}

func (em *ExitManager) evalIVCrush(pos *Position, snap *PositionSnapshot) ExitCondition {
	var drop float64
	if pos.EntryIV > 0 {
		drop = (pos.EntryIV - snap.IV) / pos.EntryIV
	}
	return ExitCondition{
		Type:        ExitIVCrush,
		Triggered:   pos.EntryIV > 0 && drop > em.config.IVCrushPercent,
		Value:       drop,
		Threshold:   em.config.IVCrushPercent,
		Description: fmt.Sprintf("IV dropped %.1f%% from entry %.3f to %.3f", drop*100, pos.EntryIV, snap.IV),
	}
}

func (em *ExitManager) evalEOD(now time.Time) ExitCondition {
	minutes := minutesToMarketClose(now)
	open := isMarketOpen(now)
	return ExitCondition{
		Type:        ExitEOD,
		Triggered:   open && minutes <= em.config.EODMinutes,
		Value:       minutes,
		Threshold:   em.config.EODMinutes,
		Description: fmt.Sprintf("%.0f minutes to close, market open=%v", minutes, open),
	}
}

func (em *ExitManager) evalOscillatorReversal(pos *Position, cond *interfaces.MarketCondition) ExitCondition {
	triggered := false
	desc := "no reversal signal"
	if cond != nil && cond.OscillatorPhase.IsReversal() && cond.Bias != "" && cond.Bias != pos.Strategy.Direction {
		triggered = true
		desc = fmt.Sprintf("%s reversal (%s) against %s position", cond.OscillatorPhase, cond.Bias, pos.Strategy.Direction)
	}
	return ExitCondition{
		Type:        ExitOscillatorReversal,
		Triggered:   triggered,
		Description: desc,
	}
}

// resolveByPriority returns the fired condition ranked highest in the
// fixed total order.
func resolveByPriority(fired []ExitCondition) ExitCondition {
	for _, t := range exitPriority {
		for _, c := range fired {
			if c.Type == t {
				return c
			}
		}
	}
	return fired[0]
}

// closePolicy maps the winning exit type to a close fraction and urgency.
// Target 1 closes a fraction of the original size; target 2 closes a
// fraction of the remainder; both are translated to contract counts by
// BuildExecutionPlan.
func closePolicy(exitType string, cfg ExitManagerConfig) (float64, string) {
	switch exitType {
	case ExitStopLoss, ExitDTE, ExitEOD:
		return 1.0, SeverityImmediate
	case ExitThetaDecay, ExitIVCrush:
		return 1.0, SeverityHigh
	case ExitProfitTarget3:
		return 1.0, SeverityMedium
	case ExitProfitTarget2:
		return cfg.Target2ClosePercent, SeverityMedium
	case ExitProfitTarget1:
		return cfg.Target1ClosePercent, SeverityMedium
	case ExitOscillatorReversal:
		return 0.5, SeverityLow
	default:
		return 1.0, SeverityMedium
	}
}
