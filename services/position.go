package services

import (
	"time"

	"delta-trader/interfaces"
)

// Position lifecycle status values.
const (
	StatusOpen    = "OPEN"
	StatusClosed  = "CLOSED"
	StatusExpired = "EXPIRED"
)

// StrategyDescriptor captures the intent behind a position.
type StrategyDescriptor struct {
	Direction      string    `json:"direction"`       // "bullish" or "bearish"
	VolatilityBias string    `json:"volatility_bias"` // "long_vol" or "short_vol"
	RiskProfile    string    `json:"risk_profile"`    // "defined" or "undefined"
	MaxRisk        float64   `json:"max_risk"`
	MaxProfit      *float64  `json:"max_profit,omitempty"` // nil for unbounded
	Breakevens     []float64 `json:"breakevens,omitempty"`
}

// Position is the mutable aggregate root for an open options trade.
// Live fields are written only by the owning refresh cycle; target-hit
// flags and status are written by exit handling.
type Position struct {
	ID               string             `json:"id"`
	UnderlyingSymbol string             `json:"underlying_symbol"`
	ContractSymbol   string             `json:"contract_symbol"`
	Strategy         StrategyDescriptor `json:"strategy"`

	// Entry snapshot
	EntryDate            time.Time         `json:"entry_date"`
	EntryPrice           float64           `json:"entry_price"`
	EntryUnderlyingPrice float64           `json:"entry_underlying_price"`
	Contracts            int               `json:"contracts"`
	RemainingContracts   int               `json:"remaining_contracts"`
	EntryGreeks          interfaces.Greeks `json:"entry_greeks"`
	EntryIV              float64           `json:"entry_iv"`

	// Live fields, refreshed by the monitor
	CurrentPrice  float64           `json:"current_price"`
	CurrentGreeks interfaces.Greeks `json:"current_greeks"`
	CurrentIV     float64           `json:"current_iv"`
	PnL           float64           `json:"pnl"`
	PnLPercent    float64           `json:"pnl_percent"`

	// Contract terms
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	DTE        int       `json:"dte"`
	OptionType string    `json:"option_type"` // "call" or "put"

	// Risk
	MaxRisk   float64  `json:"max_risk"`
	MaxProfit *float64 `json:"max_profit,omitempty"`
	Breakeven float64  `json:"breakeven"`

	// Exit state
	Target1Hit      bool                   `json:"target1_hit"`
	Target2Hit      bool                   `json:"target2_hit"`
	Target3Hit      bool                   `json:"target3_hit"`
	ExitEvaluations []ExitEvaluationRecord `json:"exit_evaluations,omitempty"`

	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryValue returns the total premium paid at entry.
func (p *Position) EntryValue() float64 {
	return p.EntryPrice * float64(p.Contracts) * optionMultiplier
}

// ExitEvaluationRecord is a historical record of one exit decision.
type ExitEvaluationRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	ExitType      string    `json:"exit_type"`
	CloseFraction float64   `json:"close_fraction"`
	Urgency       string    `json:"urgency"`
	Rationale     string    `json:"rationale"`
}

// PnLCalculation decomposes P&L by Greek. The contributions are linear
// attribution estimates from entry Greeks, not a re-pricing; they drift
// for large underlying moves, which is accepted. VolatilityPnL is the
// residual of total minus the delta/gamma/theta contributions, so the
// decomposition sums to total.
type PnLCalculation struct {
	Total             float64 `json:"total"`
	Intrinsic         float64 `json:"intrinsic"`
	TimeValue         float64 `json:"time_value"`
	VolatilityPnL     float64 `json:"volatility_pnl"`
	ThetaDecay        float64 `json:"theta_decay"`
	DeltaContribution float64 `json:"delta_contribution"`
	GammaContribution float64 `json:"gamma_contribution"`
	VegaContribution  float64 `json:"vega_contribution"`
}

// RiskMetrics are per-position exposures, summable across positions.
type RiskMetrics struct {
	DeltaExposure  float64 `json:"delta_exposure"`
	GammaRisk      float64 `json:"gamma_risk"`
	ThetaDecay     float64 `json:"theta_decay"`
	VegaRisk       float64 `json:"vega_risk"`
	PortfolioDelta float64 `json:"portfolio_delta"`
	PortfolioGamma float64 `json:"portfolio_gamma"`
}

// PositionSnapshot is a point-in-time read of a position, superseded
// every refresh cycle.
type PositionSnapshot struct {
	PositionID      string            `json:"position_id"`
	UnderlyingPrice float64           `json:"underlying_price"`
	OptionPrice     float64           `json:"option_price"`
	Greeks          interfaces.Greeks `json:"greeks"`
	IV              float64           `json:"iv"`
	DTE             int               `json:"dte"`
	PnL             PnLCalculation    `json:"pnl"`
	Risk            RiskMetrics       `json:"risk"`
	Timestamp       time.Time         `json:"timestamp"`
}

// PositionUpdate is returned from a manual refresh.
type PositionUpdate struct {
	Position *Position         `json:"position"`
	Snapshot *PositionSnapshot `json:"snapshot"`
	Decision *ExitDecision     `json:"decision,omitempty"`
}

// Alert severities and types emitted by the monitor.
const (
	SeverityLow       = "LOW"
	SeverityMedium    = "MEDIUM"
	SeverityHigh      = "HIGH"
	SeverityImmediate = "IMMEDIATE"

	AlertDeltaChange = "DELTA_CHANGE"
	AlertDTEWarning  = "DTE_WARNING"
	AlertThetaDecay  = "THETA_DECAY"
	AlertAPIError    = "API_ERROR"
	AlertExitSignal  = "EXIT_SIGNAL"
)

// Alert is delivered to monitor subscribers.
type Alert struct {
	PositionID string                 `json:"position_id"`
	AlertType  string                 `json:"alert_type"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// AlertCallback receives alerts. Failures inside callbacks are contained
// by the monitor and never propagate into the refresh loop.
type AlertCallback func(*Alert)
