package interfaces

import (
	"context"
	"time"
)

// Greeks holds the option sensitivity measures for a quote.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	MidIV float64 `json:"mid_iv"`
}

// OptionContract represents one strike/expiration within a chain snapshot.
// Contracts are immutable per snapshot and discarded when a newer chain
// is fetched.
type OptionContract struct {
	Symbol           string    `json:"symbol"` // OCC format (e.g. "AAPL231215C00150000")
	UnderlyingSymbol string    `json:"underlying_symbol"`
	ContractType     string    `json:"contract_type"` // "call" or "put"
	StrikePrice      float64   `json:"strike_price"`
	ExpirationDate   time.Time `json:"expiration_date"`
	Bid              float64   `json:"bid"`
	Ask              float64   `json:"ask"`
	LastPrice        float64   `json:"last_price"`
	Volume           int64     `json:"volume"`
	OpenInterest     int64     `json:"open_interest"`

	Delta             float64 `json:"delta"`
	Gamma             float64 `json:"gamma"`
	Theta             float64 `json:"theta"`
	Vega              float64 `json:"vega"`
	Rho               float64 `json:"rho"`
	ImpliedVolatility float64 `json:"implied_volatility"`

	IntrinsicValue float64 `json:"intrinsic_value"`
	TimeValue      float64 `json:"time_value"`
	DTE            int     `json:"dte"`
}

// MidPrice returns the bid/ask midpoint.
func (c *OptionContract) MidPrice() float64 {
	return (c.Bid + c.Ask) / 2
}

// OptionChain is a full options snapshot for one underlying.
type OptionChain struct {
	UnderlyingSymbol string            `json:"underlying_symbol"`
	UnderlyingPrice  float64           `json:"underlying_price"`
	Calls            []*OptionContract `json:"calls"`
	Puts             []*OptionContract `json:"puts"`
	Expirations      []time.Time       `json:"expirations"`
	IVRank           float64           `json:"iv_rank"`
	IVPercentile     float64           `json:"iv_percentile"`
	FetchedAt        time.Time         `json:"fetched_at"`
}

// OptionsQuote is the latest quote for a single contract. Greeks may be
// nil when the data source omits them; consumers treat that as all-zero.
type OptionsQuote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Greeks    *Greeks   `json:"greeks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint of the quote.
func (q *OptionsQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// UnderlyingQuote is the latest quote for the underlying stock.
type UnderlyingQuote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Close  float64 `json:"close"`
}

// OscillatorPhase classifies the live oscillator state supplied by the
// market-condition feed.
type OscillatorPhase string

const (
	PhaseExtremeReversal OscillatorPhase = "EXTREME_REVERSAL"
	PhaseZoneReversal    OscillatorPhase = "ZONE_REVERSAL"
	PhaseTrending        OscillatorPhase = "TRENDING"
	PhaseCompression     OscillatorPhase = "COMPRESSION"
)

// IsReversal reports whether the phase signals a reversal of any strength.
func (p OscillatorPhase) IsReversal() bool {
	return p == PhaseExtremeReversal || p == PhaseZoneReversal
}

// MarketCondition is the external feed the selectors and exit manager
// consume. Bias carries the oscillator's implied direction ("bullish" or
// "bearish") for reversal phases.
type MarketCondition struct {
	OscillatorPhase  OscillatorPhase `json:"oscillator_phase"`
	Bias             string          `json:"bias,omitempty"`
	IVRank           float64         `json:"iv_rank"`
	VolatilityRegime string          `json:"volatility_regime,omitempty"`
	SignalQuality    int             `json:"signal_quality"`
}

// OptionsDataService defines the market-data collaborator the engine
// consumes. Implementations must tolerate missing Greeks blocks.
type OptionsDataService interface {
	GetContractQuote(ctx context.Context, contractSymbol string) (*OptionsQuote, error)
	GetUnderlyingQuote(ctx context.Context, symbol string) (*UnderlyingQuote, error)
	GetOptionChain(ctx context.Context, underlying string) (*OptionChain, error)
}

// Bar is one OHLCV candle, consumed by the market condition classifier.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}
