package models

import (
	"time"

	"gorm.io/gorm"
)

// DBPosition is the archived record of a position whose status left OPEN.
type DBPosition struct {
	gorm.Model
	PositionID       string `gorm:"uniqueIndex"`
	UnderlyingSymbol string `gorm:"index"`
	ContractSymbol   string `gorm:"index"`
	Direction        string
	VolatilityBias   string
	RiskProfile      string

	// Entry snapshot
	EntryDate            time.Time
	EntryPrice           float64
	EntryUnderlyingPrice float64
	Contracts            int
	RemainingContracts   int
	EntryDelta           float64
	EntryGamma           float64
	EntryTheta           float64
	EntryVega            float64
	EntryIV              float64

	// Final live state
	CurrentPrice float64
	CurrentIV    float64
	PnL          float64
	PnLPercent   float64

	// Contract terms
	Strike     float64
	Expiration time.Time
	OptionType string

	// Risk
	MaxRisk   float64
	MaxProfit *float64
	Breakeven float64

	Target1Hit bool
	Target2Hit bool
	Target3Hit bool

	OrderID  string
	Status   string `gorm:"index"` // CLOSED, EXPIRED
	ClosedAt *time.Time
}

// DBExitEvaluation records one triggered exit decision for audit.
type DBExitEvaluation struct {
	gorm.Model
	PositionID    string `gorm:"index"`
	ExitType      string `gorm:"index"`
	CloseFraction float64
	Urgency       string
	Rationale     string
	EvaluatedAt   time.Time `gorm:"index"`
}

// DBAlert records alerts emitted by the monitor.
type DBAlert struct {
	gorm.Model
	PositionID string `gorm:"index"`
	AlertType  string `gorm:"index"`
	Severity   string
	Message    string
	RaisedAt   time.Time `gorm:"index"`
}

// TableName overrides for cleaner table names
func (DBPosition) TableName() string {
	return "positions"
}

func (DBExitEvaluation) TableName() string {
	return "exit_evaluations"
}

func (DBAlert) TableName() string {
	return "alerts"
}
