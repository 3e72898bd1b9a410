package services

import (
	"testing"
	"time"

	"delta-trader/interfaces"
)

// exitNow is a Tuesday at noon Eastern, four hours before the close so
// the end-of-day condition stays quiet unless a test moves the clock.
func exitNow() time.Time {
	return time.Date(2025, 6, 3, 12, 0, 0, 0, easternTime)
}

func exitTestPosition() *Position {
	return &Position{
		ID:                 "test-pos",
		UnderlyingSymbol:   "SPY",
		ContractSymbol:     "SPY250703C00500000",
		Strategy:           StrategyDescriptor{Direction: "bullish"},
		EntryDate:          exitNow().AddDate(0, 0, -5),
		EntryPrice:         10.0,
		Contracts:          1,
		RemainingContracts: 1,
		EntryGreeks:        interfaces.Greeks{Delta: 0.5, Gamma: 0.02, Theta: -0.05, Vega: 0.10},
		EntryIV:            0.50,
		Strike:             500,
		Expiration:         exitNow().AddDate(0, 0, 30),
		OptionType:         "call",
		Status:             StatusOpen,
	}
}

func exitTestSnapshot(pnl float64) *PositionSnapshot {
	return &PositionSnapshot{
		PositionID: "test-pos",
		DTE:        30,
		IV:         0.50,
		PnL:        PnLCalculation{Total: pnl},
		Timestamp:  exitNow(),
	}
}

func TestEvaluateNilInputs(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	if d := em.Evaluate(nil, exitTestSnapshot(0), nil, exitNow()); d.ShouldExit {
		t.Error("nil position must not exit")
	}
	if d := em.Evaluate(exitTestPosition(), nil, nil, exitNow()); d.ShouldExit {
		t.Error("nil snapshot must not exit")
	}

	zero := exitTestPosition()
	zero.EntryPrice = 0
	if d := em.Evaluate(zero, exitTestSnapshot(0), nil, exitNow()); d.ShouldExit {
		t.Error("zero entry value must not exit")
	}
}

func TestEvaluateNoTrigger(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	d := em.Evaluate(exitTestPosition(), exitTestSnapshot(100), nil, exitNow())
	if d.ShouldExit {
		t.Fatalf("flat position should not exit: %s", d.Rationale)
	}
	if len(d.Conditions) != 9 {
		t.Errorf("expected all 9 conditions reported, got %d", len(d.Conditions))
	}
}

func TestStopLoss(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	// Entry value $1000, stop at 90% = $900 loss.
	d := em.Evaluate(exitTestPosition(), exitTestSnapshot(-920), nil, exitNow())
	if !d.ShouldExit || d.ExitType != ExitStopLoss {
		t.Fatalf("expected STOP_LOSS, got %+v", d)
	}
	if d.CloseFraction != 1.0 {
		t.Errorf("stop loss fraction = %g, want 1.0", d.CloseFraction)
	}
	if d.Urgency != SeverityImmediate {
		t.Errorf("stop loss urgency = %s, want IMMEDIATE", d.Urgency)
	}

	// A loss just inside the stop does not trigger.
	d = em.Evaluate(exitTestPosition(), exitTestSnapshot(-850), nil, exitNow())
	if d.ShouldExit {
		t.Errorf("loss below stop should not exit: %s", d.Rationale)
	}
}

func TestProfitTargetSequencing(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())
	pos := exitTestPosition()

	// 60% gain fires target 1 only.
	d := em.Evaluate(pos, exitTestSnapshot(600), nil, exitNow())
	if d.ExitType != ExitProfitTarget1 {
		t.Fatalf("expected PROFIT_TARGET_1, got %s", d.ExitType)
	}
	if d.CloseFraction != 0.50 {
		t.Errorf("target 1 fraction = %g, want 0.50", d.CloseFraction)
	}
	em.ApplyDecision(pos, d, exitNow())
	if !pos.Target1Hit {
		t.Fatal("ApplyDecision should set Target1Hit")
	}
	if len(pos.ExitEvaluations) != 1 {
		t.Errorf("expected 1 evaluation record, got %d", len(pos.ExitEvaluations))
	}

	// Target 1 never re-fires; the same gain now yields no exit.
	d = em.Evaluate(pos, exitTestSnapshot(600), nil, exitNow())
	if d.ShouldExit {
		t.Errorf("target 1 should not re-fire: %s", d.Rationale)
	}

	// 110% gain fires target 2 now that target 1 is recorded.
	d = em.Evaluate(pos, exitTestSnapshot(1100), nil, exitNow())
	if d.ExitType != ExitProfitTarget2 {
		t.Fatalf("expected PROFIT_TARGET_2, got %s", d.ExitType)
	}
	if d.CloseFraction != 0.60 {
		t.Errorf("target 2 fraction = %g, want 0.60", d.CloseFraction)
	}
	em.ApplyDecision(pos, d, exitNow())

	// 210% gain fires target 3, a full close.
	d = em.Evaluate(pos, exitTestSnapshot(2100), nil, exitNow())
	if d.ExitType != ExitProfitTarget3 {
		t.Fatalf("expected PROFIT_TARGET_3, got %s", d.ExitType)
	}
	if d.CloseFraction != 1.0 {
		t.Errorf("target 3 fraction = %g, want 1.0", d.CloseFraction)
	}
}

func TestProfitTarget2GatedOnTarget1(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	// A 110% gap up on a fresh position still resolves to target 1:
	// target 2 stays gated until target 1's flag is set.
	d := em.Evaluate(exitTestPosition(), exitTestSnapshot(1100), nil, exitNow())
	if d.ExitType != ExitProfitTarget1 {
		t.Errorf("fresh position at 110%% gain should fire target 1, got %s", d.ExitType)
	}
}

func TestDTEExit(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	snap := exitTestSnapshot(0)
	snap.DTE = 3
	d := em.Evaluate(exitTestPosition(), snap, nil, exitNow())
	if d.ExitType != ExitDTE {
		t.Fatalf("expected DTE_EXIT at 3 DTE, got %s", d.ExitType)
	}
	if d.Urgency != SeverityImmediate || d.CloseFraction != 1.0 {
		t.Errorf("DTE exit = %g/%s, want 1.0/IMMEDIATE", d.CloseFraction, d.Urgency)
	}
}

func TestThetaDecayExit(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	pos := exitTestPosition()
	pos.EntryGreeks.Theta = -1.5 // $150/day against a $1000 position

	d := em.Evaluate(pos, exitTestSnapshot(-50), nil, exitNow())
	if d.ExitType != ExitThetaDecay {
		t.Fatalf("expected THETA_DECAY, got %s", d.ExitType)
	}
	if d.Urgency != SeverityHigh {
		t.Errorf("theta decay urgency = %s, want HIGH", d.Urgency)
	}

	// Same burn rate while profitable stays open.
	d = em.Evaluate(pos, exitTestSnapshot(50), nil, exitNow())
	if d.ShouldExit {
		t.Errorf("profitable position should ride out theta: %s", d.Rationale)
	}
}

func TestIVCrushExit(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	snap := exitTestSnapshot(100)
	snap.IV = 0.30 // 40% drop from entry 0.50
	d := em.Evaluate(exitTestPosition(), snap, nil, exitNow())
	if d.ExitType != ExitIVCrush {
		t.Fatalf("expected IV_CRUSH, got %s", d.ExitType)
	}

	// Unknown entry IV never triggers the crush condition.
	pos := exitTestPosition()
	pos.EntryIV = 0
	d = em.Evaluate(pos, snap, nil, exitNow())
	if d.ShouldExit {
		t.Errorf("zero entry IV must not trigger crush: %s", d.Rationale)
	}
}

func TestEODExit(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	// 15:45 Eastern on a weekday: 15 minutes to the close.
	lateDay := time.Date(2025, 6, 3, 15, 45, 0, 0, easternTime)
	d := em.Evaluate(exitTestPosition(), exitTestSnapshot(0), nil, lateDay)
	if d.ExitType != ExitEOD {
		t.Fatalf("expected EOD_EXIT near the close, got %s", d.ExitType)
	}

	// Same wall-clock time on a Saturday: market closed, no trigger.
	weekend := time.Date(2025, 6, 7, 15, 45, 0, 0, easternTime)
	d = em.Evaluate(exitTestPosition(), exitTestSnapshot(0), nil, weekend)
	if d.ShouldExit {
		t.Errorf("closed market should not trigger EOD: %s", d.Rationale)
	}
}

func TestOscillatorReversalExit(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	against := &interfaces.MarketCondition{
		OscillatorPhase: interfaces.PhaseExtremeReversal,
		Bias:            "bearish",
	}
	d := em.Evaluate(exitTestPosition(), exitTestSnapshot(0), against, exitNow())
	if d.ExitType != ExitOscillatorReversal {
		t.Fatalf("expected OSCILLATOR_REVERSAL, got %s", d.ExitType)
	}
	if d.CloseFraction != 0.5 || d.Urgency != SeverityLow {
		t.Errorf("reversal policy = %g/%s, want 0.5/LOW", d.CloseFraction, d.Urgency)
	}

	// A reversal in the position's own direction is not an exit.
	with := &interfaces.MarketCondition{
		OscillatorPhase: interfaces.PhaseExtremeReversal,
		Bias:            "bullish",
	}
	d = em.Evaluate(exitTestPosition(), exitTestSnapshot(0), with, exitNow())
	if d.ShouldExit {
		t.Errorf("aligned reversal should not exit: %s", d.Rationale)
	}
}

func TestPriorityResolution(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())

	// Fire DTE, EOD and theta decay simultaneously; DTE ranks highest.
	pos := exitTestPosition()
	pos.EntryGreeks.Theta = -1.5
	snap := exitTestSnapshot(-50)
	snap.DTE = 2
	lateDay := time.Date(2025, 6, 3, 15, 45, 0, 0, easternTime)

	d := em.Evaluate(pos, snap, nil, lateDay)
	if d.ExitType != ExitDTE {
		t.Fatalf("expected DTE_EXIT to outrank EOD and theta, got %s", d.ExitType)
	}
	if len(d.Conditions) != 3 {
		t.Errorf("expected 3 fired conditions, got %d", len(d.Conditions))
	}
}

func TestBuildExecutionPlan(t *testing.T) {
	em := NewExitManager(DefaultExitManagerConfig())
	quote := &interfaces.OptionsQuote{Bid: 11.8, Ask: 12.2}

	pos := exitTestPosition()
	pos.Contracts = 10
	pos.RemainingContracts = 10

	// Target 1 closes half the original size at a limit on the mid.
	pt1 := &ExitDecision{ShouldExit: true, ExitType: ExitProfitTarget1, CloseFraction: 0.50, Urgency: SeverityMedium}
	plan := em.BuildExecutionPlan(pos, pt1, quote)
	if plan.ContractsToClose != 5 {
		t.Errorf("target 1 contracts = %d, want 5", plan.ContractsToClose)
	}
	if plan.OrderType != "limit" || plan.EstimatedFillPrice != 12.0 {
		t.Errorf("target 1 plan = %s@%g, want limit@12", plan.OrderType, plan.EstimatedFillPrice)
	}

	// Target 2 closes 60% of what remains.
	pos.RemainingContracts = 5
	pt2 := &ExitDecision{ShouldExit: true, ExitType: ExitProfitTarget2, CloseFraction: 0.60, Urgency: SeverityMedium}
	plan = em.BuildExecutionPlan(pos, pt2, quote)
	if plan.ContractsToClose != 3 {
		t.Errorf("target 2 contracts = %d, want ceil(0.6*5)=3", plan.ContractsToClose)
	}

	// Target 1 sized off the original count still clamps to what remains.
	pos.RemainingContracts = 4
	plan = em.BuildExecutionPlan(pos, pt1, quote)
	if plan.ContractsToClose != 4 {
		t.Errorf("clamped contracts = %d, want 4", plan.ContractsToClose)
	}

	// IMMEDIATE urgency goes out as a market order with modeled slippage.
	stop := &ExitDecision{ShouldExit: true, ExitType: ExitStopLoss, CloseFraction: 1.0, Urgency: SeverityImmediate}
	plan = em.BuildExecutionPlan(pos, stop, quote)
	if plan.OrderType != "market" {
		t.Errorf("stop loss order type = %s, want market", plan.OrderType)
	}
	if want := 12.0 * 0.98; plan.EstimatedFillPrice != want {
		t.Errorf("stop loss fill = %g, want %g", plan.EstimatedFillPrice, want)
	}

	if em.BuildExecutionPlan(pos, &ExitDecision{}, quote) != nil {
		t.Error("non-exit decision should produce no plan")
	}
}
