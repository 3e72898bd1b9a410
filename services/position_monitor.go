package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"delta-trader/database"
	"delta-trader/interfaces"
	"delta-trader/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PositionMonitorConfig holds the monitoring knobs.
type PositionMonitorConfig struct {
	RefreshInterval      time.Duration
	DeltaChangeThreshold float64 // absolute delta change that raises an alert
	DTEWarningThreshold  int
	ThetaAlertPercent    float64 // daily theta as fraction of entry value
}

// DefaultPositionMonitorConfig returns the standard monitoring settings.
func DefaultPositionMonitorConfig() PositionMonitorConfig {
	return PositionMonitorConfig{
		RefreshInterval:      30 * time.Second,
		DeltaChangeThreshold: 0.05,
		DTEWarningThreshold:  3,
		ThetaAlertPercent:    0.10,
	}
}

// monitoredPosition pairs a position with its latest snapshot and the
// cancel func for its refresh loop. refreshMu keeps refreshes
// non-reentrant per position.
type monitoredPosition struct {
	position  *Position
	snapshot  *PositionSnapshot
	cancel    context.CancelFunc
	refreshMu sync.Mutex
}

// PositionMonitor owns the registry of open positions. Each position gets
// its own refresh goroutine; a failing refresh never affects another
// position's timer. All mutation of a position's live fields happens
// inside its own refresh cycle.
type PositionMonitor struct {
	data        interfaces.OptionsDataService
	exitManager *ExitManager
	storage     *database.LocalStorage // optional archive, may be nil
	config      PositionMonitorConfig

	positions map[string]*monitoredPosition
	mu        sync.RWMutex

	subscribers []AlertCallback
	subMu       sync.RWMutex

	conditionFeed func() *interfaces.MarketCondition

	logger *logrus.Logger
	now    func() time.Time
}

// NewPositionMonitor creates a position monitor.
func NewPositionMonitor(data interfaces.OptionsDataService, exitManager *ExitManager, storage *database.LocalStorage, config PositionMonitorConfig) *PositionMonitor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PositionMonitor{
		data:        data,
		exitManager: exitManager,
		storage:     storage,
		config:      config,
		positions:   make(map[string]*monitoredPosition),
		logger:      logger,
		now:         time.Now,
	}
}

// SetConditionFeed installs the live market-condition accessor used for
// oscillator-reversal exit evaluation.
func (m *PositionMonitor) SetConditionFeed(feed func() *interfaces.MarketCondition) {
	m.conditionFeed = feed
}

// OnAlert subscribes a callback to monitor alerts.
func (m *PositionMonitor) OnAlert(cb AlertCallback) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, cb)
}

// StartMonitoring registers a position and starts its refresh loop.
func (m *PositionMonitor) StartMonitoring(position *Position) {
	if position.ID == "" {
		position.ID = uuid.NewString()
	}
	if position.RemainingContracts == 0 {
		position.RemainingContracts = position.Contracts
	}
	position.Status = StatusOpen
	position.UpdatedAt = m.now()

	ctx, cancel := context.WithCancel(context.Background())
	mp := &monitoredPosition{
		position: position,
		cancel:   cancel,
	}

	m.mu.Lock()
	m.positions[position.ID] = mp
	m.mu.Unlock()

	go m.refreshLoop(ctx, position.ID)

	m.logger.WithFields(logrus.Fields{
		"position_id": position.ID,
		"symbol":      position.ContractSymbol,
		"contracts":   position.Contracts,
		"entry_price": position.EntryPrice,
	}).Info("Monitoring started")
}

// StopMonitoring cancels a position's refresh loop and discards its
// snapshot. Never blocks.
func (m *PositionMonitor) StopMonitoring(positionID string) {
	m.mu.Lock()
	mp, exists := m.positions[positionID]
	if exists {
		delete(m.positions, positionID)
	}
	m.mu.Unlock()

	if exists {
		mp.cancel()
		m.logger.WithField("position_id", positionID).Info("Monitoring stopped")
	}
}

// StopAll stops every refresh loop; used during shutdown.
func (m *PositionMonitor) StopAll() {
	m.mu.Lock()
	for id, mp := range m.positions {
		mp.cancel()
		delete(m.positions, id)
	}
	m.mu.Unlock()
	m.logger.Info("All monitoring stopped")
}

// refreshLoop drives one position's refresh ticker. Refreshes are
// best-effort: errors are surfaced as alerts and the loop keeps going.
func (m *PositionMonitor) refreshLoop(ctx context.Context, positionID string) {
	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.UpdatePosition(ctx, positionID); err != nil {
				m.logger.WithError(err).WithField("position_id", positionID).Error("Refresh failed")
			}
		}
	}
}

// UpdatePosition runs one refresh cycle: fetch quotes, rebuild the
// snapshot, raise alerts, and feed the snapshot to the exit manager.
// The prior snapshot is left in place on fetch failure.
func (m *PositionMonitor) UpdatePosition(ctx context.Context, positionID string) (*PositionUpdate, error) {
	m.mu.RLock()
	mp, exists := m.positions[positionID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	mp.refreshMu.Lock()
	defer mp.refreshMu.Unlock()

	pos := mp.position
	now := m.now()

	quote, err := m.data.GetContractQuote(ctx, pos.ContractSymbol)
	if err != nil {
		m.raiseAPIError(pos.ID, fmt.Errorf("contract quote: %w", err))
		return nil, err
	}
	underlying, err := m.data.GetUnderlyingQuote(ctx, pos.UnderlyingSymbol)
	if err != nil {
		m.raiseAPIError(pos.ID, fmt.Errorf("underlying quote: %w", err))
		return nil, err
	}

	prev := mp.snapshot
	snapshot := m.computeSnapshot(pos, quote, underlying, now)

	// Live fields are confined to this refresh cycle.
	pos.CurrentPrice = snapshot.OptionPrice
	pos.CurrentGreeks = snapshot.Greeks
	pos.CurrentIV = snapshot.IV
	pos.PnL = snapshot.PnL.Total
	pos.DTE = snapshot.DTE
	if entryValue := pos.EntryValue(); entryValue > 0 {
		pos.PnLPercent = snapshot.PnL.Total / entryValue * 100
	}
	pos.UpdatedAt = now

	m.checkAlerts(pos, prev, snapshot)

	var cond *interfaces.MarketCondition
	if m.conditionFeed != nil {
		cond = m.conditionFeed()
	}

	decision := m.exitManager.Evaluate(pos, snapshot, cond, now)
	if decision.ShouldExit {
		m.exitManager.ApplyDecision(pos, decision, now)
		m.persistEvaluation(pos.ID, decision, now)

		plan := m.exitManager.BuildExecutionPlan(pos, decision, quote)
		m.emitAlert(&Alert{
			PositionID: pos.ID,
			AlertType:  AlertExitSignal,
			Severity:   decision.Urgency,
			Message:    decision.Rationale,
			Timestamp:  now,
			Data: map[string]interface{}{
				"exit_type": decision.ExitType,
				"plan":      plan,
			},
		})
	}

	mp.snapshot = snapshot

	return &PositionUpdate{
		Position: pos,
		Snapshot: snapshot,
		Decision: decision,
	}, nil
}

// GetCurrentSnapshot returns the latest snapshot for a position.
func (m *PositionMonitor) GetCurrentSnapshot(positionID string) (*PositionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, exists := m.positions[positionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if mp.snapshot == nil {
		return nil, fmt.Errorf("no snapshot yet for %s", positionID)
	}
	return mp.snapshot, nil
}

// GetPosition returns a monitored position by ID.
func (m *PositionMonitor) GetPosition(positionID string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, exists := m.positions[positionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	return mp.position, nil
}

// ListPositions returns all monitored positions.
func (m *PositionMonitor) ListPositions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]*Position, 0, len(m.positions))
	for _, mp := range m.positions {
		positions = append(positions, mp.position)
	}
	return positions
}

// PortfolioRisk sums per-position risk metrics across the registry.
// Read-only; tolerates snapshots from slightly different instants.
func (m *PositionMonitor) PortfolioRisk() RiskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total RiskMetrics
	for _, mp := range m.positions {
		if mp.snapshot == nil {
			continue
		}
		total.DeltaExposure += mp.snapshot.Risk.DeltaExposure
		total.GammaRisk += mp.snapshot.Risk.GammaRisk
		total.ThetaDecay += mp.snapshot.Risk.ThetaDecay
		total.VegaRisk += mp.snapshot.Risk.VegaRisk
	}
	total.PortfolioDelta = total.DeltaExposure
	total.PortfolioGamma = total.GammaRisk
	return total
}

// ClosePosition marks a position closed (or expired), archives it, and
// stops its refresh loop. contractsClosed below the remaining count
// records a partial close and keeps monitoring.
func (m *PositionMonitor) ClosePosition(positionID string, contractsClosed int, status string) error {
	m.mu.RLock()
	mp, exists := m.positions[positionID]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	pos := mp.position
	if contractsClosed > 0 && contractsClosed < pos.RemainingContracts {
		pos.RemainingContracts -= contractsClosed
		pos.UpdatedAt = m.now()
		m.logger.WithFields(logrus.Fields{
			"position_id": positionID,
			"closed":      contractsClosed,
			"remaining":   pos.RemainingContracts,
		}).Info("Position partially closed")
		return nil
	}

	pos.RemainingContracts = 0
	pos.Status = status
	pos.UpdatedAt = m.now()

	if m.storage != nil {
		if err := m.storage.ArchivePosition(positionToDB(pos, m.now())); err != nil {
			m.logger.WithError(err).Error("Failed to archive closed position")
		}
	}

	m.StopMonitoring(positionID)

	m.logger.WithFields(logrus.Fields{
		"position_id": positionID,
		"status":      status,
		"pnl":         pos.PnL,
	}).Info("Position closed")

	return nil
}

// computeSnapshot derives the point-in-time view of a position from
// current quotes. Missing Greeks never fail the update.
func (m *PositionMonitor) computeSnapshot(pos *Position, quote *interfaces.OptionsQuote, underlying *interfaces.UnderlyingQuote, now time.Time) *PositionSnapshot {
	price := quote.Last
	if price <= 0 {
		price = quote.Mid()
	}

	var greeks interfaces.Greeks
	if quote.Greeks != nil {
		greeks = *quote.Greeks
	}

	qty := float64(pos.RemainingContracts)
	scale := qty * optionMultiplier

	underMove := underlying.Last - pos.EntryUnderlyingPrice
	daysElapsed := now.Sub(pos.EntryDate).Hours() / 24

	intrinsicPer := math.Max(0, underlying.Last-pos.Strike)
	if pos.OptionType == "put" {
		intrinsicPer = math.Max(0, pos.Strike-underlying.Last)
	}

	total := (price - pos.EntryPrice) * scale
	deltaContrib := underMove * pos.EntryGreeks.Delta * scale
	gammaContrib := 0.5 * pos.EntryGreeks.Gamma * underMove * underMove * scale
	thetaDecay := pos.EntryGreeks.Theta * daysElapsed * scale
	vegaContrib := pos.EntryGreeks.Vega * (greeks.MidIV - pos.EntryIV) * scale

	pnl := PnLCalculation{
		Total:             total,
		Intrinsic:         intrinsicPer * scale,
		TimeValue:         math.Max(0, price-intrinsicPer) * scale,
		DeltaContribution: deltaContrib,
		GammaContribution: gammaContrib,
		ThetaDecay:        thetaDecay,
		VegaContribution:  vegaContrib,
		VolatilityPnL:     total - deltaContrib - gammaContrib - thetaDecay,
	}

	risk := RiskMetrics{
		DeltaExposure:  greeks.Delta * scale,
		GammaRisk:      greeks.Gamma * scale,
		ThetaDecay:     greeks.Theta * scale,
		VegaRisk:       greeks.Vega * scale,
		PortfolioDelta: greeks.Delta * scale,
		PortfolioGamma: greeks.Gamma * scale,
	}

	return &PositionSnapshot{
		PositionID:      pos.ID,
		UnderlyingPrice: underlying.Last,
		OptionPrice:     price,
		Greeks:          greeks,
		IV:              greeks.MidIV,
		DTE:             marketCloseDTE(now, pos.Expiration),
		PnL:             pnl,
		Risk:            risk,
		Timestamp:       now,
	}
}

// checkAlerts compares the new snapshot against the previous one and
// raises the configured significance alerts.
func (m *PositionMonitor) checkAlerts(pos *Position, prev, snap *PositionSnapshot) {
	if prev != nil {
		deltaChange := math.Abs(snap.Greeks.Delta - prev.Greeks.Delta)
		if deltaChange > m.config.DeltaChangeThreshold {
			m.emitAlert(&Alert{
				PositionID: pos.ID,
				AlertType:  AlertDeltaChange,
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("delta moved %.3f -> %.3f", prev.Greeks.Delta, snap.Greeks.Delta),
				Timestamp:  snap.Timestamp,
				Data:       map[string]interface{}{"change": deltaChange},
			})
		}

		if prev.DTE > m.config.DTEWarningThreshold && snap.DTE <= m.config.DTEWarningThreshold {
			m.emitAlert(&Alert{
				PositionID: pos.ID,
				AlertType:  AlertDTEWarning,
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("%d days to expiration", snap.DTE),
				Timestamp:  snap.Timestamp,
				Data:       map[string]interface{}{"dte": snap.DTE},
			})
		}
	}

	entryValue := pos.EntryValue()
	dailyTheta := math.Abs(pos.EntryGreeks.Theta) * float64(pos.Contracts) * optionMultiplier
	if entryValue > 0 && dailyTheta > entryValue*m.config.ThetaAlertPercent && snap.PnL.Total < 0 {
		m.emitAlert(&Alert{
			PositionID: pos.ID,
			AlertType:  AlertThetaDecay,
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("daily theta $%.2f exceeds %.0f%% of entry value with negative P&L", dailyTheta, m.config.ThetaAlertPercent*100),
			Timestamp:  snap.Timestamp,
			Data:       map[string]interface{}{"daily_theta": dailyTheta, "pnl": snap.PnL.Total},
		})
	}
}

func (m *PositionMonitor) raiseAPIError(positionID string, err error) {
	m.emitAlert(&Alert{
		PositionID: positionID,
		AlertType:  AlertAPIError,
		Severity:   SeverityHigh,
		Message:    err.Error(),
		Timestamp:  m.now(),
	})
}

// emitAlert fans the alert out to subscribers. Callback panics are
// contained so they never reach the refresh loop.
func (m *PositionMonitor) emitAlert(alert *Alert) {
	m.logger.WithFields(logrus.Fields{
		"position_id": alert.PositionID,
		"alert_type":  alert.AlertType,
		"severity":    alert.Severity,
	}).Warn(alert.Message)

	if m.storage != nil {
		if err := m.storage.SaveAlert(&models.DBAlert{
			PositionID: alert.PositionID,
			AlertType:  alert.AlertType,
			Severity:   alert.Severity,
			Message:    alert.Message,
			RaisedAt:   alert.Timestamp,
		}); err != nil {
			m.logger.WithError(err).Debug("Failed to persist alert")
		}
	}

	m.subMu.RLock()
	subscribers := make([]AlertCallback, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.subMu.RUnlock()

	for _, cb := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithField("panic", r).Error("Alert subscriber panicked")
				}
			}()
			cb(alert)
		}()
	}
}

func (m *PositionMonitor) persistEvaluation(positionID string, decision *ExitDecision, now time.Time) {
	if m.storage == nil {
		return
	}
	if err := m.storage.SaveExitEvaluation(&models.DBExitEvaluation{
		PositionID:    positionID,
		ExitType:      decision.ExitType,
		CloseFraction: decision.CloseFraction,
		Urgency:       decision.Urgency,
		Rationale:     decision.Rationale,
		EvaluatedAt:   now,
	}); err != nil {
		m.logger.WithError(err).Debug("Failed to persist exit evaluation")
	}
}

// positionToDB converts a position to its archive model.
func positionToDB(pos *Position, now time.Time) *models.DBPosition {
	closedAt := now
	return &models.DBPosition{
		PositionID:           pos.ID,
		UnderlyingSymbol:     pos.UnderlyingSymbol,
		ContractSymbol:       pos.ContractSymbol,
		Direction:            pos.Strategy.Direction,
		VolatilityBias:       pos.Strategy.VolatilityBias,
		RiskProfile:          pos.Strategy.RiskProfile,
		EntryDate:            pos.EntryDate,
		EntryPrice:           pos.EntryPrice,
		EntryUnderlyingPrice: pos.EntryUnderlyingPrice,
		Contracts:            pos.Contracts,
		RemainingContracts:   pos.RemainingContracts,
		EntryDelta:           pos.EntryGreeks.Delta,
		EntryGamma:           pos.EntryGreeks.Gamma,
		EntryTheta:           pos.EntryGreeks.Theta,
		EntryVega:            pos.EntryGreeks.Vega,
		EntryIV:              pos.EntryIV,
		CurrentPrice:         pos.CurrentPrice,
		CurrentIV:            pos.CurrentIV,
		PnL:                  pos.PnL,
		PnLPercent:           pos.PnLPercent,
		Strike:               pos.Strike,
		Expiration:           pos.Expiration,
		OptionType:           pos.OptionType,
		MaxRisk:              pos.MaxRisk,
		MaxProfit:            pos.MaxProfit,
		Breakeven:            pos.Breakeven,
		Target1Hit:           pos.Target1Hit,
		Target2Hit:           pos.Target2Hit,
		Target3Hit:           pos.Target3Hit,
		OrderID:              pos.OrderID,
		Status:               pos.Status,
		ClosedAt:             &closedAt,
	}
}
