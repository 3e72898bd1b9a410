package controllers

import (
	"errors"
	"net/http"
	"time"

	"delta-trader/interfaces"
	"delta-trader/services"

	"github.com/gin-gonic/gin"
)

// PositionController exposes the monitor lifecycle over HTTP.
type PositionController struct {
	monitor *services.PositionMonitor
}

// NewPositionController creates a new position controller.
func NewPositionController(monitor *services.PositionMonitor) *PositionController {
	return &PositionController{monitor: monitor}
}

// StartMonitoringRequest registers a filled position for monitoring.
type StartMonitoringRequest struct {
	UnderlyingSymbol     string                      `json:"underlying_symbol" binding:"required"`
	ContractSymbol       string                      `json:"contract_symbol" binding:"required"`
	Strategy             services.StrategyDescriptor `json:"strategy"`
	EntryPrice           float64                     `json:"entry_price" binding:"required,gt=0"`
	EntryUnderlyingPrice float64                     `json:"entry_underlying_price" binding:"required,gt=0"`
	Contracts            int                         `json:"contracts" binding:"required,gt=0"`
	EntryGreeks          interfaces.Greeks           `json:"entry_greeks"`
	EntryIV              float64                     `json:"entry_iv"`
	Strike               float64                     `json:"strike" binding:"required,gt=0"`
	Expiration           time.Time                   `json:"expiration" binding:"required"`
	OptionType           string                      `json:"option_type" binding:"required,oneof=call put"`
	MaxRisk              float64                     `json:"max_risk"`
	MaxProfit            *float64                    `json:"max_profit,omitempty"`
	Breakeven            float64                     `json:"breakeven"`
	OrderID              string                      `json:"order_id,omitempty"`
}

// HandleStartMonitoring registers a position after fill confirmation.
// POST /api/v1/positions
func (pc *PositionController) HandleStartMonitoring(c *gin.Context) {
	var req StartMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	position := &services.Position{
		UnderlyingSymbol:     req.UnderlyingSymbol,
		ContractSymbol:       req.ContractSymbol,
		Strategy:             req.Strategy,
		EntryDate:            time.Now(),
		EntryPrice:           req.EntryPrice,
		EntryUnderlyingPrice: req.EntryUnderlyingPrice,
		Contracts:            req.Contracts,
		EntryGreeks:          req.EntryGreeks,
		EntryIV:              req.EntryIV,
		Strike:               req.Strike,
		Expiration:           req.Expiration,
		OptionType:           req.OptionType,
		MaxRisk:              req.MaxRisk,
		MaxProfit:            req.MaxProfit,
		Breakeven:            req.Breakeven,
		OrderID:              req.OrderID,
	}

	pc.monitor.StartMonitoring(position)

	c.JSON(http.StatusOK, gin.H{
		"message":  "Monitoring started",
		"position": position,
	})
}

// HandleListPositions lists all monitored positions.
// GET /api/v1/positions
func (pc *PositionController) HandleListPositions(c *gin.Context) {
	positions := pc.monitor.ListPositions()

	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

// HandleGetPosition retrieves one monitored position.
// GET /api/v1/positions/:id
func (pc *PositionController) HandleGetPosition(c *gin.Context) {
	position, err := pc.monitor.GetPosition(c.Param("id"))
	if err != nil {
		pc.respondLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, position)
}

// HandleGetSnapshot retrieves the latest snapshot for a position.
// GET /api/v1/positions/:id/snapshot
func (pc *PositionController) HandleGetSnapshot(c *gin.Context) {
	snapshot, err := pc.monitor.GetCurrentSnapshot(c.Param("id"))
	if err != nil {
		pc.respondLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// HandleRefreshPosition forces one refresh cycle immediately.
// POST /api/v1/positions/:id/refresh
func (pc *PositionController) HandleRefreshPosition(c *gin.Context) {
	update, err := pc.monitor.UpdatePosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrPositionNotFound) {
			pc.respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Refresh failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, update)
}

// CloseRequest controls a manual close.
type CloseRequest struct {
	ContractsClosed int `json:"contracts_closed"` // 0 closes everything
}

// HandleClosePosition marks a position (partially) closed.
// DELETE /api/v1/positions/:id
func (pc *PositionController) HandleClosePosition(c *gin.Context) {
	var req CloseRequest
	// Body is optional; an empty body closes the full position.
	_ = c.ShouldBindJSON(&req)

	if err := pc.monitor.ClosePosition(c.Param("id"), req.ContractsClosed, services.StatusClosed); err != nil {
		pc.respondLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Position closed",
	})
}

// HandlePortfolioRisk returns aggregated risk across open positions.
// GET /api/v1/portfolio/risk
func (pc *PositionController) HandlePortfolioRisk(c *gin.Context) {
	c.JSON(http.StatusOK, pc.monitor.PortfolioRisk())
}

func (pc *PositionController) respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrPositionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Position not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Lookup failed",
		"details": err.Error(),
	})
}
