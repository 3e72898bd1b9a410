package controllers

import (
	"errors"
	"net/http"

	"delta-trader/interfaces"
	"delta-trader/services"

	"github.com/gin-gonic/gin"
)

// EntryController runs the entry pipeline: expiration selection, strike
// selection, then sizing. The caller submits the result as a brokerage
// order and registers the position on fill confirmation.
type EntryController struct {
	data        interfaces.OptionsDataService
	expirations *services.ExpirationSelector
	strikes     *services.StrikeSelector
	sizer       *services.PositionSizer
}

// NewEntryController creates a new entry controller.
func NewEntryController(data interfaces.OptionsDataService, expirations *services.ExpirationSelector, strikes *services.StrikeSelector, sizer *services.PositionSizer) *EntryController {
	return &EntryController{
		data:        data,
		expirations: expirations,
		strikes:     strikes,
		sizer:       sizer,
	}
}

// EntrySelectRequest is the single-leg entry request.
type EntrySelectRequest struct {
	Underlying         string                     `json:"underlying" binding:"required"`
	AccountSize        float64                    `json:"account_size" binding:"required,gt=0"`
	TargetDelta        float64                    `json:"target_delta" binding:"required"`
	OptionKind         string                     `json:"option_kind" binding:"required,oneof=call put"`
	Condition          interfaces.MarketCondition `json:"condition" binding:"required"`
	MaxLossPerContract *float64                   `json:"max_loss_per_contract,omitempty"`
}

// SpreadSelectRequest is the two-leg entry request.
type SpreadSelectRequest struct {
	Underlying  string                     `json:"underlying" binding:"required"`
	AccountSize float64                    `json:"account_size" binding:"required,gt=0"`
	LongDelta   float64                    `json:"long_delta" binding:"required"`
	ShortDelta  float64                    `json:"short_delta" binding:"required"`
	OptionKind  string                     `json:"option_kind" binding:"required,oneof=call put"`
	Condition   interfaces.MarketCondition `json:"condition" binding:"required"`
}

// HandleSelectEntry runs the single-leg entry pipeline.
// POST /api/v1/entry/select
func (ec *EntryController) HandleSelectEntry(c *gin.Context) {
	var req EntrySelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	chain, err := ec.data.GetOptionChain(c.Request.Context(), req.Underlying)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to fetch option chain",
			"details": err.Error(),
		})
		return
	}
	if req.Condition.IVRank > 0 {
		chain.IVRank = req.Condition.IVRank
	}

	expSel, err := ec.expirations.Select(chain.Expirations, req.Condition.SignalQuality, req.Condition.OscillatorPhase, chain.IVRank)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	strikeSel, err := ec.strikes.SelectStrike(chain, req.TargetDelta, req.OptionKind, expSel.Expiration, &req.Condition)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	if err := services.ValidateSelection(strikeSel); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Selection rejected",
			"details": err.Error(),
		})
		return
	}

	size, err := ec.sizer.Size(req.AccountSize, strikeSel.Premium, req.Condition.SignalQuality, req.Condition.OscillatorPhase, req.MaxLossPerContract)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"expiration": expSel,
		"selection":  strikeSel,
		"size":       size,
	})
}

// HandleSelectSpread runs the two-leg entry pipeline.
// POST /api/v1/entry/spread
func (ec *EntryController) HandleSelectSpread(c *gin.Context) {
	var req SpreadSelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	chain, err := ec.data.GetOptionChain(c.Request.Context(), req.Underlying)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to fetch option chain",
			"details": err.Error(),
		})
		return
	}
	if req.Condition.IVRank > 0 {
		chain.IVRank = req.Condition.IVRank
	}

	expSel, err := ec.expirations.Select(chain.Expirations, req.Condition.SignalQuality, req.Condition.OscillatorPhase, chain.IVRank)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	spread, err := ec.strikes.SelectSpread(chain, req.LongDelta, req.ShortDelta, req.OptionKind, expSel.Expiration, &req.Condition)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	maxLoss := spread.MaxRisk
	size, err := ec.sizer.Size(req.AccountSize, spread.NetPremium, req.Condition.SignalQuality, req.Condition.OscillatorPhase, &maxLoss)
	if err != nil {
		respondSelectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"expiration": expSel,
		"spread":     spread,
		"size":       size,
	})
}

// respondSelectionError maps engine errors to HTTP statuses.
func respondSelectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
	case errors.Is(err, services.ErrNoExpirationsAvailable),
		errors.Is(err, services.ErrNoContractsAvailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "No data", "details": err.Error()})
	case errors.Is(err, services.ErrInvalidSpreadStructure):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid spread", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Selection failed", "details": err.Error()})
	}
}
