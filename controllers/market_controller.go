package controllers

import (
	"context"
	"net/http"
	"strconv"

	"delta-trader/interfaces"
	"delta-trader/services"

	"github.com/gin-gonic/gin"
)

// BarProvider supplies trailing daily bars for classification.
type BarProvider interface {
	GetRecentBars(ctx context.Context, symbol string, days int) ([]*interfaces.Bar, error)
}

// MarketController exposes the oscillator classification over HTTP so
// callers can inspect the condition the engine would act on.
type MarketController struct {
	bars       BarProvider
	classifier *services.MarketConditionService
}

// NewMarketController creates a new market controller.
func NewMarketController(bars BarProvider, classifier *services.MarketConditionService) *MarketController {
	return &MarketController{bars: bars, classifier: classifier}
}

// HandleGetCondition classifies the current market condition for a symbol.
// GET /api/v1/market/condition?symbol=SPY&iv_rank=55
func (mc *MarketController) HandleGetCondition(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "symbol query parameter is required",
		})
		return
	}

	ivRank := 0.0
	if v := c.Query("iv_rank"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid iv_rank",
				"details": err.Error(),
			})
			return
		}
		ivRank = parsed
	}

	bars, err := mc.bars.GetRecentBars(c.Request.Context(), symbol, 30)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to fetch bars",
			"details": err.Error(),
		})
		return
	}

	condition, err := mc.classifier.Classify(bars, ivRank)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Classification failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"condition": condition,
	})
}
