package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"delta-trader/config"
	"delta-trader/controllers"
	"delta-trader/database"
	"delta-trader/interfaces"
	"delta-trader/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := config.Load()

	storage, err := database.NewLocalStorage(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer storage.Close()

	marketData := services.NewAlpacaMarketDataService(cfg.AlpacaAPIKey, cfg.AlpacaSecretKey)

	sizerConfig := services.DefaultPositionSizerConfig()
	sizerConfig.BaseRiskPercent = cfg.BaseRiskPercent
	sizerConfig.MaxPositionPercent = cfg.MaxPositionPercent
	sizerConfig.SkipOnCompression = cfg.SkipOnCompression

	expirationSelector := services.NewExpirationSelector()
	strikeSelector := services.NewStrikeSelector()
	sizer := services.NewPositionSizer(sizerConfig)
	exitConfig := services.DefaultExitManagerConfig()
	exitConfig.StopLossPercent = cfg.StopLossPercent
	exitConfig.DTEThreshold = cfg.DTEExitThreshold
	exitManager := services.NewExitManager(exitConfig)

	conditionService := services.NewMarketConditionService()

	monitorConfig := services.DefaultPositionMonitorConfig()
	monitorConfig.RefreshInterval = cfg.MonitorInterval
	monitor := services.NewPositionMonitor(marketData, exitManager, storage, monitorConfig)

	if cfg.ConditionSymbol != "" {
		symbol := cfg.ConditionSymbol
		monitor.SetConditionFeed(func() *interfaces.MarketCondition {
			bars, err := marketData.GetRecentBars(context.Background(), symbol, 30)
			if err != nil {
				logger.WithError(err).WithField("symbol", symbol).Warn("Condition feed fetch failed")
				return nil
			}
			condition, err := conditionService.Classify(bars, 0)
			if err != nil {
				logger.WithError(err).Warn("Condition classification failed")
				return nil
			}
			return condition
		})
		logger.WithField("symbol", symbol).Info("Live market condition feed enabled")
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := services.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.WithError(err).Error("Telegram notifier disabled")
		} else {
			monitor.OnAlert(notifier.HandleAlert)
			logger.Info("Telegram alert notifier enabled")
		}
	}

	entryController := controllers.NewEntryController(marketData, expirationSelector, strikeSelector, sizer)
	positionController := controllers.NewPositionController(monitor)
	marketController := controllers.NewMarketController(marketData, conditionService)

	router := gin.Default()
	api := router.Group("/api/v1")
	{
		api.POST("/entry/select", entryController.HandleSelectEntry)
		api.POST("/entry/spread", entryController.HandleSelectSpread)

		api.POST("/positions", positionController.HandleStartMonitoring)
		api.GET("/positions", positionController.HandleListPositions)
		api.GET("/positions/:id", positionController.HandleGetPosition)
		api.GET("/positions/:id/snapshot", positionController.HandleGetSnapshot)
		api.POST("/positions/:id/refresh", positionController.HandleRefreshPosition)
		api.DELETE("/positions/:id", positionController.HandleClosePosition)

		api.GET("/portfolio/risk", positionController.HandlePortfolioRisk)
		api.GET("/market/condition", marketController.HandleGetCondition)
	}

	go func() {
		if err := router.Run(":" + cfg.Port); err != nil {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	logger.WithField("port", cfg.Port).Info("Lifecycle engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	monitor.StopAll()
}
