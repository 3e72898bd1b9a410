package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries everything main needs to wire the engine.
type Config struct {
	Port            string
	DBPath          string
	AlpacaAPIKey    string
	AlpacaSecretKey string

	TelegramToken  string
	TelegramChatID int64

	MonitorInterval time.Duration
	ConditionSymbol string // underlying driving the live condition feed; empty disables it

	BaseRiskPercent    float64
	MaxPositionPercent float64
	SkipOnCompression  bool

	StopLossPercent  float64
	DTEExitThreshold int
}

// Load reads configuration from the environment, with a .env file as
// fallback.
func Load() *Config {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := godotenv.Load(); err != nil {
		logger.Warn(".env file not found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/positions.db"
	}

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)

	interval := 30 * time.Second
	if v := os.Getenv("MONITOR_INTERVAL_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			interval = time.Duration(seconds) * time.Second
		}
	}

	return &Config{
		Port:               port,
		DBPath:             dbPath,
		AlpacaAPIKey:       os.Getenv("ALPACA_API_KEY"),
		AlpacaSecretKey:    os.Getenv("ALPACA_SECRET_KEY"),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     chatID,
		MonitorInterval:    interval,
		ConditionSymbol:    os.Getenv("MARKET_CONDITION_SYMBOL"),
		BaseRiskPercent:    envFloat("BASE_RISK_PERCENT", 0.02),
		MaxPositionPercent: envFloat("MAX_POSITION_PERCENT", 0.05),
		SkipOnCompression:  os.Getenv("SKIP_ON_COMPRESSION") == "true",
		StopLossPercent:    envFloat("STOP_LOSS_PERCENT", 0.90),
		DTEExitThreshold:   envInt("DTE_EXIT_THRESHOLD", 3),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
