package services

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

// TelegramNotifier forwards HIGH and IMMEDIATE severity alerts to a
// Telegram chat. It is a plain alert subscriber; delivery failures are
// logged and never propagate.
type TelegramNotifier struct {
	bot    *tele.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and
// chat.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// HandleAlert implements AlertCallback. Only HIGH and IMMEDIATE alerts
// reach the chat; the rest stay in the logs.
func (n *TelegramNotifier) HandleAlert(alert *Alert) {
	if alert.Severity != SeverityHigh && alert.Severity != SeverityImmediate {
		return
	}

	msg := fmt.Sprintf("⚠️ [%s] %s\nposition: %s\n%s",
		alert.Severity, alert.AlertType, alert.PositionID, alert.Message)

	if _, err := n.bot.Send(tele.ChatID(n.chatID), msg); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"position_id": alert.PositionID,
			"alert_type":  alert.AlertType,
		}).Error("Failed to deliver telegram alert")
	}
}
