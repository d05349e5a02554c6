// Package alert forwards notable agent events to parents over Telegram.
// Alerts are best-effort: a failed send is logged and never interrupts
// the monitoring loop.
package alert

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends agent events to a configured parent chat
type TelegramNotifier struct {
	api        *tgbotapi.BotAPI
	chatID     int64
	deviceName string
	logger     *slog.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and chat
func NewTelegramNotifier(token string, chatID int64, deviceName string, logger *slog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return &TelegramNotifier{
		api:        api,
		chatID:     chatID,
		deviceName: deviceName,
		logger:     logger.With("component", "alert"),
	}, nil
}

// DeviceLocked notifies the parent that the daily limit was reached
func (n *TelegramNotifier) DeviceLocked(usedMinutes float64, limitMinutes int) {
	n.send(FormatDeviceLocked(n.deviceName, usedMinutes, limitMinutes))
}

// WentOffline notifies the parent that the device lost backend connectivity
func (n *TelegramNotifier) WentOffline() {
	n.send(FormatWentOffline(n.deviceName))
}

// BackOnline notifies the parent that connectivity was restored
func (n *TelegramNotifier) BackOnline() {
	n.send(FormatBackOnline(n.deviceName))
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Failed to send alert",
			"chat_id", n.chatID,
			"error", err,
		)
	}
}

// FormatDeviceLocked formats the limit-reached alert message
func FormatDeviceLocked(deviceName string, usedMinutes float64, limitMinutes int) string {
	return fmt.Sprintf("🔒 *%s locked*\nDaily limit reached: %.0f of %d minutes used.",
		deviceName, usedMinutes, limitMinutes)
}

// FormatWentOffline formats the offline-transition alert message
func FormatWentOffline(deviceName string) string {
	return fmt.Sprintf("⚠️ *%s went offline*\nTime keeps counting locally and will sync when the connection returns.", deviceName)
}

// FormatBackOnline formats the reconnected alert message
func FormatBackOnline(deviceName string) string {
	return fmt.Sprintf("✅ *%s is back online*\nOffline usage has been synced.", deviceName)
}
