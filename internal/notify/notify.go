package notify

import (
	"context"
	"errors"
	"fmt"

	"transfit/internal/config"
	"transfit/internal/domain"
	"transfit/internal/logging"
	"transfit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Title returns the user-facing heading for a notification kind.
func Title(kind models.NotificationKind) string {
	switch kind {
	case models.NotifySyncFailing:
		return "Sync is having trouble"
	case models.NotifyManualSyncFailed:
		return "Sync failed"
	default:
		return "Sync"
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, kind models.NotificationKind, message string) error {
	n.logger.Warn().
		Str("kind", string(kind)).
		Str("title", Title(kind)).
		Msg(message)
	return nil
}

// TelegramNotifier sends notifications to one chat.
type TelegramNotifier struct {
	bot    domain.TelegramSender
	chatID int64
}

func NewTelegramNotifier(bot domain.TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, kind models.NotificationKind, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("*%s*\n%s", Title(kind), tgbotapi.EscapeText(tgbotapi.ModeMarkdown, message)))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, kind models.NotificationKind, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, kind, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
