// Package notify delivers staff notifications and user reminders over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"beautybot/internal/metrics"
	"beautybot/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender is the part of the Telegram client used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type ManagerStore interface {
	ListManagersFor(ctx context.Context, kind model.NotificationType) ([]model.Manager, error)
}

type Config struct {
	// RatePerSecond paces outgoing messages; Telegram allows about 30 per second.
	RatePerSecond float64
	Burst         int
}

// Notifier fans messages out to managers one send at a time.
type Notifier struct {
	sender  Sender
	store   ManagerStore
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(sender Sender, store ManagerStore, cfg Config, logger *zerolog.Logger) *Notifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Notifier{
		sender:  sender,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Notify sends text to every active manager subscribed to kind and returns how
// many received it. A failed recipient is logged and skipped.
func (n *Notifier) Notify(ctx context.Context, kind model.NotificationType, text string) int {
	managers, err := n.store.ListManagersFor(ctx, kind)
	if err != nil {
		n.logger.Error().Err(err).Str("type", string(kind)).Msg("list managers")
		metrics.IncNotification(string(kind), "error")
		return 0
	}

	sent := 0
	for _, m := range managers {
		if err := n.Send(ctx, m.ChatID, text); err != nil {
			if ctx.Err() != nil {
				n.logger.Warn().Err(err).Str("type", string(kind)).Msg("notification fan-out interrupted")
				break
			}
			n.logger.Warn().Err(err).Int64("chat_id", m.ChatID).Str("type", string(kind)).Msg("notify manager")
			metrics.IncNotification(string(kind), "failed")
			continue
		}
		metrics.IncNotification(string(kind), "sent")
		sent++
	}
	return sent
}

// Send delivers one message, waiting once when Telegram asks to retry later.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	_, err := n.sender.Send(msg)

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == http.StatusTooManyRequests && tgErr.RetryAfter > 0 {
		n.logger.Info().Int("retry_after", tgErr.RetryAfter).Int64("chat_id", chatID).Msg("rate limited by Telegram, waiting")
		select {
		case <-time.After(time.Duration(tgErr.RetryAfter) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err = n.sender.Send(msg)
	}
	return err
}
