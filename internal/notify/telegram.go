// Package notify alerts operators about accounts that keep failing to sync.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const queueSize = 64

// TelegramNotifier turns sync state transitions into chat messages. It alerts
// once when an account enters an error state and once when it recovers.
// Network outages are not reported.
type TelegramNotifier struct {
	sender  domain.TelegramSender
	chatID  int64
	limiter *rate.Limiter
	queue   chan string

	mu      sync.Mutex
	failing map[string]string

	logger zerolog.Logger
}

func NewTelegramNotifier(sender domain.TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_notifier").Logger()
	}
	return &TelegramNotifier{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		queue:   make(chan string, queueSize),
		failing: make(map[string]string),
		logger:  l,
	}
}

// Observe matches the sync state observer signature.
func (n *TelegramNotifier) Observe(accountID string, state models.SyncState) {
	if state.Pending {
		return
	}

	n.mu.Lock()
	prev, wasFailing := n.failing[accountID]
	var text string
	switch {
	case state.Error == nil:
		if wasFailing {
			delete(n.failing, accountID)
			text = fmt.Sprintf("✅ Account %s synchronizes again", accountID)
		}
	case models.IsNetworkDown(state.Error):
	default:
		msg := state.Error.Error()
		if msg != prev {
			n.failing[accountID] = msg
			text = fmt.Sprintf("⚠️ Account %s failed to sync\nKind: %s\nError: %s",
				accountID, models.KindOf(state.Error), msg)
		}
	}
	n.mu.Unlock()

	if text != "" {
		n.enqueue(accountID, text)
	}
}

func (n *TelegramNotifier) enqueue(accountID, text string) {
	select {
	case n.queue <- text:
	default:
		n.logger.Warn().Str("account_id", accountID).Msg("notification queue full, alert dropped")
	}
}

// Run delivers queued alerts until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := n.sender.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
				n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("failed to send alert")
			}
		}
	}
}
