package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bridgesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func startNotifier(t *testing.T, sender *mockTelegramSender) (*TelegramNotifier, chan string) {
	t.Helper()
	sent := make(chan string, 16)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42
	})).Run(func(args mock.Arguments) {
		sent <- args.Get(0).(tgbotapi.MessageConfig).Text
	}).Return(tgbotapi.Message{}, nil)

	n := NewTelegramNotifier(sender, 42, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return n, sent
}

func receive(t *testing.T, sent chan string) string {
	t.Helper()
	select {
	case text := <-sent:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("expected a telegram message")
		return ""
	}
}

func TestTelegramNotifier_AlertsOncePerError(t *testing.T) {
	sender := new(mockTelegramSender)
	n, sent := startNotifier(t, sender)

	failure := models.NewSyncError(models.ErrorKindRemote, errors.New("explorer returned 500"))
	n.Observe("btc-1", models.SyncState{Pending: true})
	n.Observe("btc-1", models.SyncState{Error: failure})
	n.Observe("btc-1", models.SyncState{Pending: true})
	n.Observe("btc-1", models.SyncState{Error: failure})

	text := receive(t, sent)
	assert.Contains(t, text, "btc-1")
	assert.Contains(t, text, "Remote")

	n.Observe("btc-1", models.SyncState{})
	assert.True(t, strings.Contains(receive(t, sent), "synchronizes again"))

	select {
	case extra := <-sent:
		t.Fatalf("unexpected message %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelegramNotifier_IgnoresNetworkDown(t *testing.T) {
	sender := new(mockTelegramSender)
	n, sent := startNotifier(t, sender)

	n.Observe("btc-1", models.SyncState{Error: models.NewSyncError(models.ErrorKindNetworkDown, models.ErrNetworkDown)})
	n.Observe("btc-1", models.SyncState{})

	select {
	case text := <-sent:
		t.Fatalf("unexpected message %q", text)
	case <-time.After(50 * time.Millisecond):
	}
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestTelegramNotifier_SendFailureIsLogged(t *testing.T) {
	sender := new(mockTelegramSender)
	attempted := make(chan struct{}, 1)
	sender.On("Send", mock.Anything).Run(func(mock.Arguments) {
		attempted <- struct{}{}
	}).Return(tgbotapi.Message{}, errors.New("telegram unavailable"))

	n := NewTelegramNotifier(sender, 42, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Observe("eth-1", models.SyncState{Error: errors.New("boom")})
	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a send attempt")
	}
	sender.AssertNumberOfCalls(t, "Send", 1)
}
