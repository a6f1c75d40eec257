// Package notify announces publish outcomes to a Telegram chat.
//
// Optional: the daemon is fully functional without it. Sends are queued and
// delivered by one worker so a slow Telegram API never blocks the posting
// tick.
package notify

import (
	"context"
	"fmt"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

// Notifier implements publisher.Events over a Telegram bot.
type Notifier struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger

	queue chan string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	return &Notifier{
		bot:   bot,
		chat:  &tele.Chat{ID: cfg.ChatID},
		log:   log,
		queue: make(chan string, 64),
	}, nil
}

// Start launches the delivery worker. Starting twice is a no-op.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.worker(ctx)
}

// Stop drains nothing: queued but unsent messages are dropped.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.cancel = nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (n *Notifier) worker(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if _, err := n.bot.Send(n.chat, msg); err != nil {
				n.log.Warn("telegram send failed", logx.Err(err))
			}
		}
	}
}

func (n *Notifier) enqueue(msg string) {
	select {
	case n.queue <- msg:
	default:
		n.log.Debug("notify queue full, dropping message")
	}
}

func (n *Notifier) Published(it media.Item) {
	title := it.Title
	if title == "" {
		title = it.Path
	}
	n.enqueue(fmt.Sprintf("✅ published %q (media id %s)", title, it.MediaID))
}

func (n *Notifier) Failed(it media.Item, err error) {
	title := it.Title
	if title == "" {
		title = it.Path
	}
	n.enqueue(fmt.Sprintf("⚠️ publish failed for %q: %v (will retry on next due tick)", title, err))
}

// Announce posts a free-form status line, e.g. at startup.
func (n *Notifier) Announce(msg string) { n.enqueue(msg) }
