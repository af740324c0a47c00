// Package telegram implements the session transport on the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

const pollTimeout = 30 // seconds, long polling

// Config describes how to reach the Bot API.
type Config struct {
	Token    string
	Endpoint string // defaults to tgbotapi.APIEndpoint
	// Client carries long polling; its Transport is shared by sends.
	Client *http.Client
	// SendTimeout bounds one sendMessage call.
	SendTimeout time.Duration
}

// Factory returns a session.Factory for the Bot API.
func Factory(cfg Config, log *zap.Logger) session.Factory {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * pollTimeout * time.Second}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	log = log.Named("telegram")
	return func() (session.Transport, error) {
		return &Transport{cfg: cfg, log: log}, nil
	}
}

// Transport is a single long-polling Bot API session.
type Transport struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	healthy bool
	stopped bool
	cancel  context.CancelFunc
}

var _ session.Transport = (*Transport)(nil)

// Connect authenticates the token and starts polling for updates.
// The bot token is the identity, so the session is ready immediately.
func (t *Transport) Connect(ctx context.Context, sink session.Sink) error {
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.Endpoint, t.cfg.Client)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}
	bot.Debug = false

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.bot = bot
	t.healthy = true
	t.cancel = cancel
	t.mu.Unlock()

	t.log.Info("authorized", zap.String("account", bot.Self.UserName))
	sink(session.Event{Kind: session.EventReady})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(u)
	go t.poll(ctx, updates, sink)
	return nil
}

func (t *Transport) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, sink session.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				t.mu.Lock()
				t.healthy = false
				stopped := t.stopped
				t.mu.Unlock()
				if !stopped {
					sink(session.Event{Kind: session.EventDisconnected, Reason: "update stream closed"})
				}
				return
			}
			if msg := inbound(upd); msg != nil {
				sink(session.Event{Kind: session.EventMessage, Message: msg})
			}
		}
	}
}

// inbound extracts a text message from an update; other updates yield nil.
func inbound(upd tgbotapi.Update) *domain.InboundMessage {
	m := upd.Message
	if m == nil || m.Text == "" || m.Chat == nil {
		return nil
	}
	sender := m.Chat.ID
	name := m.Chat.FirstName
	if m.From != nil {
		sender = m.From.ID
		name = m.From.FirstName
	}
	return &domain.InboundMessage{
		Chat:       strconv.FormatInt(m.Chat.ID, 10),
		Sender:     strconv.FormatInt(sender, 10),
		PushName:   name,
		Text:       m.Text,
		ReceivedAt: m.Time().UTC(),
	}
}

// Send posts a text message to a chat id.
func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", recipient, err)
	}
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("bot not started: %w", domain.ErrSessionCorrupted)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// tgbotapi builds requests without a context; bind ctx per call on a
	// copy so polling keeps its own client.
	sender := *bot
	sender.Client = ctxClient{
		ctx: ctx,
		c:   &http.Client{Transport: t.cfg.Client.Transport, Timeout: t.cfg.SendTimeout},
	}
	_, err = sender.Send(tgbotapi.NewMessage(chatID, text))
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", domain.ErrSessionCorrupted, err)
	}
	return err
}

type ctxClient struct {
	ctx context.Context
	c   *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.c.Do(req.WithContext(c.ctx))
}

// Logout stops polling. Bot credentials are configuration, so nothing is
// stored locally to delete.
func (t *Transport) Logout(context.Context) error {
	t.Destroy()
	return nil
}

// Destroy stops the update loop.
func (t *Transport) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.healthy = false
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

// Healthy reports whether the bot is authorized and polling.
func (t *Transport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

// Identity returns the bot's username.
func (t *Transport) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot == nil {
		return ""
	}
	return "@" + t.bot.Self.UserName
}
