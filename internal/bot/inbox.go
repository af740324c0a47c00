package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// Sender delivers replies. session.Manager implements it.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Dispatcher turns one message into a reply. Router implements it.
type Dispatcher interface {
	HandleInbound(ctx context.Context, text string, user *domain.User) (string, error)
}

// UserStore resolves the sender into a stored user.
type UserStore interface {
	EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error)
}

// InboxOptions tunes queueing.
type InboxOptions struct {
	QueueSize       int
	IdleTimeout     time.Duration
	DefaultLanguage string
	DefaultTZ       string
}

// Inbox processes messages in receipt order per sender: one bounded queue
// and one consumer goroutine per sender. Different senders run concurrently.
type Inbox struct {
	log        *zap.Logger
	dispatcher Dispatcher
	users      UserStore
	sender     Sender
	opts       InboxOptions

	mu     sync.Mutex
	queues map[string]chan domain.InboundMessage
	closed bool
	wg     sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc
}

// NewInbox creates an Inbox.
func NewInbox(log *zap.Logger, d Dispatcher, users UserStore, sender Sender, opts InboxOptions) *Inbox {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.DefaultTZ == "" {
		opts.DefaultTZ = "UTC"
	}
	base, cancel := context.WithCancel(context.Background())
	return &Inbox{
		log:        log.Named("inbox"),
		dispatcher: d,
		users:      users,
		sender:     sender,
		opts:       opts,
		queues:     make(map[string]chan domain.InboundMessage),
		base:       base,
		cancel:     cancel,
	}
}

// ErrInboxClosed is returned by Push after Close.
var ErrInboxClosed = errors.New("inbox closed")

// ErrInboxFull is returned by Push when the sender's queue is full.
var ErrInboxFull = errors.New("inbox full")

// Push enqueues a message without blocking.
func (in *Inbox) Push(msg domain.InboundMessage) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrInboxClosed
	}

	q, ok := in.queues[msg.Sender]
	if !ok {
		q = make(chan domain.InboundMessage, in.opts.QueueSize)
		in.queues[msg.Sender] = q
		in.wg.Add(1)
		go in.consume(msg.Sender, q)
	}

	select {
	case q <- msg:
		return nil
	default:
		in.log.Warn("inbox full, dropping message", zap.String("sender", msg.Sender))
		return ErrInboxFull
	}
}

// Deliver is a session.MessageHandler that pushes into the inbox.
func (in *Inbox) Deliver(msg domain.InboundMessage) {
	if err := in.Push(msg); err != nil && !errors.Is(err, ErrInboxFull) {
		in.log.Debug("message not queued", zap.Error(err), zap.String("sender", msg.Sender))
	}
}

// Close stops accepting messages and waits for queued ones to finish. When
// ctx expires first, in-flight work is canceled.
func (in *Inbox) Close(ctx context.Context) error {
	in.mu.Lock()
	if !in.closed {
		in.closed = true
		for _, q := range in.queues {
			close(q)
		}
	}
	in.mu.Unlock()

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		in.cancel()
		return nil
	case <-ctx.Done():
		in.cancel()
		return fmt.Errorf("draining inbox: %w", ctx.Err())
	}
}

func (in *Inbox) consume(key string, q chan domain.InboundMessage) {
	defer in.wg.Done()
	idle := time.NewTimer(in.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case msg, ok := <-q:
			if !ok {
				return
			}
			in.process(msg)
			idle.Reset(in.opts.IdleTimeout)

		case <-idle.C:
			in.mu.Lock()
			if len(q) > 0 || in.closed {
				in.mu.Unlock()
				idle.Reset(in.opts.IdleTimeout)
				continue
			}
			delete(in.queues, key)
			in.mu.Unlock()
			return
		}
	}
}

func (in *Inbox) process(msg domain.InboundMessage) {
	ctx := in.base
	user, err := in.users.EnsureUser(ctx, &domain.User{
		Phone:    msg.Sender,
		Name:     msg.PushName,
		Language: in.opts.DefaultLanguage,
		TZ:       in.opts.DefaultTZ,
	})
	if err != nil {
		in.log.Error("ensure user failed", zap.Error(err), zap.String("sender", msg.Sender))
		if err := in.sender.Send(ctx, msg.Chat, textsFor(in.opts.DefaultLanguage).storeError); err != nil {
			in.log.Warn("reply not sent", zap.Error(err), zap.String("chat", msg.Chat))
		}
		return
	}

	reply, err := in.dispatcher.HandleInbound(ctx, msg.Text, user)
	if err != nil {
		in.log.Debug("inbound not handled as command", zap.Error(err), zap.Int64("userID", user.ID))
	}
	if reply == "" {
		return
	}
	if err := in.sender.Send(ctx, msg.Chat, reply); err != nil {
		in.log.Warn("reply not sent", zap.Error(err), zap.String("chat", msg.Chat))
	}
}

// pending reports the number of live per-sender queues.
func (in *Inbox) pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queues)
}
