// Package scheduler delivers reminders at most once, close to their due
// time, and survives restarts by sweeping the store for overdue rows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// ErrReminderClosed is returned when canceling a reminder that was already
// delivered or canceled.
var ErrReminderClosed = errors.New("reminder already sent or canceled")

// Sender delivers a text message. session.Manager implements it.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Store is the subset of the repository the scheduler needs.
type Store interface {
	CreateReminder(ctx context.Context, userID int64, message string, dueAt time.Time) (*domain.Reminder, error)
	GetReminder(ctx context.Context, id int64) (*domain.Reminder, error)
	GetDueUnsent(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	GetPendingFuture(ctx context.Context, now time.Time) ([]domain.Reminder, error)
	MarkSentIfUnsent(ctx context.Context, id int64, at time.Time) (bool, error)
	ConfirmDelivered(ctx context.Context, id int64, at time.Time) error
	ReleaseReminder(ctx context.Context, id int64) error
	CancelReminder(ctx context.Context, id int64, at time.Time) (bool, error)
	ListUserReminders(ctx context.Context, userID int64, pendingOnly bool) ([]domain.Reminder, error)
}

// FormatReminder renders the delivered reminder text.
func FormatReminder(text string) string {
	return "⏰ *Reminder*\n\n" + text
}

// Scheduler sweeps for due reminders on a fixed interval and arms a
// one-shot timer per pending reminder for on-time delivery.
type Scheduler struct {
	store    Store
	log      *zap.Logger
	sender   Sender
	interval time.Duration
	batch    int
	now      func() time.Time

	mu       sync.Mutex
	timers   map[int64]*time.Timer
	stopped  bool
	stop     chan struct{}
	inflight sync.WaitGroup

	// base is the context deliveries run under; canceled once Stop gives up
	// waiting for them.
	base   context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the sweep interval (default 60s).
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(st Store, sender Sender, log *zap.Logger, opts ...Option) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    st,
		log:      log.Named("scheduler"),
		sender:   sender,
		interval: 60 * time.Second,
		batch:    100,
		now:      func() time.Time { return time.Now().UTC() },
		timers:   make(map[int64]*time.Timer),
		stop:     make(chan struct{}),
		base:     base,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately, arms timers for future reminders, then sweeps on
// every tick until ctx is canceled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sweep()
	s.armPending()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Stop halts the ticker and every pending timer, then waits for in-flight
// deliveries until ctx expires. Safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deliveries: %w", ctx.Err())
	}
}

// Schedule stores a reminder and arms its timer.
func (s *Scheduler) Schedule(ctx context.Context, userID int64, text string, dueAt time.Time) (*domain.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Usage("reminder text is empty")
	}
	rem, err := s.store.CreateReminder(ctx, userID, text, dueAt.UTC())
	if err != nil {
		return nil, err
	}
	s.arm(*rem)
	s.log.Info("reminder scheduled",
		zap.Int64("id", rem.ID), zap.Int64("userID", userID), zap.Time("dueAt", rem.DueAt))
	return rem, nil
}

// Cancel voids a pending reminder owned by userID. userID 0 skips the
// ownership check.
func (s *Scheduler) Cancel(ctx context.Context, userID, id int64) error {
	rem, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if userID != 0 && rem.UserID != userID {
		return fmt.Errorf("reminder %d: %w", id, domain.ErrNotFound)
	}

	s.dropTimer(id)
	ok, err := s.store.CancelReminder(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrReminderClosed
	}
	s.log.Info("reminder canceled", zap.Int64("id", id))
	return nil
}

// List returns the user's pending reminders.
func (s *Scheduler) List(ctx context.Context, userID int64) ([]domain.Reminder, error) {
	return s.store.ListUserReminders(ctx, userID, true)
}

// begin registers an in-flight delivery unless the scheduler is stopped.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

// sweep delivers every due, unsent reminder.
func (s *Scheduler) sweep() {
	if !s.begin() {
		return
	}
	defer s.inflight.Done()

	due, err := s.store.GetDueUnsent(s.base, s.now(), s.batch)
	if err != nil {
		s.log.Error("GetDueUnsent failed", zap.Error(err))
		return
	}
	for _, rem := range due {
		s.deliver(s.base, rem)
	}
}

func (s *Scheduler) armPending() {
	pending, err := s.store.GetPendingFuture(s.base, s.now())
	if err != nil {
		s.log.Error("GetPendingFuture failed", zap.Error(err))
		return
	}
	for _, rem := range pending {
		s.arm(rem)
	}
	s.log.Info("pending reminders armed", zap.Int("count", len(pending)))
}

func (s *Scheduler) arm(rem domain.Reminder) {
	d := rem.DueAt.Sub(s.now())
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[rem.ID]; ok {
		t.Stop()
	}
	s.timers[rem.ID] = time.AfterFunc(d, func() { s.fire(rem) })
}

func (s *Scheduler) fire(rem domain.Reminder) {
	s.mu.Lock()
	delete(s.timers, rem.ID)
	s.mu.Unlock()

	if !s.begin() {
		return
	}
	defer s.inflight.Done()
	s.deliver(s.base, rem)
}

func (s *Scheduler) dropTimer(id int64) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// deliver claims the reminder, then sends it. A failed send releases the
// claim so a later sweep retries.
func (s *Scheduler) deliver(ctx context.Context, rem domain.Reminder) {
	claimed, err := s.store.MarkSentIfUnsent(ctx, rem.ID, s.now())
	if err != nil {
		s.log.Error("claim reminder failed", zap.Error(err), zap.Int64("id", rem.ID))
		return
	}
	if !claimed {
		return
	}
	s.dropTimer(rem.ID)

	if err := s.sender.Send(ctx, rem.Recipient, FormatReminder(rem.Message)); err != nil {
		s.log.Warn("reminder send failed, will retry",
			zap.Error(err), zap.Int64("id", rem.ID), zap.String("recipient", rem.Recipient))
		// Release even when shutdown canceled ctx, or the reminder stays claimed.
		if err := s.store.ReleaseReminder(context.WithoutCancel(ctx), rem.ID); err != nil {
			s.log.Error("release reminder failed", zap.Error(err), zap.Int64("id", rem.ID))
		}
		return
	}
	if err := s.store.ConfirmDelivered(context.WithoutCancel(ctx), rem.ID, s.now()); err != nil {
		s.log.Error("confirm reminder delivered failed", zap.Error(err), zap.Int64("id", rem.ID))
	}
	s.log.Info("reminder delivered", zap.Int64("id", rem.ID), zap.String("recipient", rem.Recipient))
}
