package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// memStore is an in-memory Store with the same claim semantics as SQLite.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Reminder
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*domain.Reminder)}
}

func (m *memStore) CreateReminder(_ context.Context, userID int64, message string, dueAt time.Time) (*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := &domain.Reminder{
		ID: m.nextID, UserID: userID, Recipient: fmt.Sprintf("1555000%04d", userID),
		Message: message, DueAt: dueAt, CreatedAt: time.Now().UTC(),
	}
	m.rows[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *memStore) GetReminder(_ context.Context, id int64) (*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) filter(keep func(*domain.Reminder) bool) []domain.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reminder
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) GetDueUnsent(_ context.Context, now time.Time, _ int) ([]domain.Reminder, error) {
	return m.filter(func(r *domain.Reminder) bool { return !r.Sent && !r.DueAt.After(now) }), nil
}

func (m *memStore) GetPendingFuture(_ context.Context, now time.Time) ([]domain.Reminder, error) {
	return m.filter(func(r *domain.Reminder) bool { return !r.Sent && r.DueAt.After(now) }), nil
}

func (m *memStore) MarkSentIfUnsent(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Sent {
		return false, nil
	}
	r.Sent = true
	r.SentAt = &at
	return true, nil
}

func (m *memStore) ReleaseReminder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.Sent && r.CanceledAt == nil && r.DeliveredAt == nil {
		r.Sent = false
		r.SentAt = nil
	}
	return nil
}

func (m *memStore) CancelReminder(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.CanceledAt != nil || r.DeliveredAt != nil {
		return false, nil
	}
	r.Sent = true
	r.CanceledAt = &at
	return true, nil
}

func (m *memStore) ConfirmDelivered(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.Sent && r.CanceledAt == nil {
		r.DeliveredAt = &at
	}
	return nil
}

func (m *memStore) ListUserReminders(_ context.Context, userID int64, pendingOnly bool) ([]domain.Reminder, error) {
	return m.filter(func(r *domain.Reminder) bool { return r.UserID == userID && (!pendingOnly || !r.Sent) }), nil
}

func (m *memStore) sent(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Sent
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	fail  error
	delay time.Duration
}

func (f *fakeSender) Send(_ context.Context, recipient, text string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.texts = append(f.texts, recipient+"|"+text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeSender) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func newTestScheduler(t *testing.T, st Store, snd Sender) *Scheduler {
	t.Helper()
	s := New(st, snd, zap.NewNop(), WithInterval(time.Hour))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestConcurrentDeliverySendsOnce(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{delay: 5 * time.Millisecond}
	s := newTestScheduler(t, st, snd)

	rem, err := st.CreateReminder(context.Background(), 1, "stand up", time.Now().Add(-time.Second))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(fromTimer bool) {
			defer wg.Done()
			if fromTimer {
				s.fire(*rem)
			} else {
				s.sweep()
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, 1, snd.count())
	assert.True(t, st.sent(rem.ID))
}

func TestOverdueReminderDeliveredByFirstSweepOnly(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	rem, err := st.CreateReminder(context.Background(), 7, "pay rent", time.Now().Add(-2*time.Minute))
	require.NoError(t, err)

	s := newTestScheduler(t, st, snd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return snd.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, st.sent(rem.ID))
	assert.Equal(t, "15550000007|⏰ *Reminder*\n\npay rent", snd.texts[0])

	s.sweep()
	assert.Equal(t, 1, snd.count())
}

func TestScheduleFiresOnTimer(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	s := newTestScheduler(t, st, snd)

	rem, err := s.Schedule(context.Background(), 3, "  tea  ", time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "tea", rem.Message)

	require.Eventually(t, func() bool { return snd.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, st.sent(rem.ID))
}

func TestScheduleRejectsEmptyText(t *testing.T) {
	s := newTestScheduler(t, newMemStore(), &fakeSender{})
	_, err := s.Schedule(context.Background(), 1, "  ", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrBadArguments)
}

func TestRunArmsPendingReminders(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	_, err := st.CreateReminder(context.Background(), 1, "later", time.Now().Add(40*time.Millisecond))
	require.NoError(t, err)

	s := newTestScheduler(t, st, snd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return snd.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsDelivery(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	s := newTestScheduler(t, st, snd)
	ctx := context.Background()

	rem, err := s.Schedule(ctx, 2, "nap", time.Now().Add(40*time.Millisecond))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Cancel(ctx, 99, rem.ID), domain.ErrNotFound, "other users cannot cancel")
	require.NoError(t, s.Cancel(ctx, 2, rem.ID))
	assert.ErrorIs(t, s.Cancel(ctx, 2, rem.ID), ErrReminderClosed)

	time.Sleep(80 * time.Millisecond)
	s.sweep()
	assert.Zero(t, snd.count())

	got, err := st.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.True(t, got.Canceled())

	pending, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedSendIsRetriedBySweep(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{fail: errors.New("not ready")}
	s := newTestScheduler(t, st, snd)

	rem, err := st.CreateReminder(context.Background(), 4, "water plants", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	s.sweep()
	assert.Zero(t, snd.count())
	assert.False(t, st.sent(rem.ID), "claim released after failure")

	snd.setFail(nil)
	s.sweep()
	assert.Equal(t, 1, snd.count())
	assert.True(t, st.sent(rem.ID))
}

func TestStopDisarmsTimers(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	s := New(st, snd, zap.NewNop(), WithInterval(time.Hour))

	_, err := s.Schedule(context.Background(), 1, "never", time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, snd.count())
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{delay: 50 * time.Millisecond}
	s := New(st, snd, zap.NewNop(), WithInterval(time.Hour))

	_, err := st.CreateReminder(context.Background(), 1, "slow", time.Now().Add(-time.Second))
	require.NoError(t, err)

	go s.sweep()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, snd.count())
}

// gatedSender blocks every send until release is closed, then fails it.
type gatedSender struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gatedSender) Send(context.Context, string, string) error {
	g.calls.Add(1)
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return fmt.Errorf("send: %w", domain.ErrNotReady)
}

func TestCancelDuringInFlightSendStaysCanceled(t *testing.T) {
	st := newMemStore()
	snd := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestScheduler(t, st, snd)
	ctx := context.Background()

	rem, err := st.CreateReminder(ctx, 3, "dentist", time.Now().Add(-time.Second))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.sweep()
		close(done)
	}()
	<-snd.entered

	require.NoError(t, s.Cancel(ctx, 3, rem.ID), "an undelivered claim can still be canceled")
	close(snd.release)
	<-done

	s.sweep()
	assert.EqualValues(t, 1, snd.calls.Load(), "failed send must not release a canceled reminder")
	got, err := st.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.True(t, got.Canceled())
	assert.True(t, got.Sent)
	assert.Nil(t, got.DeliveredAt)
}

func TestCancelAfterDeliveryIsClosed(t *testing.T) {
	st := newMemStore()
	snd := &fakeSender{}
	s := newTestScheduler(t, st, snd)
	ctx := context.Background()

	rem, err := st.CreateReminder(ctx, 4, "pay rent", time.Now().Add(-time.Second))
	require.NoError(t, err)
	s.sweep()
	require.Equal(t, 1, snd.count())

	assert.ErrorIs(t, s.Cancel(ctx, 4, rem.ID), ErrReminderClosed)
	got, err := st.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeliveredAt)
	assert.False(t, got.Canceled())
}
