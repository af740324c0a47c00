package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

type memUsers struct {
	mu    sync.Mutex
	ids   map[string]int64
	users map[int64]*domain.User
}

func (m *memUsers) EnsureUser(_ context.Context, u *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]int64)
		m.users = make(map[int64]*domain.User)
	}
	id, ok := m.ids[u.Phone]
	if !ok {
		id = int64(len(m.ids) + 1)
		m.ids[u.Phone] = id
		cp := *u
		cp.ID = id
		m.users[id] = &cp
	}
	cp := *m.users[id]
	return &cp, nil
}

// echoDispatcher replies with the text after a small random delay.
type echoDispatcher struct {
	block chan struct{}
}

func (e *echoDispatcher) HandleInbound(_ context.Context, text string, _ *domain.User) (string, error) {
	if e.block != nil {
		<-e.block
	}
	time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	return "re:" + text, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingSender) Send(_ context.Context, recipient, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]string)
	}
	r.sent[recipient] = append(r.sent[recipient], text)
	return nil
}

func (r *recordingSender) get(recipient string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[recipient]...)
}

func queued(in *Inbox, sender string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queues[sender])
}

type failingUsers struct{}

func (failingUsers) EnsureUser(context.Context, *domain.User) (*domain.User, error) {
	return nil, errors.New("database is locked")
}

func TestInboxRepliesWhenUserStoreFails(t *testing.T) {
	snd := &recordingSender{}
	in := NewInbox(zap.NewNop(), &echoDispatcher{}, failingUsers{}, snd, InboxOptions{DefaultLanguage: "en"})

	require.NoError(t, in.Push(domain.InboundMessage{Chat: "chat-111", Sender: "111", Text: "/help"}))
	require.NoError(t, in.Close(context.Background()))

	assert.Equal(t, []string{textsFor("en").storeError}, snd.get("chat-111"))
}

func TestInboxPreservesPerSenderOrder(t *testing.T) {
	snd := &recordingSender{}
	in := NewInbox(zap.NewNop(), &echoDispatcher{}, &memUsers{}, snd, InboxOptions{QueueSize: 64})

	senders := []string{"111", "222", "333"}
	for i := 0; i < 20; i++ {
		for _, s := range senders {
			require.NoError(t, in.Push(domain.InboundMessage{Chat: "chat-" + s, Sender: s, Text: fmt.Sprint(i)}))
		}
	}
	require.NoError(t, in.Close(context.Background()))

	for _, s := range senders {
		got := snd.get("chat-" + s)
		require.Len(t, got, 20)
		for i, text := range got {
			assert.Equal(t, fmt.Sprintf("re:%d", i), text)
		}
	}
}

func TestInboxDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	snd := &recordingSender{}
	in := NewInbox(zap.NewNop(), &echoDispatcher{block: block}, &memUsers{}, snd, InboxOptions{QueueSize: 2})

	msg := domain.InboundMessage{Chat: "c", Sender: "s", Text: "x"}
	// The consumer takes the first message and blocks; two more fill the queue.
	require.NoError(t, in.Push(msg))
	require.Eventually(t, func() bool { return queued(in, "s") == 0 }, time.Second, time.Millisecond)
	require.NoError(t, in.Push(msg))
	require.NoError(t, in.Push(msg))
	assert.ErrorIs(t, in.Push(msg), ErrInboxFull)

	close(block)
	require.NoError(t, in.Close(context.Background()))
	assert.ErrorIs(t, in.Push(msg), ErrInboxClosed)
	assert.Len(t, snd.get("c"), 3)
}

func TestInboxIdleConsumerExits(t *testing.T) {
	snd := &recordingSender{}
	in := NewInbox(zap.NewNop(), &echoDispatcher{}, &memUsers{}, snd, InboxOptions{IdleTimeout: 20 * time.Millisecond})

	in.Deliver(domain.InboundMessage{Chat: "c", Sender: "s", Text: "hi"})
	require.Eventually(t, func() bool { return len(snd.get("c")) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return in.pending() == 0 }, time.Second, 5*time.Millisecond)

	// A new message after exit starts a fresh consumer.
	in.Deliver(domain.InboundMessage{Chat: "c", Sender: "s", Text: "again"})
	require.NoError(t, in.Close(context.Background()))
	assert.Equal(t, []string{"re:hi", "re:again"}, snd.get("c"))
}

func TestInboxCloseHonorsDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	in := NewInbox(zap.NewNop(), &echoDispatcher{block: block}, &memUsers{}, &recordingSender{}, InboxOptions{})
	require.NoError(t, in.Push(domain.InboundMessage{Chat: "c", Sender: "s", Text: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, in.Close(ctx), context.DeadlineExceeded)
}
