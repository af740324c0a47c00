package session

import (
	"sync"
	"time"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// Transition is published on every state change and on every new QR code.
type Transition struct {
	From  domain.SessionState `json:"from"`
	To    domain.SessionState `json:"to"`
	QR    *domain.QRToken     `json:"qr,omitempty"`
	Error string              `json:"error,omitempty"`
	At    time.Time           `json:"at"`
}

type eventBus struct {
	mu   sync.Mutex
	subs map[chan Transition]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan Transition]struct{})}
}

func (b *eventBus) Subscribe() chan Transition {
	ch := make(chan Transition, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *eventBus) Unsubscribe(ch chan Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

func (b *eventBus) Publish(ev Transition) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.Unlock()
}
