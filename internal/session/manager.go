package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// Config holds the manager's timing knobs. Zero values fall back to defaults.
type Config struct {
	SendTimeout        time.Duration
	ReconnectDelay     time.Duration
	ReconnectMaxDelay  time.Duration
	AuthTimeout        time.Duration
	HealthPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = 2 * time.Minute
		if c.ReconnectMaxDelay < c.ReconnectDelay {
			c.ReconnectMaxDelay = c.ReconnectDelay
		}
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.HealthPollInterval <= 0 {
		c.HealthPollInterval = 250 * time.Millisecond
	}
	return c
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State    domain.SessionState `json:"state"`
	QR       *domain.QRToken     `json:"qr"`
	Identity string              `json:"identity,omitempty"`
	Since    time.Time           `json:"since"`
}

// MessageHandler receives inbound messages from the current transport.
type MessageHandler func(domain.InboundMessage)

// Manager keeps exactly one transport session alive.
type Manager struct {
	log     *zap.Logger
	cfg     Config
	factory Factory
	now     func() time.Time
	bus     *eventBus

	// ctl serializes operator control calls (start, restart, stop, logout).
	ctl sync.Mutex

	mu         sync.Mutex
	state      domain.SessionState
	since      time.Time
	qr         *domain.QRToken
	identity   string
	transport  Transport
	connCtx    context.Context
	connCancel context.CancelFunc
	attempts   int
	retry      *time.Timer
	onMessage  MessageHandler

	// gen identifies the current transport; written under mu, read lock-free
	// by sinks so events from replaced transports are dropped.
	gen atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager in the Disconnected state.
func NewManager(log *zap.Logger, factory Factory, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		log:     log.Named("session"),
		cfg:     cfg.withDefaults(),
		factory: factory,
		now:     func() time.Time { return time.Now().UTC() },
		bus:     newEventBus(),
		state:   domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.now()
	return m
}

// OnMessage registers the receiver of inbound messages.
func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	m.onMessage = h
	m.mu.Unlock()
}

// Snapshot returns the current state, QR token and identity.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.state, Identity: m.identity, Since: m.since}
	if m.qr != nil {
		qr := *m.qr
		s.QR = &qr
	}
	return s
}

// State returns the current session state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel of transitions and a func that releases it.
// Transitions are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Transition, func()) {
	ch := m.bus.Subscribe()
	return ch, func() { m.bus.Unsubscribe(ch) }
}

// Start connects when the manager is Disconnected; otherwise it is a no-op.
func (m *Manager) Start() error {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateDisconnected {
		return nil
	}
	m.attempts = 0
	return m.connectLocked()
}

// Restart tears down the current transport and connects a new one.
func (m *Manager) Restart() error {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	m.stopRetryLocked()
	old := m.detachLocked()
	m.mu.Unlock()

	// Transports may dispatch events under their own locks; never destroy
	// one while holding mu.
	if old != nil {
		old.Destroy()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	return m.connectLocked()
}

// Stop destroys the transport and keeps stored credentials, so the next
// Start resumes the same account.
func (m *Manager) Stop() {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	m.stopRetryLocked()
	t := m.detachLocked()
	m.identity = ""
	m.setStateLocked(domain.StateDisconnected, "")
	m.mu.Unlock()

	if t != nil {
		t.Destroy()
	}
}

// Logout ends the session and deletes stored credentials. The next Start
// requires pairing again.
func (m *Manager) Logout(ctx context.Context) error {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	m.stopRetryLocked()
	t := m.detachLocked()
	m.identity = ""
	m.setStateLocked(domain.StateDisconnected, "")
	m.mu.Unlock()

	if t == nil {
		var err error
		if t, err = m.factory(); err != nil {
			return fmt.Errorf("logout: %w: %w", domain.ErrTransportFailure, err)
		}
	}
	defer t.Destroy()

	if err := t.Logout(ctx); err != nil {
		m.log.Warn("logout failed", zap.Error(err))
		return fmt.Errorf("logout: %w: %w", domain.ErrTransportFailure, err)
	}
	m.log.Info("logged out, credentials cleared")
	return nil
}

// Send delivers text through the session. It fails fast with ErrNotReady
// unless the session is Ready and the transport reports healthy.
func (m *Manager) Send(ctx context.Context, recipient, text string) error {
	m.mu.Lock()
	state, t, gen := m.state, m.transport, m.gen.Load()
	m.mu.Unlock()

	if state != domain.StateReady || t == nil || !t.Healthy() {
		return fmt.Errorf("send to %s (state %s): %w", recipient, state, domain.ErrNotReady)
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	if err := t.Send(sctx, recipient, text); err != nil {
		if IsSessionCorrupted(err) {
			m.log.Warn("session corrupted on send", zap.String("recipient", recipient), zap.Error(err))
			m.mu.Lock()
			if m.gen.Load() == gen && m.state == domain.StateReady {
				m.reconnectLocked("send: " + err.Error())
			}
			m.mu.Unlock()
			return fmt.Errorf("send to %s: %w", recipient, err)
		}
		return fmt.Errorf("send to %s: %w: %w", recipient, domain.ErrTransportFailure, err)
	}
	return nil
}

func (m *Manager) sink(gen uint64) Sink {
	return func(ev Event) {
		if m.gen.Load() != gen {
			return
		}
		m.handleEvent(gen, ev)
	}
}

func (m *Manager) handleEvent(gen uint64, ev Event) {
	if ev.Kind == EventMessage {
		m.mu.Lock()
		h := m.onMessage
		m.mu.Unlock()
		if h != nil && ev.Message != nil {
			h(*ev.Message)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen.Load() != gen || m.transport == nil {
		m.log.Debug("dropping stale transport event", zap.Stringer("event", ev.Kind))
		return
	}

	switch ev.Kind {
	case EventQR:
		if m.state != domain.StateConnecting && m.state != domain.StateAwaitingScan {
			m.log.Debug("ignoring qr", zap.String("state", string(m.state)))
			return
		}
		m.qr = &domain.QRToken{Code: ev.QR, IssuedAt: m.now()}
		m.setStateLocked(domain.StateAwaitingScan, "")

	case EventAuthenticated:
		if m.state == domain.StateConnecting || m.state == domain.StateAwaitingScan {
			m.authenticateLocked(gen)
		}

	case EventReady:
		switch m.state {
		case domain.StateAuthenticating:
			if m.transport.Healthy() {
				m.readyLocked()
			}
		case domain.StateConnecting, domain.StateAwaitingScan:
			if m.transport.Healthy() && m.transport.Identity() != "" {
				m.readyLocked()
			} else {
				m.authenticateLocked(gen)
			}
		}

	case EventDisconnected, EventExited:
		m.log.Warn("transport down", zap.Stringer("event", ev.Kind), zap.String("reason", ev.Reason))
		m.reconnectLocked(ev.Reason)

	case EventError:
		if IsSessionCorrupted(ev.Err) {
			m.log.Warn("transport reported corrupted session", zap.Error(ev.Err))
			m.reconnectLocked(ev.Err.Error())
			return
		}
		m.log.Warn("transport error", zap.Error(ev.Err))
	}
}

// connectLocked creates a transport and starts connecting it. The caller
// must have detached any previous transport.
func (m *Manager) connectLocked() error {
	t, err := m.factory()
	if err != nil {
		m.log.Error("create transport", zap.Error(err))
		m.reconnectLocked(err.Error())
		return fmt.Errorf("create transport: %w: %w", domain.ErrTransportFailure, err)
	}

	gen := m.gen.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	m.transport = t
	m.connCtx = ctx
	m.connCancel = cancel
	m.setStateLocked(domain.StateConnecting, "")

	go func() {
		if err := t.Connect(ctx, m.sink(gen)); err != nil {
			m.handleEvent(gen, Event{Kind: EventDisconnected, Reason: "connect: " + err.Error()})
		}
	}()
	return nil
}

func (m *Manager) authenticateLocked(gen uint64) {
	m.setStateLocked(domain.StateAuthenticating, "")
	go m.awaitHealthy(m.connCtx, gen, m.transport)
}

// awaitHealthy polls the transport until it reports healthy, the ready event
// wins, or the authentication timeout elapses.
func (m *Manager) awaitHealthy(ctx context.Context, gen uint64, t Transport) {
	deadline := time.NewTimer(m.cfg.AuthTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.cfg.HealthPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			m.mu.Lock()
			if m.gen.Load() == gen && m.state == domain.StateAuthenticating {
				m.log.Warn("session not ready after authentication", zap.Duration("timeout", m.cfg.AuthTimeout))
				m.reconnectLocked("authentication timeout")
			}
			m.mu.Unlock()
			return
		case <-poll.C:
			m.mu.Lock()
			if m.gen.Load() != gen || m.state != domain.StateAuthenticating {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()

			if !t.Healthy() {
				continue
			}

			m.mu.Lock()
			if m.gen.Load() == gen && m.state == domain.StateAuthenticating {
				m.readyLocked()
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) readyLocked() {
	m.attempts = 0
	m.identity = m.transport.Identity()
	m.setStateLocked(domain.StateReady, "")
	m.log.Info("session ready", zap.String("identity", m.identity))
}

// reconnectLocked detaches the current transport, destroys it in the
// background and schedules a new connection attempt after the backoff delay.
func (m *Manager) reconnectLocked(reason string) {
	m.stopRetryLocked()
	if t := m.detachLocked(); t != nil {
		// The caller may be the transport's own event dispatch, which
		// Destroy waits on.
		go t.Destroy()
	}
	delay := m.backoffLocked()
	m.setStateLocked(domain.StateReconnecting, reason)

	gen := m.gen.Load()
	m.retry = time.AfterFunc(delay, func() { m.retryConnect(gen) })
	m.log.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", m.attempts))
}

func (m *Manager) retryConnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen.Load() != gen || m.state != domain.StateReconnecting {
		return
	}
	m.retry = nil
	_ = m.connectLocked()
}

// backoffLocked returns the next reconnect delay: the base delay doubled per
// consecutive failed attempt, capped at the maximum.
func (m *Manager) backoffLocked() time.Duration {
	d := m.cfg.ReconnectDelay
	for i := 0; i < m.attempts && d < m.cfg.ReconnectMaxDelay; i++ {
		d *= 2
	}
	if d > m.cfg.ReconnectMaxDelay {
		d = m.cfg.ReconnectMaxDelay
	}
	m.attempts++
	return d
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// detachLocked invalidates the current transport and returns it for the
// caller to destroy.
func (m *Manager) detachLocked() Transport {
	m.gen.Add(1)
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
		m.connCtx = nil
	}
	t := m.transport
	m.transport = nil
	return t
}

func (m *Manager) setStateLocked(to domain.SessionState, reason string) {
	from := m.state
	if from == to && to != domain.StateAwaitingScan {
		return
	}
	if to != domain.StateAwaitingScan {
		m.qr = nil
	}
	m.state = to
	m.since = m.now()

	tr := Transition{From: from, To: to, Error: reason, At: m.since}
	if m.qr != nil {
		qr := *m.qr
		tr.QR = &qr
	}
	m.bus.Publish(tr)
	m.log.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
}
