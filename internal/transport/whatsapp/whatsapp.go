// Package whatsapp implements the session transport on WhatsApp Web
// (multi-device) via whatsmeow. Credentials live in a SQLite device store.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	// Registers the "sqlite" driver used by the device store.
	_ "modernc.org/sqlite"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

// Gateway owns the device store shared by every Transport it creates.
type Gateway struct {
	log       *zap.Logger
	waLog     waLog.Logger
	db        *sql.DB
	container *sqlstore.Container
}

// Open opens (or creates) the device store at path.
func Open(ctx context.Context, path string, log *zap.Logger) (*Gateway, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	log = log.Named("whatsapp")
	wl := newLogger(log)
	container := sqlstore.NewWithDB(db, "sqlite", wl.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	return &Gateway{log: log, waLog: wl, db: db, container: container}, nil
}

// Close releases the device store.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Factory returns a session.Factory creating one Transport per connection attempt.
func (g *Gateway) Factory() session.Factory {
	return func() (session.Transport, error) {
		device, err := g.container.GetFirstDevice(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		return &Transport{log: g.log, waLog: g.waLog, device: device}, nil
	}
}

// Transport is a single whatsmeow client.
type Transport struct {
	log    *zap.Logger
	waLog  waLog.Logger
	device *store.Device

	mu        sync.Mutex
	cli       *whatsmeow.Client
	sink      session.Sink
	handlerID uint32
}

var _ session.Transport = (*Transport)(nil)

// Connect starts the client. Unpaired devices emit QR codes until scanned.
func (t *Transport) Connect(ctx context.Context, sink session.Sink) error {
	cli := whatsmeow.NewClient(t.device, t.waLog.Sub("client"))
	// Reconnection is owned by the session manager.
	cli.EnableAutoReconnect = false

	t.mu.Lock()
	t.cli = cli
	t.sink = sink
	t.handlerID = cli.AddEventHandler(t.handleEvent)
	t.mu.Unlock()

	if cli.Store.ID == nil {
		qrCh, err := cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := cli.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go t.forwardQR(qrCh)
		return nil
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (t *Transport) emit(ev session.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (t *Transport) forwardQR(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			t.emit(session.Event{Kind: session.EventQR, QR: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			t.emit(session.Event{Kind: session.EventAuthenticated})
		case whatsmeow.QRChannelTimeout.Event:
			t.emit(session.Event{Kind: session.EventDisconnected, Reason: "qr scan timed out"})
		case whatsmeow.QRChannelEventError:
			t.emit(session.Event{Kind: session.EventDisconnected, Reason: fmt.Sprintf("pairing failed: %v", item.Error)})
		default:
			t.emit(session.Event{Kind: session.EventDisconnected, Reason: "pairing: " + item.Event})
		}
	}
}

func (t *Transport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg := inbound(v); msg != nil {
			t.emit(session.Event{Kind: session.EventMessage, Message: msg})
		}
	case *events.PairSuccess:
		t.log.Info("paired", zap.String("jid", v.ID.String()))
		t.emit(session.Event{Kind: session.EventAuthenticated})
	case *events.Connected:
		t.emit(session.Event{Kind: session.EventReady})
	case *events.Disconnected:
		t.emit(session.Event{Kind: session.EventDisconnected, Reason: "connection lost"})
	case *events.ConnectFailure:
		t.emit(session.Event{Kind: session.EventDisconnected, Reason: fmt.Sprintf("connect failure: %s", v.Reason)})
	case *events.LoggedOut:
		t.emit(session.Event{Kind: session.EventExited, Reason: fmt.Sprintf("logged out: %s", v.Reason)})
	case *events.StreamReplaced:
		t.emit(session.Event{Kind: session.EventExited, Reason: "stream replaced by another client"})
	case *events.KeepAliveTimeout:
		t.emit(session.Event{Kind: session.EventError, Err: fmt.Errorf("keepalive timeout (%d errors)", v.ErrorCount)})
	case *events.TemporaryBan:
		t.emit(session.Event{Kind: session.EventError, Err: fmt.Errorf("temporary ban: %s", v.String())})
	}
}

// inbound converts a whatsmeow message into a domain message. Own messages,
// group chats, status updates and non-text payloads yield nil.
func inbound(v *events.Message) *domain.InboundMessage {
	if v.Info.IsFromMe || v.Info.IsGroup || v.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &domain.InboundMessage{
		Chat:       v.Info.Chat.String(),
		Sender:     v.Info.Sender.ToNonAD().User,
		PushName:   v.Info.PushName,
		Text:       text,
		ReceivedAt: v.Info.Timestamp.UTC(),
	}
}

func (t *Transport) client() *whatsmeow.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cli
}

// Send delivers a plain text message. recipient is a JID or a phone number.
func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	cli := t.client()
	if cli == nil {
		return fmt.Errorf("client not started: %w", domain.ErrSessionCorrupted)
	}
	jid, err := ParseRecipient(recipient)
	if err != nil {
		return err
	}
	_, err = cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %w", domain.ErrSessionCorrupted, err)
	}
	return err
}

// ParseRecipient accepts a full JID or a bare phone number.
func ParseRecipient(recipient string) (types.JID, error) {
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, fmt.Errorf("parse jid %q: %w", recipient, err)
		}
		return jid, nil
	}
	digits := strings.TrimPrefix(recipient, "+")
	if digits == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// Logout unlinks the device. A transport that never connected only deletes
// the local credentials.
func (t *Transport) Logout(ctx context.Context) error {
	cli := t.client()
	if cli != nil && cli.IsConnected() && cli.IsLoggedIn() {
		return cli.Logout(ctx)
	}
	if t.device.ID == nil {
		return nil
	}
	return t.device.Delete(ctx)
}

// Destroy stops forwarding events and disconnects the client in the
// background. whatsmeow holds its handler lock while dispatching, so
// RemoveEventHandler must not run on the dispatching goroutine.
func (t *Transport) Destroy() {
	t.mu.Lock()
	cli, id := t.cli, t.handlerID
	t.sink = nil
	t.mu.Unlock()
	if cli == nil {
		return
	}
	go func() {
		cli.RemoveEventHandler(id)
		cli.Disconnect()
	}()
}

// Healthy reports whether the client is connected and logged in.
func (t *Transport) Healthy() bool {
	cli := t.client()
	return cli != nil && cli.IsConnected() && cli.IsLoggedIn()
}

// Identity returns the paired phone number.
func (t *Transport) Identity() string {
	cli := t.client()
	if cli == nil || cli.Store.ID == nil {
		return ""
	}
	return cli.Store.ID.User
}
