// Package twilio implements the session transport on the Twilio WhatsApp
// Business API. Outbound messages use the REST API; inbound messages arrive
// on a signed webhook.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

const whatsappPrefix = "whatsapp:"

// Config holds Twilio account credentials.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string // "whatsapp:+14155238886"
	// WebhookURL is the public URL Twilio posts to; it is part of the
	// signature. Empty disables signature checks.
	WebhookURL string
	// SendTimeout bounds one REST call.
	SendTimeout time.Duration
}

// messageCreator is the slice of the REST client the gateway uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Gateway is shared by every Transport so the webhook always reaches the
// current one.
type Gateway struct {
	cfg       Config
	log       *zap.Logger
	api       messageCreator
	rest      *twclient.Client
	validator twclient.RequestValidator

	mu      sync.Mutex
	current *Transport
}

// NewGateway creates a gateway with a REST client for the account.
func NewGateway(cfg Config, log *zap.Logger) *Gateway {
	if !strings.HasPrefix(cfg.From, whatsappPrefix) {
		cfg.From = whatsappPrefix + cfg.From
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	base := &twclient.Client{Credentials: twclient.NewCredentials(cfg.AccountSID, cfg.AuthToken)}
	base.SetAccountSid(cfg.AccountSID)
	base.SetTimeout(cfg.SendTimeout)
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
		Client:   base,
	})
	return &Gateway{
		cfg:       cfg,
		log:       log.Named("twilio"),
		api:       client.Api,
		rest:      base,
		validator: twclient.NewRequestValidator(cfg.AuthToken),
	}
}

// Factory returns a session.Factory bound to this gateway.
func (g *Gateway) Factory() session.Factory {
	return func() (session.Transport, error) {
		return &Transport{gw: g}, nil
	}
}

func (g *Gateway) activate(t *Transport) {
	g.mu.Lock()
	g.current = t
	g.mu.Unlock()
}

func (g *Gateway) deactivate(t *Transport) {
	g.mu.Lock()
	if g.current == t {
		g.current = nil
	}
	g.mu.Unlock()
}

func (g *Gateway) active() *Transport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// ServeHTTP receives Twilio's inbound message webhook.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if g.cfg.WebhookURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !g.validator.Validate(g.cfg.WebhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			g.log.Warn("rejected webhook with bad signature", zap.String("remote", r.RemoteAddr))
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.PostForm.Get("From"), whatsappPrefix)
	body := r.PostForm.Get("Body")
	if t := g.active(); t != nil && from != "" && strings.TrimSpace(body) != "" {
		t.emit(session.Event{Kind: session.EventMessage, Message: &domain.InboundMessage{
			Chat:       from,
			Sender:     strings.TrimPrefix(from, "+"),
			PushName:   r.PostForm.Get("ProfileName"),
			Text:       body,
			ReceivedAt: time.Now().UTC(),
		}})
	} else if t == nil {
		g.log.Warn("webhook received while session is down", zap.String("from", from))
	}

	// Empty TwiML: replies go out through the REST API.
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}

// Transport is one activation of the gateway.
type Transport struct {
	gw *Gateway

	mu      sync.Mutex
	sink    session.Sink
	healthy bool
}

var _ session.Transport = (*Transport)(nil)

// Connect activates the webhook route. The account credentials are the
// identity, so the session is ready immediately.
func (t *Transport) Connect(_ context.Context, sink session.Sink) error {
	if t.gw.cfg.AccountSID == "" || t.gw.cfg.AuthToken == "" {
		return errors.New("twilio credentials missing")
	}
	t.mu.Lock()
	t.sink = sink
	t.healthy = true
	t.mu.Unlock()

	t.gw.activate(t)
	sink(session.Event{Kind: session.EventReady})
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

// Send creates an outbound WhatsApp message.
func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := recipient
	if !strings.HasPrefix(to, whatsappPrefix) {
		if !strings.HasPrefix(to, "+") {
			to = "+" + to
		}
		to = whatsappPrefix + to
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.gw.cfg.From)
	params.SetTo(to)
	params.SetBody(text)

	resp, err := t.create(ctx, params)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", domain.ErrSessionCorrupted, err)
		}
		return err
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}
	return nil
}

type createResult struct {
	msg *twilioApi.ApiV2010Message
	err error
}

// create runs CreateMessage, which takes no context, and gives up when ctx
// ends. The HTTP client timeout still bounds the abandoned call.
func (t *Transport) create(ctx context.Context, params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	done := make(chan createResult, 1)
	go func() {
		msg, err := t.gw.api.CreateMessage(params)
		done <- createResult{msg, err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout deactivates the transport; credentials live in configuration.
func (t *Transport) Logout(context.Context) error {
	t.Destroy()
	return nil
}

// Destroy detaches the transport from the webhook.
func (t *Transport) Destroy() {
	t.mu.Lock()
	t.sink = nil
	t.healthy = false
	t.mu.Unlock()
	t.gw.deactivate(t)
}

// Healthy reports whether the transport is active.
func (t *Transport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

// Identity returns the sending number.
func (t *Transport) Identity() string {
	return strings.TrimPrefix(t.gw.cfg.From, whatsappPrefix)
}
