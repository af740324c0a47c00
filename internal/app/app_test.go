package app

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/config"
)

func TestOpenTransport(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.Config
		wantWebhook bool
		wantNorm    bool
		wantErr     bool
	}{
		{
			name: "telegram",
			cfg:  config.Config{Transport: config.TransportTelegram, BotToken: "123:abc"},
		},
		{
			name: "twilio",
			cfg: config.Config{
				Transport:        config.TransportTwilio,
				TwilioAccountSID: "AC123",
				TwilioAuthToken:  "secret",
				TwilioFrom:       "+14155238886",
			},
			wantWebhook: true,
			wantNorm:    true,
		},
		{
			name:    "unknown",
			cfg:     config.Config{Transport: "carrier-pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.cfg, zap.NewNop(), "test")
			tr, err := a.openTransport(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openTransport: %v", err)
			}
			if tr.factory == nil {
				t.Fatalf("factory is nil")
			}
			if (tr.webhook != nil) != tt.wantWebhook {
				t.Fatalf("webhook = %v, want %v", tr.webhook != nil, tt.wantWebhook)
			}
			if tr.normalize != tt.wantNorm {
				t.Fatalf("normalize = %v, want %v", tr.normalize, tt.wantNorm)
			}
		})
	}
}

func TestOpenTransportWhatsAppCreatesDeviceStore(t *testing.T) {
	cfg := config.Config{
		Transport:     config.TransportWhatsApp,
		SessionDBPath: filepath.Join(t.TempDir(), "sessions", "wa.db"),
	}
	tr, err := New(cfg, zap.NewNop(), "test").openTransport(context.Background())
	if err != nil {
		t.Fatalf("openTransport: %v", err)
	}
	if tr.close == nil || !tr.normalize {
		t.Fatalf("unexpected setup: %+v", tr)
	}
	if err := tr.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
