package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Rudii-25/WhatsBotX/internal/api"
	"github.com/Rudii-25/WhatsBotX/internal/bot"
	"github.com/Rudii-25/WhatsBotX/internal/config"
	"github.com/Rudii-25/WhatsBotX/internal/ratelimit"
	"github.com/Rudii-25/WhatsBotX/internal/scheduler"
	"github.com/Rudii-25/WhatsBotX/internal/session"
	"github.com/Rudii-25/WhatsBotX/internal/store"
	"github.com/Rudii-25/WhatsBotX/internal/transport/telegram"
	"github.com/Rudii-25/WhatsBotX/internal/transport/twilio"
	"github.com/Rudii-25/WhatsBotX/internal/transport/whatsapp"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	version string
}

func New(cfg config.Config, log *zap.Logger, version string) *App {
	return &App{cfg: cfg, log: log, version: version}
}

// transportSetup is what the selected transport contributes to the app.
type transportSetup struct {
	factory   session.Factory
	webhook   http.Handler // twilio only
	normalize bool         // operator recipients are phone numbers
	close     func() error
}

func (a *App) openTransport(ctx context.Context) (transportSetup, error) {
	switch a.cfg.Transport {
	case config.TransportWhatsApp:
		gw, err := whatsapp.Open(ctx, a.cfg.SessionDBPath, a.log)
		if err != nil {
			return transportSetup{}, fmt.Errorf("open whatsapp device store: %w", err)
		}
		return transportSetup{factory: gw.Factory(), normalize: true, close: gw.Close}, nil

	case config.TransportTelegram:
		return transportSetup{
			factory: telegram.Factory(telegram.Config{
				Token:       a.cfg.BotToken,
				SendTimeout: a.cfg.SendTimeout,
			}, a.log),
		}, nil

	case config.TransportTwilio:
		gw := twilio.NewGateway(twilio.Config{
			AccountSID:  a.cfg.TwilioAccountSID,
			AuthToken:   a.cfg.TwilioAuthToken,
			From:        a.cfg.TwilioFrom,
			WebhookURL:  a.cfg.TwilioWebhookURL,
			SendTimeout: a.cfg.SendTimeout,
		}, a.log)
		return transportSetup{factory: gw.Factory(), webhook: gw, normalize: true}, nil
	}
	return transportSetup{}, fmt.Errorf("unknown transport %q", a.cfg.Transport)
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal
// error, then shuts down in order: inbox, scheduler, session, HTTP, store.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting whatsbotx",
		zap.String("version", a.version),
		zap.String("transport", a.cfg.Transport),
		zap.String("http", a.cfg.HTTPAddr),
		zap.Bool("api", a.cfg.APIEnabled),
	)

	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			a.log.Warn("close sqlite", zap.Error(err))
		}
	}()
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	tr, err := a.openTransport(ctx)
	if err != nil {
		return err
	}
	if tr.close != nil {
		defer func() {
			if err := tr.close(); err != nil {
				a.log.Warn("close transport store", zap.Error(err))
			}
		}()
	}

	mgr := session.NewManager(a.log, tr.factory, session.Config{
		SendTimeout:        a.cfg.SendTimeout,
		ReconnectDelay:     a.cfg.ReconnectDelay,
		ReconnectMaxDelay:  a.cfg.ReconnectMaxDelay,
		AuthTimeout:        a.cfg.AuthTimeout,
		HealthPollInterval: a.cfg.HealthPollInterval,
	})
	limiter := ratelimit.New(a.cfg.RateLimitWindow, a.cfg.RateLimitMax)
	sched := scheduler.New(repo, mgr, a.log, scheduler.WithInterval(a.cfg.SweepInterval))

	router := bot.NewRouter(a.log, repo, limiter, sched, mgr, bot.Options{
		Prefix:           a.cfg.Prefix,
		GreetNonCommands: a.cfg.GreetNonCommand,
		HandlerTimeout:   a.cfg.HandlerTimeout,
		Version:          a.version,
	})
	inbox := bot.NewInbox(a.log, router, repo, mgr, bot.InboxOptions{
		QueueSize:       a.cfg.InboxSize,
		IdleTimeout:     a.cfg.InboxIdleTimeout,
		DefaultLanguage: a.cfg.DefaultLanguage,
		DefaultTZ:       a.cfg.DefaultTZ,
	})
	mgr.OnMessage(inbox.Deliver)

	var srv *http.Server
	if a.cfg.APIEnabled {
		operator := api.New(a.log, mgr, sched, repo, api.Options{
			BulkPause:       a.cfg.BulkSendPause,
			NormalizePhones: tr.normalize,
			DefaultLanguage: a.cfg.DefaultLanguage,
			DefaultTZ:       a.cfg.DefaultTZ,
			Webhook:         tr.webhook,
		})
		srv = &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           operator.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if srv != nil {
		g.Go(func() error {
			a.log.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		// A failed first connect is retried by the manager itself.
		if err := mgr.Start(); err != nil {
			a.log.Warn("session start failed, retrying in background", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")
		a.shutdown(inbox, sched, mgr, srv)
		return nil
	})

	return g.Wait()
}

func (a *App) shutdown(inbox *bot.Inbox, sched *scheduler.Scheduler, mgr *session.Manager, srv *http.Server) {
	shCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := inbox.Close(shCtx); err != nil {
		a.log.Warn("inbox drain incomplete", zap.Error(err))
	}
	if err := sched.Stop(shCtx); err != nil {
		a.log.Warn("scheduler stop incomplete", zap.Error(err))
	}
	mgr.Stop()
	if srv != nil {
		if err := srv.Shutdown(shCtx); err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
