// Package api serves the operator HTTP surface: session control, QR and
// state queries, the transition stream and outbound sends.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/scheduler"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

// Session is the part of session.Manager the operator drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Transition, func())
	Start() error
	Restart() error
	Logout(ctx context.Context) error
	Send(ctx context.Context, recipient, text string) error
}

// Reminders schedules and cancels reminders.
type Reminders interface {
	Schedule(ctx context.Context, userID int64, text string, dueAt time.Time) (*domain.Reminder, error)
	Cancel(ctx context.Context, userID, id int64) error
}

// Users resolves a phone number into a stored user.
type Users interface {
	EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error)
}

// Options configures the server.
type Options struct {
	// BulkPause is the delay between two sends of a bulk request.
	BulkPause time.Duration
	// NormalizePhones rewrites recipients into international digits.
	// Telegram chat ids must be left alone.
	NormalizePhones bool
	DefaultLanguage string
	DefaultTZ       string
	// Webhook, when set, is mounted at /webhooks/twilio.
	Webhook http.Handler
	Now     func() time.Time
}

// Server holds the operator API dependencies.
type Server struct {
	log       *zap.Logger
	session   Session
	reminders Reminders
	users     Users
	opts      Options
}

// New creates a Server.
func New(log *zap.Logger, sess Session, reminders Reminders, users Users, opts Options) *Server {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.DefaultTZ == "" {
		opts.DefaultTZ = "UTC"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		log:       log.Named("api"),
		session:   sess,
		reminders: reminders,
		users:     users,
		opts:      opts,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/qr", s.qr)
		r.Get("/events", s.events)

		r.Route("/session", func(r chi.Router) {
			r.Post("/start", s.start)
			r.Post("/restart", s.restart)
			r.Post("/logout", s.logout)
		})

		r.Post("/messages", s.sendMessage)
		r.Post("/messages/bulk", s.sendBulk)

		r.Post("/reminders", s.createReminder)
		r.Delete("/reminders/{id}", s.cancelReminder)
	})

	if s.opts.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/twilio", s.opts.Webhook)
	}
	return r
}

type ctxKey struct{}

// RequestIDHeader carries the request id on every response.
const RequestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestIDFrom returns the request id stored by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("requestID", RequestIDFrom(r.Context())),
		)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadArguments):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrReminderClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransportFailure), errors.Is(err, domain.ErrSessionCorrupted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err),
			zap.String("path", r.URL.Path), zap.String("requestID", RequestIDFrom(r.Context())))
	}
	Error(w, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Usage("invalid request body: " + err.Error())
	}
	return nil
}
