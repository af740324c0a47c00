package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) qr(w http.ResponseWriter, _ *http.Request) {
	snap := s.session.Snapshot()
	if snap.QR == nil {
		JSON(w, http.StatusNotFound, map[string]any{
			"error": "no qr code pending",
			"state": snap.State,
		})
		return
	}
	JSON(w, http.StatusOK, snap.QR)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(); err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Restart(); err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("session logged out by operator", zap.String("requestID", RequestIDFrom(r.Context())))
	JSON(w, http.StatusOK, s.session.Snapshot())
}

type messageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResult struct {
	To    string `json:"to"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to := s.recipient(req.To)
	if to == "" || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "to and text are required")
		return
	}
	if err := s.session.Send(r.Context(), to, req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sendResult{To: to, OK: true})
}

type bulkRequest struct {
	To   []string `json:"to"`
	Text string   `json:"text"`
}

// sendBulk sends one message per recipient, in order, pausing between sends.
// Individual failures are reported per recipient and do not stop the batch.
func (s *Server) sendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.To) == 0 || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "to and text are required")
		return
	}

	ctx := r.Context()
	results := make([]sendResult, 0, len(req.To))
	sent := 0
	for i, raw := range req.To {
		if i > 0 {
			if err := pause(ctx, s.opts.BulkPause); err != nil {
				break
			}
		}
		res := sendResult{To: s.recipient(raw)}
		switch {
		case res.To == "":
			res.Error = "invalid recipient"
		default:
			if err := s.session.Send(ctx, res.To, req.Text); err != nil {
				res.Error = err.Error()
			} else {
				res.OK = true
				sent++
			}
		}
		results = append(results, res)
	}

	s.log.Info("bulk send finished",
		zap.Int("requested", len(req.To)), zap.Int("sent", sent),
		zap.String("requestID", RequestIDFrom(ctx)))
	JSON(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"failed":  len(results) - sent,
		"results": results,
	})
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type reminderRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
	// Either an absolute RFC 3339 time or a "when" expression such as
	// "30m", "15:30" or "tomorrow" evaluated in the user's time zone.
	DueAt *time.Time `json:"due_at,omitempty"`
	When  string     `json:"when,omitempty"`
}

type reminderResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	DueAt     time.Time `json:"due_at"`
}

func (s *Server) createReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	phone := s.recipient(req.Phone)
	if phone == "" {
		Error(w, http.StatusBadRequest, "phone is required")
		return
	}

	ctx := r.Context()
	user, err := s.users.EnsureUser(ctx, &domain.User{
		Phone:    phone,
		Language: s.opts.DefaultLanguage,
		TZ:       s.opts.DefaultTZ,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.opts.Now().UTC()
	var due time.Time
	switch {
	case req.DueAt != nil:
		due = req.DueAt.UTC()
		if !due.After(now) {
			Error(w, http.StatusBadRequest, "due_at must be in the future")
			return
		}
	case req.When != "":
		due, err = domain.ResolveRemindAt(now, req.When, user.Location())
		if err != nil {
			Error(w, http.StatusBadRequest, fmt.Sprintf("when: %v", err))
			return
		}
	default:
		Error(w, http.StatusBadRequest, "due_at or when is required")
		return
	}

	rem, err := s.reminders.Schedule(ctx, user.ID, req.Text, due)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, reminderResponse{
		ID:        rem.ID,
		UserID:    rem.UserID,
		Recipient: phone,
		Message:   rem.Message,
		DueAt:     rem.DueAt,
	})
}

func (s *Server) cancelReminder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid reminder id")
		return
	}
	if err := s.reminders.Cancel(r.Context(), 0, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			Error(w, http.StatusNotFound, "reminder not found")
			return
		}
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"id": id, "canceled": true})
}
