// Package bot turns inbound chat text into replies: command routing, rate
// limiting, history recording and per-user ordered processing.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

// Setting keys for the auto-reply policy.
const (
	settingAutoReply     = "autoreply"
	settingAutoReplyText = "autoreply_text"
)

// Store is the persistence the dispatcher and its handlers use.
type Store interface {
	EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error)
	UpdateUserLanguage(ctx context.Context, id int64, lang string) error
	UpdateUserTimezone(ctx context.Context, id int64, tz string) error

	AppendHistory(ctx context.Context, e *domain.HistoryEntry) (int64, error)
	SetHistoryResponse(ctx context.Context, id int64, response string) error

	CreateTodo(ctx context.Context, userID int64, task string) (*domain.Todo, error)
	ListTodos(ctx context.Context, userID int64, completed bool) ([]domain.Todo, error)
	CompleteTodo(ctx context.Context, userID, id int64) (bool, error)
	DeleteTodo(ctx context.Context, userID, id int64) (bool, error)

	SetSetting(ctx context.Context, userID int64, key, value string) error
	GetSetting(ctx context.Context, userID int64, key string) (string, bool, error)
}

// Reminders is the reminder API handlers call. scheduler.Scheduler implements it.
type Reminders interface {
	Schedule(ctx context.Context, userID int64, text string, dueAt time.Time) (*domain.Reminder, error)
	Cancel(ctx context.Context, userID, id int64) error
	List(ctx context.Context, userID int64) ([]domain.Reminder, error)
}

// Limiter gates command execution per (user, command).
type Limiter interface {
	Allow(userID int64, action string) bool
}

// StatusSource reports the session for /status.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// Request is what a handler receives.
type Request struct {
	Args []string
	User *domain.User
	Raw  string
}

// HandlerFunc produces the reply text for a command.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

// Command is a registered chat command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     HandlerFunc
}

// Options tunes the dispatcher.
type Options struct {
	Prefix           string
	GreetNonCommands bool
	HandlerTimeout   time.Duration
	Version          string
}

// Router wires inbound text to command handlers.
type Router struct {
	log       *zap.Logger
	store     Store
	limiter   Limiter
	reminders Reminders
	status    StatusSource
	opts      Options
	now       func() time.Time
	started   time.Time

	commands map[string]*Command // name and aliases, lower case
	ordered  []*Command
}

// NewRouter creates a router with the built-in command set.
func NewRouter(log *zap.Logger, st Store, limiter Limiter, reminders Reminders, status StatusSource, opts Options) *Router {
	if opts.Prefix == "" {
		opts.Prefix = "/"
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	r := &Router{
		log:       log.Named("bot"),
		store:     st,
		limiter:   limiter,
		reminders: reminders,
		status:    status,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		commands:  make(map[string]*Command),
	}
	r.started = r.now()
	r.registerBuiltins()
	return r
}

// Register adds a command, replacing any with the same name or alias.
func (r *Router) Register(c *Command) {
	r.commands[strings.ToLower(c.Name)] = c
	for _, a := range c.Aliases {
		r.commands[strings.ToLower(a)] = c
	}
	for i, existing := range r.ordered {
		if existing.Name == c.Name {
			r.ordered[i] = c
			return
		}
	}
	r.ordered = append(r.ordered, c)
}

// Commands lists registered commands by name.
func (r *Router) Commands() []*Command {
	out := append([]*Command(nil), r.ordered...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HandleInbound processes one message and returns the reply; an empty reply
// means nothing should be sent. A non-nil error classifies the outcome and
// may accompany a reply.
func (r *Router) HandleInbound(ctx context.Context, text string, user *domain.User) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty message: %w", domain.ErrBadArguments)
	}
	tx := textsFor(user.Language)

	if !strings.HasPrefix(text, r.opts.Prefix) {
		reply := r.nonCommandReply(ctx, user, tx)
		r.record(ctx, &domain.HistoryEntry{UserID: user.ID, Message: text}, reply)
		return reply, nil
	}

	fields := strings.Fields(strings.TrimPrefix(text, r.opts.Prefix))
	if len(fields) == 0 {
		return fmt.Sprintf(tx.invalidFormat, r.opts.Prefix), fmt.Errorf("no command name: %w", domain.ErrBadArguments)
	}
	name := strings.ToLower(fields[0])
	cmd, ok := r.commands[name]
	if !ok {
		return fmt.Sprintf(tx.unknownCommand, name, r.opts.Prefix), fmt.Errorf("%s: %w", name, domain.ErrUnknownCommand)
	}

	if !r.limiter.Allow(user.ID, cmd.Name) {
		r.log.Info("rate limited", zap.Int64("userID", user.ID), zap.String("command", cmd.Name))
		return tx.rateLimited, fmt.Errorf("%s: %w", cmd.Name, domain.ErrRateLimited)
	}

	entry := &domain.HistoryEntry{UserID: user.ID, Message: text, Command: cmd.Name}
	if _, err := r.store.AppendHistory(ctx, entry); err != nil {
		r.log.Error("append history failed", zap.Error(err), zap.Int64("userID", user.ID))
	}

	reply := r.run(ctx, cmd, Request{Args: fields[1:], User: user, Raw: text}, tx)

	if entry.ID != 0 {
		if err := r.store.SetHistoryResponse(ctx, entry.ID, reply); err != nil {
			r.log.Error("set history response failed", zap.Error(err), zap.Int64("historyID", entry.ID))
		}
	}
	return reply, nil
}

type result struct {
	reply string
	err   error
}

// run executes the handler under the handler timeout, converting errors and
// panics into reply text.
func (r *Router) run(ctx context.Context, cmd *Command, req Request, tx texts) string {
	ctx, cancel := context.WithTimeout(ctx, r.opts.HandlerTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("panic in %s: %v", cmd.Name, p)}
			}
		}()
		reply, err := cmd.Handler(ctx, req)
		done <- result{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return r.errorReply(cmd, req, res.err, tx)
		}
		return res.reply
	case <-ctx.Done():
		r.log.Warn("handler timed out", zap.String("command", cmd.Name), zap.Int64("userID", req.User.ID))
		return tx.timeout
	}
}

func (r *Router) errorReply(cmd *Command, req Request, err error, tx texts) string {
	var usage *domain.UsageError
	switch {
	case errors.As(err, &usage):
		return usage.Text
	case errors.Is(err, domain.ErrBadArguments):
		if cmd.Usage != "" {
			return cmd.Usage
		}
		return fmt.Sprintf(tx.invalidFormat, r.opts.Prefix)
	case errors.Is(err, domain.ErrNotFound):
		return tx.notFound
	case errors.Is(err, domain.ErrStoreFailure):
		r.log.Error("store failure in handler", zap.Error(err), zap.String("command", cmd.Name), zap.Int64("userID", req.User.ID))
		return tx.storeError
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrTransportFailure), errors.Is(err, domain.ErrSessionCorrupted):
		return tx.tryLater
	case errors.Is(err, context.DeadlineExceeded):
		return tx.timeout
	default:
		r.log.Error("handler failed", zap.Error(err), zap.String("command", cmd.Name), zap.Int64("userID", req.User.ID))
		return tx.processingError
	}
}

// nonCommandReply applies the user's auto-reply policy to plain text.
func (r *Router) nonCommandReply(ctx context.Context, user *domain.User, tx texts) string {
	enabled, _, err := r.store.GetSetting(ctx, user.ID, settingAutoReply)
	if err != nil {
		r.log.Error("read auto-reply setting failed", zap.Error(err), zap.Int64("userID", user.ID))
	}
	if enabled == "on" {
		custom, ok, err := r.store.GetSetting(ctx, user.ID, settingAutoReplyText)
		if err == nil && ok && custom != "" {
			return custom
		}
		return tx.defaultAutoReply
	}
	if r.opts.GreetNonCommands {
		return tx.welcome + "\n\n" + fmt.Sprintf("Type %shelp to see what I can do.", r.opts.Prefix)
	}
	return ""
}

func (r *Router) record(ctx context.Context, e *domain.HistoryEntry, reply string) {
	if reply != "" {
		e.Response = &reply
	}
	if _, err := r.store.AppendHistory(ctx, e); err != nil {
		r.log.Error("append history failed", zap.Error(err), zap.Int64("userID", e.UserID))
	}
}
