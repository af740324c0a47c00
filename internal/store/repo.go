package store

import (
	"context"
	"time"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// Repo defines storage operations for users, reminders, chat history,
// todos and per-user settings. Failures of the underlying database are
// wrapped with domain.ErrStoreFailure; missing rows yield domain.ErrNotFound.
type Repo interface {
	EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	UpdateUserLanguage(ctx context.Context, id int64, lang string) error
	UpdateUserTimezone(ctx context.Context, id int64, tz string) error

	CreateReminder(ctx context.Context, userID int64, message string, dueAt time.Time) (*domain.Reminder, error)
	GetReminder(ctx context.Context, id int64) (*domain.Reminder, error)
	GetDueUnsent(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	GetPendingFuture(ctx context.Context, now time.Time) ([]domain.Reminder, error)
	// MarkSentIfUnsent atomically flips sent 0->1 and reports whether this call did it.
	MarkSentIfUnsent(ctx context.Context, id int64, at time.Time) (bool, error)
	// ConfirmDelivered marks a claimed reminder as delivered.
	ConfirmDelivered(ctx context.Context, id int64, at time.Time) error
	// ReleaseReminder undoes a claim after a failed delivery unless the reminder was canceled.
	ReleaseReminder(ctx context.Context, id int64) error
	CancelReminder(ctx context.Context, id int64, at time.Time) (bool, error)
	ListUserReminders(ctx context.Context, userID int64, pendingOnly bool) ([]domain.Reminder, error)

	AppendHistory(ctx context.Context, e *domain.HistoryEntry) (int64, error)
	SetHistoryResponse(ctx context.Context, id int64, response string) error
	ListHistory(ctx context.Context, userID int64, limit int) ([]domain.HistoryEntry, error)

	CreateTodo(ctx context.Context, userID int64, task string) (*domain.Todo, error)
	ListTodos(ctx context.Context, userID int64, completed bool) ([]domain.Todo, error)
	CompleteTodo(ctx context.Context, userID, id int64) (bool, error)
	DeleteTodo(ctx context.Context, userID, id int64) (bool, error)

	SetSetting(ctx context.Context, userID int64, key, value string) error
	GetSetting(ctx context.Context, userID int64, key string) (string, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
