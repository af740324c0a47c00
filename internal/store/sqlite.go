package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const userColumns = `id, phone, name, language, tz, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                    domain.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.Language, &u.TZ, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = unix(createdAt)
	u.UpdatedAt = unix(updatedAt)
	return &u, nil
}

// EnsureUser inserts the user keyed by phone if missing and returns the stored row.
// An existing row keeps its settings; only a non-empty display name is refreshed.
func (r *SQLiteRepo) EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u == nil || u.Phone == "" {
		return nil, errors.New("ensure user: empty phone")
	}
	now := r.now().Unix()
	lang := u.Language
	if lang == "" {
		lang = "en"
	}
	tz := u.TZ
	if tz == "" {
		tz = "UTC"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (phone, name, language, tz, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name       = excluded.name,
			updated_at = excluded.updated_at
		WHERE excluded.name != '' AND excluded.name != users.name`,
		u.Phone, u.Name, lang, tz, now, now,
	)
	if err != nil {
		return nil, storeErr("ensure user", err)
	}
	return r.GetUserByPhone(ctx, u.Phone)
}

// GetUser returns a user by id.
func (r *SQLiteRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return u, nil
}

// GetUserByPhone returns a user by phone number.
func (r *SQLiteRepo) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", phone, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get user by phone", err)
	}
	return u, nil
}

// UpdateUserLanguage sets the user's language preference.
func (r *SQLiteRepo) UpdateUserLanguage(ctx context.Context, id int64, lang string) error {
	return r.updateUser(ctx, "update language", `UPDATE users SET language = ?, updated_at = ? WHERE id = ?`, lang, id)
}

// UpdateUserTimezone sets the user's IANA time zone.
func (r *SQLiteRepo) UpdateUserTimezone(ctx context.Context, id int64, tz string) error {
	return r.updateUser(ctx, "update timezone", `UPDATE users SET tz = ?, updated_at = ? WHERE id = ?`, tz, id)
}

func (r *SQLiteRepo) updateUser(ctx context.Context, op, query, value string, id int64) error {
	res, err := r.db.ExecContext(ctx, query, value, r.now().Unix(), id)
	if err != nil {
		return storeErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: user %d: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

const reminderColumns = `r.id, r.user_id, u.phone, r.message, r.due_at, r.sent, r.created_at, r.sent_at, r.canceled_at, r.delivered_at`

func scanReminder(row rowScanner) (domain.Reminder, error) {
	var (
		rem                domain.Reminder
		dueAt, createdAt   int64
		sent               int
		sentAt, canceledAt sql.NullInt64
		deliveredAt        sql.NullInt64
	)
	if err := row.Scan(&rem.ID, &rem.UserID, &rem.Recipient, &rem.Message, &dueAt, &sent, &createdAt, &sentAt, &canceledAt, &deliveredAt); err != nil {
		return domain.Reminder{}, err
	}
	rem.DueAt = unix(dueAt)
	rem.Sent = sent != 0
	rem.CreatedAt = unix(createdAt)
	rem.SentAt = fromNullInt64(sentAt)
	rem.CanceledAt = fromNullInt64(canceledAt)
	rem.DeliveredAt = fromNullInt64(deliveredAt)
	return rem, nil
}

func (r *SQLiteRepo) queryReminders(ctx context.Context, op, where string, args ...any) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders r JOIN users u ON u.id = r.user_id
		`+where, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// CreateReminder stores a new unsent reminder for the user.
func (r *SQLiteRepo) CreateReminder(ctx context.Context, userID int64, message string, dueAt time.Time) (*domain.Reminder, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (user_id, message, due_at, sent, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		userID, message, dueAt.UTC().Unix(), r.now().Unix(),
	)
	if err != nil {
		return nil, storeErr("create reminder", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create reminder", err)
	}
	return r.GetReminder(ctx, id)
}

// GetReminder returns a reminder by id, with Recipient filled from its owner.
func (r *SQLiteRepo) GetReminder(ctx context.Context, id int64) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders r JOIN users u ON u.id = r.user_id
		WHERE r.id = ?`, id)
	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get reminder", err)
	}
	return &rem, nil
}

// GetDueUnsent returns unsent reminders with due_at <= now, oldest first.
func (r *SQLiteRepo) GetDueUnsent(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryReminders(ctx, "get due reminders",
		`WHERE r.sent = 0 AND r.due_at <= ? ORDER BY r.due_at ASC, r.id ASC LIMIT ?`,
		now.UTC().Unix(), limit)
}

// GetPendingFuture returns unsent reminders due strictly after now.
func (r *SQLiteRepo) GetPendingFuture(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	return r.queryReminders(ctx, "get pending reminders",
		`WHERE r.sent = 0 AND r.due_at > ? ORDER BY r.due_at ASC, r.id ASC`,
		now.UTC().Unix())
}

// MarkSentIfUnsent claims the reminder for delivery. Exactly one concurrent
// caller observes true.
func (r *SQLiteRepo) MarkSentIfUnsent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
		at.UTC().Unix(), id)
	if err != nil {
		return false, storeErr("mark reminder sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("mark reminder sent", err)
	}
	return n == 1, nil
}

// ConfirmDelivered records that a claimed reminder went out. A reminder
// canceled while its send was in flight stays canceled.
func (r *SQLiteRepo) ConfirmDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET delivered_at = ? WHERE id = ? AND sent = 1 AND canceled_at IS NULL`,
		at.UTC().Unix(), id)
	if err != nil {
		return storeErr("confirm reminder delivered", err)
	}
	return nil
}

// ReleaseReminder returns a claimed, undelivered reminder to the unsent pool
// unless it was canceled meanwhile.
func (r *SQLiteRepo) ReleaseReminder(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 0, sent_at = NULL
		 WHERE id = ? AND sent = 1 AND canceled_at IS NULL AND delivered_at IS NULL`,
		id)
	if err != nil {
		return storeErr("release reminder", err)
	}
	return nil
}

// CancelReminder voids a reminder that has not been delivered, including one
// whose send is in flight: a failed send then cannot release it. It reports
// false when the reminder was already delivered or canceled.
func (r *SQLiteRepo) CancelReminder(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 1, canceled_at = ?
		 WHERE id = ? AND canceled_at IS NULL AND delivered_at IS NULL`,
		at.UTC().Unix(), id)
	if err != nil {
		return false, storeErr("cancel reminder", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("cancel reminder", err)
	}
	return n == 1, nil
}

// ListUserReminders returns the user's reminders ordered by due time.
func (r *SQLiteRepo) ListUserReminders(ctx context.Context, userID int64, pendingOnly bool) ([]domain.Reminder, error) {
	where := `WHERE r.user_id = ?`
	if pendingOnly {
		where += ` AND r.sent = 0`
	}
	return r.queryReminders(ctx, "list reminders", where+` ORDER BY r.due_at ASC, r.id ASC`, userID)
}

// AppendHistory records an inbound message. A nil Response is stored as NULL.
func (r *SQLiteRepo) AppendHistory(ctx context.Context, e *domain.HistoryEntry) (int64, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	var resp sql.NullString
	if e.Response != nil {
		resp = sql.NullString{String: *e.Response, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, message, response, command, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Message, resp, e.Command, created.UTC().Unix(),
	)
	if err != nil {
		return 0, storeErr("append history", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("append history", err)
	}
	e.ID = id
	return id, nil
}

// SetHistoryResponse fills in the response of a history row.
func (r *SQLiteRepo) SetHistoryResponse(ctx context.Context, id int64, response string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_history SET response = ? WHERE id = ?`, response, id)
	if err != nil {
		return storeErr("set history response", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListHistory returns the most recent history rows for a user, newest first.
func (r *SQLiteRepo) ListHistory(ctx context.Context, userID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, message, response, command, created_at
		FROM chat_history
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, storeErr("list history", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e         domain.HistoryEntry
			resp      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &resp, &e.Command, &createdAt); err != nil {
			return nil, storeErr("list history", err)
		}
		e.Response = fromNullString(resp)
		e.CreatedAt = unix(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list history", err)
	}
	return out, nil
}

// CreateTodo adds an open todo for the user.
func (r *SQLiteRepo) CreateTodo(ctx context.Context, userID int64, task string) (*domain.Todo, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO todos (user_id, task, completed, created_at)
		VALUES (?, ?, 0, ?)`, userID, task, now.Unix())
	if err != nil {
		return nil, storeErr("create todo", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create todo", err)
	}
	return &domain.Todo{ID: id, UserID: userID, Task: task, CreatedAt: unix(now.Unix())}, nil
}

// ListTodos returns the user's todos with the given completion state.
func (r *SQLiteRepo) ListTodos(ctx context.Context, userID int64, completed bool) ([]domain.Todo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, task, completed, created_at, completed_at
		FROM todos
		WHERE user_id = ? AND completed = ?
		ORDER BY id ASC`, userID, boolToInt(completed))
	if err != nil {
		return nil, storeErr("list todos", err)
	}
	defer rows.Close()

	var out []domain.Todo
	for rows.Next() {
		var (
			t           domain.Todo
			done        int
			createdAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Task, &done, &createdAt, &completedAt); err != nil {
			return nil, storeErr("list todos", err)
		}
		t.Completed = done != 0
		t.CreatedAt = unix(createdAt)
		t.CompletedAt = fromNullInt64(completedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list todos", err)
	}
	return out, nil
}

// CompleteTodo marks an open todo done. It reports false if the todo does
// not belong to the user or is already complete.
func (r *SQLiteRepo) CompleteTodo(ctx context.Context, userID, id int64) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE todos SET completed = 1, completed_at = ?
		WHERE id = ? AND user_id = ? AND completed = 0`,
		toNullInt64(&now), id, userID)
	if err != nil {
		return false, storeErr("complete todo", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DeleteTodo removes a todo owned by the user.
func (r *SQLiteRepo) DeleteTodo(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, storeErr("delete todo", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetSetting upserts a per-user key/value pair.
func (r *SQLiteRepo) SetSetting(ctx context.Context, userID int64, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		userID, key, value, r.now().Unix())
	if err != nil {
		return storeErr("set setting", err)
	}
	return nil
}

// GetSetting reads a per-user setting. ok is false when the key is unset.
func (r *SQLiteRepo) GetSetting(ctx context.Context, userID int64, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get setting", err)
	}
	return value, true, nil
}

var _ Repo = (*SQLiteRepo)(nil)
