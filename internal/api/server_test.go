package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/scheduler"
	"github.com/Rudii-25/WhatsBotX/internal/session"
)

type fakeSession struct {
	mu       sync.Mutex
	snap     session.Snapshot
	sent     []string
	sendErr  map[string]error
	starts   int
	restarts int
	logouts  int
	events   chan session.Transition
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe() (<-chan session.Transition, func()) {
	return f.events, func() {}
}

func (f *fakeSession) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.snap.State = domain.StateConnecting
	return nil
}

func (f *fakeSession) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.snap = session.Snapshot{State: domain.StateDisconnected}
	return nil
}

func (f *fakeSession) Send(_ context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, recipient+":"+text)
	return nil
}

type fakeReminders struct {
	scheduled []domain.Reminder
	cancelErr error
	canceled  []int64
}

func (f *fakeReminders) Schedule(_ context.Context, userID int64, text string, dueAt time.Time) (*domain.Reminder, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Usage("reminder text is empty")
	}
	rem := domain.Reminder{ID: int64(len(f.scheduled) + 1), UserID: userID, Message: text, DueAt: dueAt}
	f.scheduled = append(f.scheduled, rem)
	return &rem, nil
}

func (f *fakeReminders) Cancel(_ context.Context, _ int64, id int64) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}

type fakeUsers struct {
	phones []string
	tz     string
}

func (f *fakeUsers) EnsureUser(_ context.Context, u *domain.User) (*domain.User, error) {
	f.phones = append(f.phones, u.Phone)
	cp := *u
	cp.ID = 7
	if f.tz != "" {
		cp.TZ = f.tz
	}
	return &cp, nil
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	sess  *fakeSession
	rems  *fakeReminders
	users *fakeUsers
	h     http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		sess:  &fakeSession{events: make(chan session.Transition, 4)},
		rems:  &fakeReminders{},
		users: &fakeUsers{},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	f.h = New(zap.NewNop(), f.sess, f.rems, f.users, opts).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	return got
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	_, err := uuid.Parse(rr.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	rr = httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	assert.Equal(t, id, rr.Header().Get(RequestIDHeader))
}

func TestStatusAndQR(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodGet, "/api/qr", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	f.sess.snap = session.Snapshot{
		State: domain.StateAwaitingScan,
		QR:    &domain.QRToken{Code: "2@abc", IssuedAt: fixedNow},
	}
	rr = f.do(t, http.MethodGet, "/api/qr", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2@abc", decodeBody(t, rr)["code"])

	rr = f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody(t, rr)
	assert.Equal(t, "awaiting_scan", got["state"])
	assert.NotNil(t, got["qr"])
}

func TestSessionControl(t *testing.T) {
	f := newFixture(t, Options{})
	f.sess.snap = session.Snapshot{State: domain.StateReady, Identity: "9199"}

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/session/start", nil).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/session/restart", nil).Code)
	rr := f.do(t, http.MethodPost, "/api/session/logout", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "disconnected", decodeBody(t, rr)["state"])

	assert.Equal(t, 1, f.sess.starts)
	assert.Equal(t, 1, f.sess.restarts)
	assert.Equal(t, 1, f.sess.logouts)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/session/start", nil).Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, Options{NormalizePhones: true})

	rr := f.do(t, http.MethodPost, "/api/messages", messageRequest{To: "98765 43210", Text: "hi"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"919876543210:hi"}, f.sess.sent)

	rr = f.do(t, http.MethodPost, "/api/messages", messageRequest{To: "", Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/messages", map[string]string{"bogus": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.sess.sendErr = map[string]error{"15550001111": fmt.Errorf("send: %w", domain.ErrNotReady)}
	rr = f.do(t, http.MethodPost, "/api/messages", messageRequest{To: "+1 555 000 1111", Text: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSendMessageKeepsTelegramIDs(t *testing.T) {
	f := newFixture(t, Options{NormalizePhones: false})
	rr := f.do(t, http.MethodPost, "/api/messages", messageRequest{To: "1234567890", Text: "hi"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"1234567890:hi"}, f.sess.sent)
}

func TestSendBulk(t *testing.T) {
	f := newFixture(t, Options{NormalizePhones: true, BulkPause: time.Millisecond})
	f.sess.sendErr = map[string]error{"911111111111": fmt.Errorf("%w: boom", domain.ErrTransportFailure)}

	rr := f.do(t, http.MethodPost, "/api/messages/bulk", bulkRequest{
		To:   []string{"9000000000", "1111111111", "---", "9222222222"},
		Text: "sale",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody(t, rr)
	assert.EqualValues(t, 2, got["sent"])
	assert.EqualValues(t, 2, got["failed"])
	assert.Equal(t, []string{"919000000000:sale", "919222222222:sale"}, f.sess.sent)

	results := got["results"].([]any)
	require.Len(t, results, 4)
	assert.Equal(t, "invalid recipient", results[2].(map[string]any)["error"])
}

func TestCreateReminder(t *testing.T) {
	f := newFixture(t, Options{NormalizePhones: true})
	f.users.tz = "Asia/Kolkata"

	rr := f.do(t, http.MethodPost, "/api/reminders", reminderRequest{Phone: "9876543210", Text: "Tea", When: "30m"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, f.rems.scheduled, 1)
	assert.Equal(t, fixedNow.Add(30*time.Minute), f.rems.scheduled[0].DueAt)
	assert.Equal(t, int64(7), f.rems.scheduled[0].UserID)
	assert.Equal(t, []string{"919876543210"}, f.users.phones)

	// 18:00 IST is 12:30 UTC.
	rr = f.do(t, http.MethodPost, "/api/reminders", reminderRequest{Phone: "9876543210", Text: "Call", When: "18:00"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC), f.rems.scheduled[1].DueAt)

	due := fixedNow.Add(2 * time.Hour)
	rr = f.do(t, http.MethodPost, "/api/reminders", reminderRequest{Phone: "9876543210", Text: "Abs", DueAt: &due})
	require.Equal(t, http.StatusCreated, rr.Code)

	past := fixedNow.Add(-time.Minute)
	for name, body := range map[string]reminderRequest{
		"no time":    {Phone: "9876543210", Text: "x"},
		"bad when":   {Phone: "9876543210", Text: "x", When: "someday"},
		"past":       {Phone: "9876543210", Text: "x", DueAt: &past},
		"no phone":   {Text: "x", When: "5m"},
		"empty text": {Phone: "9876543210", Text: " ", When: "5m"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/reminders", body).Code)
		})
	}
}

func TestCancelReminder(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/reminders/12", nil).Code)
	assert.Equal(t, []int64{12}, f.rems.canceled)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/reminders/abc", nil).Code)

	f.rems.cancelErr = fmt.Errorf("reminder 3: %w", domain.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/reminders/3", nil).Code)

	f.rems.cancelErr = scheduler.ErrReminderClosed
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/api/reminders/4", nil).Code)

	f.rems.cancelErr = errors.New("disk on fire")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodDelete, "/api/reminders/5", nil).Code)
}

func TestWebhookMountedOnlyWhenSet(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/webhooks/twilio", nil).Code)

	called := false
	f = newFixture(t, Options{Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})})
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/webhooks/twilio", nil).Code)
	assert.True(t, called)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, Options{})
	f.sess.snap = session.Snapshot{State: domain.StateConnecting}
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var frame eventFrame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, "snapshot", frame.Type)
	require.NotNil(t, frame.Snapshot)
	assert.Equal(t, domain.StateConnecting, frame.Snapshot.State)

	f.sess.events <- session.Transition{
		From: domain.StateConnecting,
		To:   domain.StateAwaitingScan,
		QR:   &domain.QRToken{Code: "2@qr"},
		At:   fixedNow,
	}
	frame = eventFrame{}
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, "transition", frame.Type)
	require.NotNil(t, frame.Transition)
	assert.Equal(t, domain.StateAwaitingScan, frame.Transition.To)
	assert.Equal(t, "2@qr", frame.Transition.QR.Code)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestNormalizePhone(t *testing.T) {
	for in, want := range map[string]string{
		"9876543210":        "919876543210",
		"+91 98765-43210":   "919876543210",
		"(555) 000-1111":    "915550001111",
		"+1 415 555 2671 ":  "14155552671",
		"abc":               "",
		"919876543210@c.us": "919876543210",
	} {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}
