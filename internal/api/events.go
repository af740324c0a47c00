package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/Rudii-25/WhatsBotX/internal/session"
)

const eventWriteTimeout = 5 * time.Second

type eventFrame struct {
	Type       string              `json:"type"` // snapshot|transition
	Snapshot   *session.Snapshot   `json:"snapshot,omitempty"`
	Transition *session.Transition `json:"transition,omitempty"`
}

// events streams session transitions over a websocket. The first frame is
// the current snapshot.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	snap := s.session.Snapshot()
	if err := writeFrame(ctx, conn, eventFrame{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := writeFrame(ctx, conn, eventFrame{Type: "transition", Transition: &tr}); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("event stream write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f eventFrame) error {
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}
