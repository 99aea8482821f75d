package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"goldlend/native/lending"
	"goldlend/services/lendingd/poller"
)

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		writeError(w, errUnavailable)
		return
	}
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Clients only listen; reading is delegated so peer closes cancel ctx.
	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.deps.Stream.Subscribe(ctx, account)
	defer cancel()

	if err := s.streamPositions(ctx, conn, account, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamPositions(ctx context.Context, conn *websocket.Conn, account common.Address, updates <-chan poller.Update) error {
	snapCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	snap, err := s.deps.Fetcher.Snapshot(snapCtx, account)
	cancel()
	if err != nil {
		msg := streamMessage{Type: "error", Error: "snapshot unavailable", At: s.now()}
		if err := writeStreamMessage(ctx, conn, msg); err != nil {
			return err
		}
	} else {
		view := newPositionView(snap.Position, lending.AssessPosition(snap.Market, snap.Position), s.cfg.Network)
		view.Balances = balanceViews(snap.Balances, s.cfg.Network)
		if err := writeStreamMessage(ctx, conn, streamMessage{Type: "snapshot", Position: &view, At: s.now()}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamMessage(ctx, conn, newStreamUpdate(update, s.cfg.Network)); err != nil {
				return err
			}
		}
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
