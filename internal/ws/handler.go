// Package ws adapts one WebSocket connection to the Room it joins,
// generalized from the teacher's single-lobby internal/ws/handler.go
// (which resolved a Room eagerly from a ?code= query param) into
// spec.md §4.6's contract: the room name travels inside the first
// frame's Join payload instead, so admission itself must decode a
// frame before any Room is known.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rracer/server/internal/registry"
	"github.com/rracer/server/pkg/protocol"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 3 * time.Second
)

// connLimiterRate/Burst set the cheap per-connection pre-filter ahead
// of the Room's own authoritative sliding-window check (spec.md
// §4.6: "propagate per-connection rate-limit decisions as a cheap
// pre-filter; the Room remains the authority"), grounded on the
// x/time/rate token bucket the retrieval pack reaches for in
// rakaoran-GuessTheObject and CodeAndHammer-vortludo.
const (
	connLimiterRate  = 40 // keystrokes/sec sustained
	connLimiterBurst = 40
)

// roomHandle is the surface a Connection Handler needs from a Room,
// narrowed from *room.Room so readLoop depends on behavior rather
// than the concrete controller type.
type roomHandle interface {
	Key(name, ch string, ts uint64)
	Reset(name string)
	Leave(name string)
}

func Handler(reg *registry.Registry, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connID := uuid.NewString()
		log := log.With("conn_id", connID)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Dev-only origin loosening would go here; production
			// deployments terminate this behind a same-origin proxy.
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "closing")

		var roomRef roomHandle
		var playerName string
		var outbox chan protocol.ServerMsg

		for roomRef == nil {
			readCtx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(readCtx)
			cancel()
			if err != nil {
				return
			}

			cm, err := protocol.DecodeClient(data)
			if err != nil || cm.Join == nil {
				writeOne(r.Context(), conn, protocol.NewError(protocol.ErrCodeExpectedJoin, "first message must be Join"))
				conn.Close(websocket.StatusPolicyViolation, "expected join")
				return
			}

			rm := reg.GetOrCreate(cm.Join.Room)
			out, errCode, err := rm.Join(cm.Join.Name)
			if err != nil {
				return
			}
			if errCode != "" {
				writeOne(r.Context(), conn, protocol.NewError(errCode, "join rejected"))
				continue // connection stays open; client may retry with a new name or room
			}
			roomRef, playerName, outbox = rm, cm.Join.Name, out
		}
		defer roomRef.Leave(playerName)

		// writeLoop and readLoop are peers: either one exiting (a
		// closed outbox, a dead connection) should tear down the
		// other rather than leaving a goroutine blocked forever.
		group, groupCtx := errgroup.WithContext(r.Context())
		group.Go(func() error {
			writeLoop(groupCtx, conn, outbox)
			return errConnDone
		})

		limiter := rate.NewLimiter(rate.Limit(connLimiterRate), connLimiterBurst)
		group.Go(func() error {
			readLoop(groupCtx, conn, roomRef, playerName, limiter, log)
			return errConnDone
		})
		_ = group.Wait()
	}
}

var errConnDone = errors.New("connection loop finished")

func writeLoop(ctx context.Context, conn *websocket.Conn, outbox chan protocol.ServerMsg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			writeOne(ctx, conn, msg)
		}
	}
}

func writeOne(ctx context.Context, conn *websocket.Conn, msg protocol.ServerMsg) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}

func readLoop(ctx context.Context, conn *websocket.Conn, roomRef roomHandle, playerName string, limiter *rate.Limiter, log *zap.SugaredLogger) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				log.Debugw("connection read error", "player", playerName, "error", err)
			}
			return
		}

		cm, err := protocol.DecodeClient(data)
		if err != nil {
			writeOne(ctx, conn, protocol.NewError(protocol.ErrCodeMalformedMessage, "could not parse frame"))
			continue
		}

		switch {
		case cm.Key != nil:
			if !limiter.Allow() {
				// connection-level pre-filter only; the Room's own
				// sliding window remains the sole authority and will
				// emit RateLimited itself if warranted.
				continue
			}
			roomRef.Key(playerName, cm.Key.Ch, cm.Key.Ts)
		case cm.Reset != nil:
			roomRef.Reset(playerName)
		case cm.Join != nil:
			// already admitted; a repeat Join on an established
			// connection has no defined effect and is ignored.
		}
	}
}
