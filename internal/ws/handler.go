package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/exclusion"
	"github.com/DoyleJ11/lobby-mapban/internal/hub"
	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	"github.com/DoyleJ11/lobby-mapban/internal/types"
	pub "github.com/DoyleJ11/lobby-mapban/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 5 * time.Minute
)

// Handler streams a lobby's ban progress. A user_id query parameter marks
// the connection as a participant: excluded users are refused and bans sent
// without an explicit user_id are attributed to it.
func Handler(h *hub.Hub, ledger *exclusion.Ledger, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		userID := r.URL.Query().Get("user_id")
		if userID != "" && ledger.IsBlocked(code, userID) {
			secs := int64(ledger.RemainingTime(code, userID) / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			http.Error(w, "excluded from lobby", http.StatusForbidden)
			return
		}

		lb, err := h.Get(r.Context(), code)
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("lobby", code), zap.String("client", clientID))

		if err := lb.Send(r.Context(), lobby.Join{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusGoingAway, "lobby closed")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = lb.Send(ctx, lobby.Leave{ClientID: clientID})
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				view := types.ViewOf(snap.State, snap.Version)
				write(writeCtx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, State: &view})
			}
			// lobby dropped us or shut down
			conn.Close(websocket.StatusGoingAway, "lobby closed")
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("ws read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeErr(r.Context(), conn, "BadRequest", "bad json")
				continue
			}

			switch cm.Type {
			case "SubmitBan":
				actor := cm.UserID
				if actor == "" {
					actor = userID
				}
				if _, err := lb.Submit(r.Context(), actor, cm.MapID); err != nil {
					kind := mapban.KindOf(err)
					if kind == mapban.KindUnknown {
						writeErr(r.Context(), conn, "LobbyClosed", err.Error())
						return
					}
					writeErr(r.Context(), conn, string(kind), err.Error())
				}
			default:
				writeErr(r.Context(), conn, "BadRequest", "unknown type")
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func writeErr(ctx context.Context, conn *websocket.Conn, code, msg string) {
	write(ctx, conn, types.ServerMessage{Type: "Error", Error: &pub.ErrorBody{Code: code, Message: msg}})
}
