package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/exclusion"
	"github.com/DoyleJ11/lobby-mapban/internal/hub"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	"github.com/DoyleJ11/lobby-mapban/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub, *exclusion.Ledger) {
	t.Helper()
	ledger := exclusion.New()
	h := hub.NewHub(context.Background(), hub.Options{Ledger: ledger})
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	_, err := h.Create(context.Background(), mapban.Config{
		LobbyID: "ZED123",
		Pool:    []string{"Dust", "Mirage", "Ancient"},
		Sides: map[mapban.Side][]string{
			mapban.SideA: {"a1"},
			mapban.SideB: {"b1"},
		},
		FirstTurn: mapban.SideA,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(h, ledger, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, h, ledger
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	return websocket.Dial(ctx, url, nil)
}

func readMsg(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, cm types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(cm)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func TestHandler_StreamsSnapshotsAndBans(t *testing.T) {
	srv, _, _ := newTestServer(t)

	conn, _, err := dial(t, srv, "code=ZED123&user_id=a1")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMsg(t, conn)
	require.Equal(t, "StateSnapshot", first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, "alpha", first.State.Turn)
	assert.Equal(t, []string{"Dust", "Mirage", "Ancient"}, first.State.Remaining)

	send(t, conn, types.ClientMessage{Type: "SubmitBan", MapID: "Dust"})

	next := readMsg(t, conn)
	require.Equal(t, "StateSnapshot", next.Type)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.State.Bans, 1)
	assert.Equal(t, "a1", next.State.Bans[0].UserID)
	assert.Equal(t, "bravo", next.State.Turn)
}

func TestHandler_RejectionIsReportedToSender(t *testing.T) {
	srv, _, _ := newTestServer(t)

	conn, _, err := dial(t, srv, "code=ZED123")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	_ = readMsg(t, conn)

	send(t, conn, types.ClientMessage{Type: "SubmitBan", UserID: "b1", MapID: "Dust"})
	msg := readMsg(t, conn)
	require.Equal(t, "Error", msg.Type)
	assert.Equal(t, "NotYourTurn", msg.Error.Code)

	send(t, conn, types.ClientMessage{Type: "Dance"})
	msg = readMsg(t, conn)
	assert.Equal(t, "BadRequest", msg.Error.Code)
}

func TestHandler_ExcludedUserIsRefused(t *testing.T) {
	srv, _, ledger := newTestServer(t)
	ledger.BlockFor("ZED123", "a1", 90*time.Second)

	_, resp, err := dial(t, srv, "code=ZED123&user_id=a1")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "90", resp.Header.Get("Retry-After"))
}

func TestHandler_UnknownLobby(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, resp, err := dial(t, srv, "code=NOPE")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
