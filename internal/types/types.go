package types

import (
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	pub "github.com/DoyleJ11/lobby-mapban/pkg/types"
)

// ClientMessage is a frame read from a lobby websocket.
type ClientMessage struct {
	Type   string `json:"type"` // "SubmitBan"
	UserID string `json:"user_id,omitempty"`
	MapID  string `json:"map_id,omitempty"`
}

// ServerMessage is a frame written to a lobby websocket.
type ServerMessage struct {
	Type    string           `json:"type"` // "StateSnapshot" | "Error"
	Version int              `json:"version,omitempty"`
	State   *pub.SessionView `json:"state,omitempty"`
	Error   *pub.ErrorBody   `json:"error,omitempty"`
}

func ViewOf(snap mapban.Snapshot, version int) pub.SessionView {
	v := pub.SessionView{
		Version:     version,
		LobbyCode:   snap.LobbyID,
		Pool:        snap.Pool,
		Remaining:   snap.Remaining,
		Bans:        make([]pub.BanView, 0, len(snap.Bans)),
		State:       string(snap.State),
		SelectedMap: snap.SelectedMap,
	}
	if snap.Turn.Valid() {
		v.Turn = snap.Turn.String()
	}
	for _, b := range snap.Bans {
		v.Bans = append(v.Bans, pub.BanView{
			Side:   b.Side.String(),
			MapID:  b.MapID,
			UserID: b.UserID,
			At:     b.At,
		})
	}
	return v
}

// ConfigOf converts a create request into a session config for lobbyCode.
func ConfigOf(lobbyCode string, req pub.CreateLobbyRequest) (mapban.Config, error) {
	first, err := mapban.ParseSide(req.FirstTurn)
	if err != nil {
		return mapban.Config{}, err
	}
	cfg := mapban.Config{
		LobbyID:   lobbyCode,
		Pool:      req.Pool,
		Sides:     make(map[mapban.Side][]string, len(req.Sides)),
		FirstTurn: first,
	}
	for name, users := range req.Sides {
		side, err := mapban.ParseSide(name)
		if err != nil {
			return mapban.Config{}, err
		}
		cfg.Sides[side] = append(cfg.Sides[side], users...)
	}
	return cfg, nil
}
