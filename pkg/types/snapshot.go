package types

import "time"

// BanView is one entry of a lobby's ban history. UserID is empty for bans
// forced by a turn timeout.
type BanView struct {
	Side   string    `json:"side"`
	MapID  string    `json:"map_id"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

// SessionView is the display state of a lobby's map-ban phase.
//
//	state: "awaiting_ban" | "resolved"
//	turn:  "alpha" | "bravo", omitted once resolved
type SessionView struct {
	Version     int       `json:"version"`
	LobbyCode   string    `json:"lobby_code"`
	Pool        []string  `json:"pool"`
	Remaining   []string  `json:"remaining"`
	Bans        []BanView `json:"bans"`
	Turn        string    `json:"turn,omitempty"`
	State       string    `json:"state"`
	SelectedMap string    `json:"selected_map,omitempty"`
}

type AdmissionView struct {
	Blocked      bool  `json:"blocked"`
	RemainingSec int64 `json:"remaining_sec"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
