package types

// CreateLobbyRequest is sent by the lobby manager once both sides are ready.
//
//	{
//	  "pool": ["Dust", "Mirage", "Inferno", "Nuke", "Ancient"],
//	  "sides": {"alpha": ["u1"], "bravo": ["u2"]},
//	  "first_turn": "alpha"
//	}
type CreateLobbyRequest struct {
	Pool      []string            `json:"pool"`
	Sides     map[string][]string `json:"sides"`
	FirstTurn string              `json:"first_turn"`
}

type CreateLobbyResponse struct {
	Code string `json:"code"`
}

type BanRequest struct {
	UserID string `json:"user_id"`
	MapID  string `json:"map_id"`
}

// BlockRequest excludes a removed user from the lobby. DurationSec of zero
// applies the configured cooldown.
type BlockRequest struct {
	UserID      string `json:"user_id"`
	DurationSec int64  `json:"duration_sec,omitempty"`
}

type BlockResponse struct {
	UserID       string `json:"user_id"`
	RemainingSec int64  `json:"remaining_sec"`
}
