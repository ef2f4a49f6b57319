package mapban

import (
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/lobby-mapban/internal/clock"
)

type State string

const (
	StateAwaitingBan State = "awaiting_ban"
	StateResolved    State = "resolved"
)

// Ban is one entry of the append-only ban history. UserID is empty for bans
// forced by a turn timeout.
type Ban struct {
	Side   Side
	MapID  string
	UserID string
	At     time.Time
}

type EventType string

const (
	EvtMapBanned       EventType = "MapBanned"
	EvtTurnAdvanced    EventType = "TurnAdvanced"
	EvtSessionResolved EventType = "SessionResolved"
)

type Event struct {
	Type  EventType
	Side  Side
	MapID string
	Ban   *Ban
}

// Config is supplied by the lobby manager once both sides are ready.
type Config struct {
	LobbyID   string
	Pool      []string
	Sides     map[Side][]string
	FirstTurn Side
}

// Excluder reports users temporarily barred from a lobby.
type Excluder interface {
	IsBlocked(lobbyID, userID string) bool
}

type Option func(*Session)

func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

func WithExcluder(e Excluder) Option { return func(s *Session) { s.excluder = e } }

// Session runs the alternating elimination for a single lobby's map pool.
// It is not safe for concurrent use; its owner serializes calls.
type Session struct {
	lobbyID  string
	pool     []string
	members  map[string]Side
	sides    map[Side][]string
	turn     Side
	banned   []Ban
	state    State
	selected string

	clock    clock.Clock
	excluder Excluder
}

func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	s := &Session{
		lobbyID: cfg.LobbyID,
		pool:    slices.Clone(cfg.Pool),
		members: make(map[string]Side),
		sides:   make(map[Side][]string, 2),
		turn:    cfg.FirstTurn,
		state:   StateAwaitingBan,
		clock:   clock.New(),
	}
	for side, users := range cfg.Sides {
		s.sides[side] = slices.Clone(users)
		for _, u := range users {
			s.members[u] = side
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validate(cfg Config) error {
	if len(cfg.Pool) < 2 {
		return fmt.Errorf("%w: pool needs at least 2 maps, got %d", ErrInvalidConfig, len(cfg.Pool))
	}
	seen := make(map[string]bool, len(cfg.Pool))
	for _, m := range cfg.Pool {
		if m == "" {
			return fmt.Errorf("%w: empty map id", ErrInvalidConfig)
		}
		if seen[m] {
			return fmt.Errorf("%w: duplicate map %q", ErrInvalidConfig, m)
		}
		seen[m] = true
	}
	if !cfg.FirstTurn.Valid() {
		return fmt.Errorf("%w: first turn must be a side", ErrInvalidConfig)
	}
	for side := range cfg.Sides {
		if !side.Valid() {
			return fmt.Errorf("%w: unknown side %d", ErrInvalidConfig, side)
		}
	}
	owner := make(map[string]Side)
	for _, side := range []Side{SideA, SideB} {
		users := cfg.Sides[side]
		if len(users) == 0 {
			return fmt.Errorf("%w: side %s has no members", ErrInvalidConfig, side)
		}
		for _, u := range users {
			if u == "" {
				return fmt.Errorf("%w: empty user id on side %s", ErrInvalidConfig, side)
			}
			if prev, ok := owner[u]; ok && prev != side {
				return fmt.Errorf("%w: user %q is on both sides", ErrInvalidConfig, u)
			}
			owner[u] = side
		}
	}
	return nil
}

// SubmitBan applies a ban by actingUserID. Rejections leave the session
// unchanged. Checks run in this order: authorization (membership and
// exclusion), resolution, turn, map.
func (s *Session) SubmitBan(actingUserID, mapID string) ([]Event, error) {
	side, ok := s.members[actingUserID]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not on either side", ErrNotAuthorized, actingUserID)
	}
	if s.excluder != nil && s.excluder.IsBlocked(s.lobbyID, actingUserID) {
		return nil, fmt.Errorf("%w: %q is excluded from lobby %s", ErrNotAuthorized, actingUserID, s.lobbyID)
	}
	return s.apply(side, actingUserID, mapID)
}

// Chooser picks the map to ban when a turn times out.
type Chooser func(remaining []string) string

// LastRemaining bans the last map of the remaining pool order.
func LastRemaining(remaining []string) string {
	if len(remaining) == 0 {
		return ""
	}
	return remaining[len(remaining)-1]
}

// TimeoutBan bans a map for the side whose turn it is, for use by a per-turn
// deadline. It applies the same resolution, turn and map rules as SubmitBan.
func (s *Session) TimeoutBan(choose Chooser) ([]Event, error) {
	if s.state == StateResolved {
		return nil, ErrSessionResolved
	}
	if choose == nil {
		choose = LastRemaining
	}
	return s.apply(s.turn, "", choose(s.Remaining()))
}

func (s *Session) apply(side Side, userID, mapID string) ([]Event, error) {
	if s.state == StateResolved {
		return nil, ErrSessionResolved
	}
	if side != s.turn {
		return nil, fmt.Errorf("%w: %s acted during %s's turn", ErrNotYourTurn, side, s.turn)
	}
	if !s.isRemaining(mapID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMap, mapID)
	}

	ban := Ban{Side: side, MapID: mapID, UserID: userID, At: s.clock.Now()}
	s.banned = append(s.banned, ban)
	s.turn = side.Other()

	events := []Event{
		{Type: EvtMapBanned, Side: side, MapID: mapID, Ban: &ban},
		{Type: EvtTurnAdvanced, Side: s.turn},
	}

	if remaining := s.Remaining(); len(remaining) == 1 {
		s.state = StateResolved
		s.selected = remaining[0]
		events = append(events, Event{Type: EvtSessionResolved, MapID: s.selected})
	}
	return events, nil
}

// isRemaining also enforces the floor of one map: the survivor can never be
// banned because the session resolves as soon as it is the only one left.
func (s *Session) isRemaining(mapID string) bool {
	if !slices.Contains(s.pool, mapID) {
		return false
	}
	for _, b := range s.banned {
		if b.MapID == mapID {
			return false
		}
	}
	return len(s.pool)-len(s.banned) > 1
}

func (s *Session) LobbyID() string { return s.lobbyID }

func (s *Session) Turn() Side { return s.turn }

func (s *Session) State() State { return s.state }

// SelectedMap is empty until the session is resolved.
func (s *Session) SelectedMap() string { return s.selected }

func (s *Session) Pool() []string { return slices.Clone(s.pool) }

// Members returns the authorized users of a side.
func (s *Session) Members(side Side) []string { return slices.Clone(s.sides[side]) }

// SideOf resolves a user to their side.
func (s *Session) SideOf(userID string) (Side, bool) {
	side, ok := s.members[userID]
	return side, ok
}

// Remaining returns the unbanned maps in pool order.
func (s *Session) Remaining() []string {
	out := make([]string, 0, len(s.pool)-len(s.banned))
	for _, m := range s.pool {
		if !slices.ContainsFunc(s.banned, func(b Ban) bool { return b.MapID == m }) {
			out = append(out, m)
		}
	}
	return out
}

// History returns a copy of the ban history in the order bans were accepted.
func (s *Session) History() []Ban { return slices.Clone(s.banned) }

// Snapshot is a read-only copy of the session for display.
type Snapshot struct {
	LobbyID     string
	Pool        []string
	Remaining   []string
	Bans        []Ban
	Turn        Side
	State       State
	SelectedMap string
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		LobbyID:     s.lobbyID,
		Pool:        s.Pool(),
		Remaining:   s.Remaining(),
		Bans:        s.History(),
		Turn:        s.turn,
		State:       s.state,
		SelectedMap: s.selected,
	}
	if s.state == StateResolved {
		snap.Turn = 0
	}
	return snap
}
