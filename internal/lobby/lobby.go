package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/clock"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	"github.com/DoyleJ11/lobby-mapban/internal/obs"
)

var ErrLobbyClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

type SubmitBan struct {
	UserID string
	MapID  string
	Reply  chan BanResult // optional
}

func (SubmitBan) isLobbyMsg() {}

// BanResult carries the outcome of one SubmitBan. On success Snapshot is
// the lobby state right after this ban was applied.
type BanResult struct {
	Events   []mapban.Event
	Snapshot Snapshot
	Err      error
}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// turnExpired is sent by the turn timer; gen discards fires from turns that
// already ended.
type turnExpired struct{ gen int }

func (turnExpired) isLobbyMsg() {}

type Snapshot struct {
	Version int
	State   mapban.Snapshot
}

type View struct {
	Version    int
	NumClients int
	State      mapban.Snapshot
}

// Result is handed to OnResolved once the ban phase produced a map.
type Result struct {
	LobbyCode   string
	Pool        []string
	Bans        []mapban.Ban
	SelectedMap string
	ResolvedAt  time.Time
}

type Options struct {
	Logger  *zap.Logger
	Clock   clock.Clock
	Chooser mapban.Chooser
	Metrics *obs.Metrics

	// TurnTimeout forces a ban for the side on turn when it elapses. Zero
	// disables the timer.
	TurnTimeout time.Duration

	// OnResolved runs on the lobby goroutine and must not block.
	OnResolved func(Result)
}

type Lobby struct {
	inbox   chan Msg
	session *mapban.Session
	version int
	clients map[string]chan Snapshot
	opts    Options
	log     *zap.Logger

	timer    clock.Timer
	timerGen int
	resolved bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, session *mapban.Session, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		session: session,
		clients: make(map[string]chan Snapshot),
		opts:    opts,
		log:     opts.Logger.With(zap.String("lobby", session.LobbyID())),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.armTimer()

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- l.snapshot()

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}

			case SubmitBan:
				events, err := l.session.SubmitBan(msg.UserID, msg.MapID)
				if err != nil {
					l.log.Debug("ban rejected",
						zap.String("user", msg.UserID),
						zap.String("map", msg.MapID),
						zap.String("kind", string(mapban.KindOf(err))),
					)
					l.opts.Metrics.Ban(string(mapban.KindOf(err)))
				} else {
					l.opts.Metrics.Ban("accepted")
					l.accepted(events)
				}
				if msg.Reply != nil {
					res := BanResult{Events: events, Err: err}
					if err == nil {
						res.Snapshot = l.snapshot()
					}
					msg.Reply <- res
				}

			case turnExpired:
				if msg.gen != l.timerGen || l.resolved {
					break
				}
				events, err := l.session.TimeoutBan(l.opts.Chooser)
				if err != nil {
					l.log.Warn("turn timeout ban failed", zap.Error(err))
					break
				}
				l.log.Info("turn timed out", zap.String("side", events[0].Side.String()), zap.String("map", events[0].MapID))
				l.opts.Metrics.Ban("timeout")
				l.accepted(events)

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.session.Snapshot(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) accepted(events []mapban.Event) {
	l.version++
	for _, e := range events {
		if e.Type == mapban.EvtSessionResolved {
			l.resolve()
		}
	}
	l.armTimer()
	l.broadcast(l.snapshot())
}

func (l *Lobby) resolve() {
	l.resolved = true
	snap := l.session.Snapshot()
	l.log.Info("map selected", zap.String("map", snap.SelectedMap), zap.Int("bans", len(snap.Bans)))
	l.opts.Metrics.Resolved()
	if l.opts.OnResolved == nil {
		return
	}
	at := l.opts.Clock.Now()
	if n := len(snap.Bans); n > 0 {
		at = snap.Bans[n-1].At
	}
	l.opts.OnResolved(Result{
		LobbyCode:   snap.LobbyID,
		Pool:        snap.Pool,
		Bans:        snap.Bans,
		SelectedMap: snap.SelectedMap,
		ResolvedAt:  at,
	})
}

// armTimer replaces the pending turn timer, if any, with one for the current
// turn.
func (l *Lobby) armTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
	if l.opts.TurnTimeout <= 0 || l.resolved {
		return
	}
	gen := l.timerGen
	l.timer = l.opts.Clock.AfterFunc(l.opts.TurnTimeout, func() {
		select {
		case l.inbox <- turnExpired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) snapshot() Snapshot {
	return Snapshot{Version: l.version, State: l.session.Snapshot()}
}

func (l *Lobby) shutdown() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(l.clients, id)
		}
	}
}

// Inbox exposes the lobby's message channel to the hub and ws layers.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Code is the lobby code the session was created for.
func (l *Lobby) Code() string { return l.session.LobbyID() }

// Send delivers msg unless ctx ends or the lobby has shut down first.
func (l *Lobby) Send(ctx context.Context, msg Msg) error {
	select {
	case l.inbox <- msg:
		return nil
	case <-l.done:
		return ErrLobbyClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ban sends a ban and waits for the actor's reply. The returned error covers
// delivery only; the session's verdict is in BanResult.Err.
func (l *Lobby) Ban(ctx context.Context, userID, mapID string) (BanResult, error) {
	reply := make(chan BanResult, 1)
	if err := l.Send(ctx, SubmitBan{UserID: userID, MapID: mapID, Reply: reply}); err != nil {
		return BanResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-l.done:
		return BanResult{}, ErrLobbyClosed
	case <-ctx.Done():
		return BanResult{}, ctx.Err()
	}
}

// Submit sends a ban and waits for the session's verdict.
func (l *Lobby) Submit(ctx context.Context, userID, mapID string) ([]mapban.Event, error) {
	res, err := l.Ban(ctx, userID, mapID)
	if err != nil {
		return nil, err
	}
	return res.Events, res.Err
}

// State returns the current view of the lobby.
func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrLobbyClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
