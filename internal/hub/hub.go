package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/clock"
	"github.com/DoyleJ11/lobby-mapban/internal/exclusion"
	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	"github.com/DoyleJ11/lobby-mapban/internal/obs"
)

var (
	ErrLobbyExists = errors.New("hub: lobby code already in use")
	ErrHubClosed   = errors.New("hub: closed")
)

type HubMsg interface{ isHubMsg() }

// CreateLobby starts the ban phase for a lobby whose sides are ready.
type CreateLobby struct {
	Config mapban.Config
	Reply  chan CreateResult
}

type CreateResult struct {
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby shuts a lobby down and forgets it. Reply is optional and
// reports whether the code was known.
type RemoveLobby struct {
	Code  string
	Reply chan bool
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Logger      *zap.Logger
	Clock       clock.Clock
	Ledger      *exclusion.Ledger
	TurnTimeout time.Duration
	OnResolved  func(lobby.Result)
	Metrics     *obs.Metrics
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Ledger == nil {
		opts.Ledger = exclusion.New(exclusion.WithClock(opts.Clock), exclusion.WithMetrics(opts.Metrics))
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ledger is the exclusion ledger shared by every lobby of this hub.
func (h *Hub) Ledger() *exclusion.Ledger { return h.opts.Ledger }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				lb, err := h.create(msg.Config)
				msg.Reply <- CreateResult{Lobby: lb, Err: err}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case RemoveLobby:
				lb, ok := h.lobbies[msg.Code]
				if ok {
					_ = lb.Send(h.ctx, lobby.Shutdown{})
					delete(h.lobbies, msg.Code)
					h.opts.Metrics.LobbyClosed()
					h.log.Info("lobby removed", zap.String("lobby", msg.Code))
				}
				if msg.Reply != nil {
					msg.Reply <- ok
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(cfg mapban.Config) (*lobby.Lobby, error) {
	if _, ok := h.lobbies[cfg.LobbyID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLobbyExists, cfg.LobbyID)
	}
	session, err := mapban.NewSession(cfg,
		mapban.WithClock(h.opts.Clock),
		mapban.WithExcluder(h.opts.Ledger),
	)
	if err != nil {
		return nil, err
	}
	lb := lobby.NewLobby(h.ctx, session, lobby.Options{
		Logger:      h.opts.Logger,
		Clock:       h.opts.Clock,
		TurnTimeout: h.opts.TurnTimeout,
		OnResolved:  h.opts.OnResolved,
		Metrics:     h.opts.Metrics,
	})
	h.lobbies[cfg.LobbyID] = lb
	h.opts.Metrics.LobbyOpened()
	h.log.Info("lobby created",
		zap.String("lobby", cfg.LobbyID),
		zap.Int("pool", len(cfg.Pool)),
		zap.Stringer("first_turn", cfg.FirstTurn),
	)
	return lb, nil
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		_ = lb.Send(h.ctx, lobby.Shutdown{})
		h.opts.Metrics.LobbyClosed()
	}
	clear(h.lobbies)
	h.cancel()
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create registers a new lobby for cfg.LobbyID.
func (h *Hub) Create(ctx context.Context, cfg mapban.Config) (*lobby.Lobby, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateLobby{Config: cfg, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Lobby, res.Err
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the lobby for code, or nil.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Remove(ctx context.Context, code string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, RemoveLobby{Code: code, Reply: reply}); err != nil {
		return false, err
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-h.done:
		return false, ErrHubClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close shuts every lobby down and waits for the hub loop to exit.
func (h *Hub) Close(ctx context.Context) error {
	if err := h.send(ctx, ShutdownHub{}); err != nil && !errors.Is(err, ErrHubClosed) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
