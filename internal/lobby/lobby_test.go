package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lobby-mapban/internal/clock"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newSession(t *testing.T, fc clock.Clock) *mapban.Session {
	t.Helper()
	s, err := mapban.NewSession(mapban.Config{
		LobbyID: "ZED123",
		Pool:    []string{"Dust", "Mirage", "Inferno", "Nuke", "Ancient"},
		Sides: map[mapban.Side][]string{
			mapban.SideA: {"a1"},
			mapban.SideB: {"b1"},
		},
		FirstTurn: mapban.SideA,
	}, mapban.WithClock(fc))
	require.NoError(t, err)
	return s
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func TestLobby_Ban_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc})

	clientOut := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 100*time.Millisecond)
	assert.Equal(t, 0, first.Version)
	assert.Empty(t, first.State.Bans)
	assert.Equal(t, mapban.SideA, first.State.Turn)

	_, err := l.Submit(ctx, "a1", "Nuke")
	require.NoError(t, err)

	next := recvSnapshot(t, clientOut, 100*time.Millisecond)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.State.Bans, 1)
	assert.Equal(t, "Nuke", next.State.Bans[0].MapID)
	assert.Equal(t, mapban.SideB, next.State.Turn)

	l.Inbox() <- Shutdown{}
}

func TestLobby_RejectedBanDoesNotBroadcast(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc})
	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	_, err := l.Submit(ctx, "b1", "Nuke")
	require.ErrorIs(t, err, mapban.ErrNotYourTurn)

	recvNoSnapshot(t, out, 50*time.Millisecond)

	view, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Version)
}

func TestLobby_ConcurrentSubmissionsAreSerialized(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc})

	// both sides race for every map; exactly four bans can win
	maps := []string{"Dust", "Mirage", "Inferno", "Nuke", "Ancient"}
	results := make(chan error, 2*len(maps)*4)
	for round := 0; round < 4; round++ {
		for _, m := range maps {
			for _, u := range []string{"a1", "b1"} {
				m, u := m, u
				go func() {
					_, err := l.Submit(ctx, u, m)
					results <- err
				}()
			}
		}
	}

	accepted := 0
	for i := 0; i < cap(results); i++ {
		if err := <-results; err == nil {
			accepted++
		}
	}
	assert.Equal(t, 4, accepted)

	view, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, mapban.StateResolved, view.State.State)
	assert.Equal(t, 4, view.Version)
}

func TestLobby_DropSlowClient(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc})

	// the join snapshot fills the buffer, so the ban broadcast overflows it
	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	_, err := l.Submit(ctx, "a1", "Nuke")
	require.NoError(t, err)

	view, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.NumClients, "expected slow client to be dropped")
}

func TestLobby_ResolvedCallsOnResolvedOnce(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan Result, 2)
	l := NewLobby(ctx, newSession(t, fc), Options{
		Clock:      fc,
		OnResolved: func(r Result) { results <- r },
	})

	for _, step := range [][2]string{{"a1", "Nuke"}, {"b1", "Dust"}, {"a1", "Mirage"}, {"b1", "Inferno"}} {
		fc.Advance(time.Second)
		_, err := l.Submit(ctx, step[0], step[1])
		require.NoError(t, err)
	}
	_, err := l.Submit(ctx, "a1", "Ancient")
	require.ErrorIs(t, err, mapban.ErrSessionResolved)

	select {
	case r := <-results:
		assert.Equal(t, "ZED123", r.LobbyCode)
		assert.Equal(t, "Ancient", r.SelectedMap)
		assert.Len(t, r.Bans, 4)
		assert.Equal(t, epoch.Add(4*time.Second), r.ResolvedAt)
	case <-time.After(time.Second):
		t.Fatalf("OnResolved not called")
	}
	assert.Empty(t, results)
}

func TestLobby_TurnTimeoutForcesBan(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc, TurnTimeout: 30 * time.Second})

	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	fc.Advance(30 * time.Second)

	next := recvSnapshot(t, out, 500*time.Millisecond)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.State.Bans, 1)
	assert.Equal(t, mapban.SideA, next.State.Bans[0].Side)
	assert.Equal(t, "Ancient", next.State.Bans[0].MapID)
	assert.Empty(t, next.State.Bans[0].UserID)
	assert.Equal(t, mapban.SideB, next.State.Turn)

	l.Inbox() <- Shutdown{}
}

func TestLobby_TurnTimer_DropsStaleFires(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc, TurnTimeout: 30 * time.Second})

	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	// a real ban at t=20s re-arms the timer for bravo's turn
	fc.Advance(20 * time.Second)
	_, err := l.Submit(ctx, "a1", "Nuke")
	require.NoError(t, err)
	postBan := recvSnapshot(t, out, 100*time.Millisecond)
	require.Equal(t, 1, postBan.Version)

	// the first deadline (t=30s) must not fire anymore
	fc.Advance(15 * time.Second)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	// bravo's own deadline is t=50s
	fc.Advance(15 * time.Second)
	next := recvSnapshot(t, out, 500*time.Millisecond)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, mapban.SideB, next.State.Bans[1].Side)

	l.Inbox() <- Shutdown{}
}

func TestLobby_TimerStopsAfterResolution(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc, TurnTimeout: time.Second})
	// wait for each forced ban so the next timer is armed before advancing
	for i := 1; i <= 4; i++ {
		fc.Advance(time.Second)
		require.Eventually(t, func() bool {
			v, err := l.State(ctx)
			return err == nil && v.Version == i
		}, time.Second, 5*time.Millisecond)
	}

	v, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, mapban.StateResolved, v.State.State)
	assert.Equal(t, 0, fc.Pending())
}

func TestLobby_Shutdown_StopsTimer_NoFire(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc, TurnTimeout: time.Second})

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 500*time.Millisecond) // drain join snapshot

	l.Inbox() <- Shutdown{}
	<-l.Done()

	fc.Advance(time.Minute)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	_, err := l.Submit(ctx, "a1", "Nuke")
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestLobby_BanReturnsItsOwnSnapshot(t *testing.T) {
	fc := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, newSession(t, fc), Options{Clock: fc})

	first, err := l.Ban(ctx, "a1", "Nuke")
	require.NoError(t, err)
	require.NoError(t, first.Err)
	second, err := l.Ban(ctx, "b1", "Dust")
	require.NoError(t, err)
	require.NoError(t, second.Err)

	// a later ban must not leak into an earlier reply
	assert.Equal(t, 1, first.Snapshot.Version)
	require.Len(t, first.Snapshot.State.Bans, 1)
	assert.Equal(t, mapban.SideB, first.Snapshot.State.Turn)

	assert.Equal(t, 2, second.Snapshot.Version)
	require.Len(t, second.Snapshot.State.Bans, 2)
	assert.Equal(t, mapban.SideA, second.Snapshot.State.Turn)

	rejected, err := l.Ban(ctx, "b1", "Mirage")
	require.NoError(t, err)
	assert.ErrorIs(t, rejected.Err, mapban.ErrNotYourTurn)
	assert.Zero(t, rejected.Snapshot.Version)
}
