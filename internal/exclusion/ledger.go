// Package exclusion keeps the per-lobby cooldowns that stop a removed user
// from rejoining the lobby they were removed from.
//
// Records expire lazily: the first IsBlocked or RemainingTime call that
// observes an expired record deletes it. Sweep (or Run) may be used to bound
// memory for lobbies that are never checked again.
package exclusion

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/clock"
	"github.com/DoyleJ11/lobby-mapban/internal/obs"
)

const DefaultBlockDuration = 5 * time.Minute

type Record struct {
	LobbyID   string
	UserID    string
	ExpiresAt time.Time
}

// bucket holds the records of a single lobby. Operations on different
// lobbies never contend on the same mutex.
type bucket struct {
	mu      sync.Mutex
	expires map[string]time.Time
	// dead is set once the bucket has been dropped from the index; writers
	// holding a stale pointer retry against a fresh bucket.
	dead bool
}

type Ledger struct {
	clock    clock.Clock
	duration time.Duration
	log      *zap.Logger
	metrics  *obs.Metrics

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

func WithMetrics(m *obs.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithBlockDuration sets the cooldown applied by Block. Non-positive values
// keep the default.
func WithBlockDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.duration = d
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:    clock.New(),
		duration: DefaultBlockDuration,
		log:      zap.NewNop(),
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) BlockDuration() time.Duration { return l.duration }

// Block excludes userID from lobbyID for the configured cooldown,
// overwriting any earlier expiry for the same pair.
func (l *Ledger) Block(lobbyID, userID string) Record {
	return l.BlockFor(lobbyID, userID, l.duration)
}

// BlockFor is Block with a per-call cooldown. A non-positive d falls back to
// the configured duration.
func (l *Ledger) BlockFor(lobbyID, userID string, d time.Duration) Record {
	if d <= 0 {
		d = l.duration
	}
	expiresAt := l.clock.Now().Add(d)

	for {
		b := l.bucketFor(lobbyID, true)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		b.expires[userID] = expiresAt
		b.mu.Unlock()
		break
	}
	l.metrics.Blocked()

	l.log.Debug("user blocked",
		zap.String("lobby", lobbyID),
		zap.String("user", userID),
		zap.Time("expires_at", expiresAt),
	)
	return Record{LobbyID: lobbyID, UserID: userID, ExpiresAt: expiresAt}
}

// IsBlocked is the authoritative admission check. An expired record is
// deleted and reported as not blocked.
func (l *Ledger) IsBlocked(lobbyID, userID string) bool {
	_, ok := l.active(lobbyID, userID)
	return ok
}

// RemainingTime returns the cooldown left, rounded up to the whole second.
// It is for display only; use IsBlocked to decide admission.
func (l *Ledger) RemainingTime(lobbyID, userID string) time.Duration {
	expiresAt, ok := l.active(lobbyID, userID)
	if !ok {
		return 0
	}
	left := expiresAt.Sub(l.clock.Now())
	if left <= 0 {
		// now == expiresAt: still blocked, show a full second
		return time.Second
	}
	secs := left / time.Second
	if left%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

// Unblock removes a record before it expires.
func (l *Ledger) Unblock(lobbyID, userID string) {
	b := l.bucketFor(lobbyID, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.expires, userID)
	b.mu.Unlock()
}

// Active lists the unexpired records of a lobby.
func (l *Ledger) Active(lobbyID string) []Record {
	b := l.bucketFor(lobbyID, false)
	if b == nil {
		return nil
	}
	now := l.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for userID, expiresAt := range b.expires {
		if now.After(expiresAt) {
			delete(b.expires, userID)
			l.metrics.Expired(1)
			continue
		}
		out = append(out, Record{LobbyID: lobbyID, UserID: userID, ExpiresAt: expiresAt})
	}
	return out
}

// Sweep drops every expired record and every empty lobby bucket. It returns
// the number of records removed.
func (l *Ledger) Sweep() int {
	now := l.clock.Now()

	l.mu.RLock()
	ids := make([]string, 0, len(l.buckets))
	for id := range l.buckets {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		b := l.bucketFor(id, false)
		if b == nil {
			continue
		}
		b.mu.Lock()
		for userID, expiresAt := range b.expires {
			if now.After(expiresAt) {
				delete(b.expires, userID)
				removed++
			}
		}
		empty := len(b.expires) == 0
		b.mu.Unlock()

		if empty {
			l.dropIfEmpty(id, b)
		}
	}
	l.metrics.Expired(removed)
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.log.Debug("ledger sweep", zap.Int("removed", n))
			}
		}
	}
}

// Reset forgets every record. Dropped buckets are marked dead so a
// concurrent BlockFor retries against the fresh index.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		b.mu.Lock()
		b.dead = true
		b.mu.Unlock()
	}
	l.buckets = make(map[string]*bucket)
}

func (l *Ledger) active(lobbyID, userID string) (time.Time, bool) {
	b := l.bucketFor(lobbyID, false)
	if b == nil {
		return time.Time{}, false
	}
	now := l.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	expiresAt, ok := b.expires[userID]
	if !ok {
		return time.Time{}, false
	}
	if now.After(expiresAt) {
		delete(b.expires, userID)
		l.metrics.Expired(1)
		return time.Time{}, false
	}
	return expiresAt, true
}

func (l *Ledger) bucketFor(lobbyID string, create bool) *bucket {
	l.mu.RLock()
	b := l.buckets[lobbyID]
	l.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b = l.buckets[lobbyID]; b == nil {
		b = &bucket{expires: make(map[string]time.Time)}
		l.buckets[lobbyID] = b
	}
	return b
}

// dropIfEmpty removes a bucket from the index if it is still empty once
// both locks are held.
func (l *Ledger) dropIfEmpty(lobbyID string, b *bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets[lobbyID] != b {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.expires) == 0 {
		b.dead = true
		delete(l.buckets, lobbyID)
	}
}
