package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
)

const saveTimeout = 5 * time.Second

// Writer moves archive writes off the lobby actors. Enqueue never blocks;
// Run performs the saves one at a time.
type Writer struct {
	archive Archive
	log     *zap.Logger
	queue   chan lobby.Result
}

func NewWriter(archive Archive, log *zap.Logger, size int) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = 1
	}
	return &Writer{
		archive: archive,
		log:     log,
		queue:   make(chan lobby.Result, size),
	}
}

// Enqueue hands r to the writer. It reports false and drops r when the
// queue is full.
func (w *Writer) Enqueue(r lobby.Result) bool {
	select {
	case w.queue <- r:
		return true
	default:
		w.log.Error("archive queue full, result dropped", zap.String("lobby", r.LobbyCode))
		return false
	}
}

// Run saves queued results until ctx is done, then drains what is left.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case r := <-w.queue:
			w.save(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-w.queue:
					w.save(r)
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) save(r lobby.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := w.archive.SaveResult(ctx, r); err != nil {
		w.log.Error("archive result", zap.String("lobby", r.LobbyCode), zap.Error(err))
	}
}
