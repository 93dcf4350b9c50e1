package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// batchQueueSize bounds tick batches waiting on the store writer per worker.
// A full queue drops the newest batch; the tick table is last-write-wins, so
// the next batch for the same tokens repairs it.
const batchQueueSize = 64

// Worker binds one Session to one contiguous token slice. It subscribes the
// slice in full mode on connect and feeds every batch to the ingestor. A
// worker that loses its connection or receives a degraded feed marks itself
// dead; the supervisor replaces it with a fresh worker over the same slice.
type Worker struct {
	id       int
	tokens   []uint32
	session  Session
	ingestor *Ingestor
	log      *slog.Logger

	ctx      context.Context
	dead     atomic.Bool
	batches  chan []model.Tick
	quit     chan struct{}
	stopOnce sync.Once

	// OnDegraded, if set, fires when the feed delivers a non-full-mode batch.
	OnDegraded func(workerID int)
}

func newWorker(ctx context.Context, id int, tokens []uint32, session Session, ingestor *Ingestor) *Worker {
	w := &Worker{
		id:       id,
		tokens:   tokens,
		session:  session,
		ingestor: ingestor,
		ctx:      ctx,
		batches:  make(chan []model.Tick, batchQueueSize),
		quit:     make(chan struct{}),
		log:      slog.Default().With("component", "stream_worker", "worker_id", id),
	}
	session.HandleConnect(w.onConnect)
	session.HandleTicks(w.onTicks)
	session.HandleClose(w.onClose)
	go w.writeLoop()
	return w
}

// Start dials the session. A failed dial leaves the worker dead; the next
// supervisor pass retries with a replacement.
func (w *Worker) Start() {
	if err := w.session.Connect(); err != nil {
		w.log.Error("session connect failed", "tokens", len(w.tokens), "error", err)
		w.dead.Store(true)
		return
	}
	w.log.Info("session connected", "tokens", len(w.tokens))
}

// Alive reports whether the worker still holds a healthy full-mode session.
func (w *Worker) Alive() bool {
	return !w.dead.Load() && w.session.IsAlive()
}

// Tokens returns the slice this worker is responsible for.
func (w *Worker) Tokens() []uint32 { return w.tokens }

// Stop tears the session down, marks the worker dead and ends its writer.
func (w *Worker) Stop() {
	w.dead.Store(true)
	w.stopOnce.Do(func() { close(w.quit) })
	w.session.Stop()
}

// writeLoop drains queued batches. Store writes happen here, never on the
// session's socket-read goroutine.
func (w *Worker) writeLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.quit:
			return
		case ticks := <-w.batches:
			w.ingestor.HandleBatch(w.ctx, ticks)
		}
	}
}

func (w *Worker) onConnect() {
	if err := w.session.Subscribe(w.tokens); err != nil {
		w.log.Error("subscribe failed", "error", err)
		w.Stop()
		return
	}
	if err := w.session.SetFullMode(w.tokens); err != nil {
		w.log.Error("full mode switch failed", "error", err)
		w.Stop()
		return
	}
	w.log.Info("subscribed in full mode", "tokens", len(w.tokens))
}

func (w *Worker) onTicks(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	// The feed downgrades the whole session when it cannot honour full mode.
	// A degraded session is useless for chain building, so kill it and let
	// the supervisor bring up a clean one.
	if ticks[0].Mode != model.ModeFull {
		w.log.Error("feed degraded to non-full mode, stopping session", "mode", ticks[0].Mode)
		if w.OnDegraded != nil {
			w.OnDegraded(w.id)
		}
		w.Stop()
		return
	}
	select {
	case w.batches <- ticks:
	default:
		w.log.Warn("tick batch dropped, store writer backlogged", "count", len(ticks))
	}
}

func (w *Worker) onClose(err error) {
	if err != nil {
		w.log.Warn("session closed", "error", err)
	}
	w.dead.Store(true)
}
