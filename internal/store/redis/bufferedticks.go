package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// TickSink is the downstream the buffered writer protects, normally *Store.
type TickSink interface {
	WriteTicks(ctx context.Context, ticks []model.Tick) error
}

// BufferedTickWriter wraps tick writes with a circuit breaker. While the
// breaker is open, batches are held in a bounded local buffer and replayed
// once the breaker closes, so a short store outage loses no ticks.
type BufferedTickWriter struct {
	store TickSink
	cb    *Breaker

	mu     sync.Mutex
	buffer []model.Tick
	maxBuf int

	// OnBuffer is called once per buffered batch, OnFlush after a replay.
	OnBuffer func(count int)
	OnFlush  func(count int)
}

// NewBufferedTickWriter wires the writer to a store and breaker.
// maxBufferSize bounds the number of buffered ticks; oldest are dropped
// first when the bound is hit.
func NewBufferedTickWriter(store TickSink, cb *Breaker, maxBufferSize int) *BufferedTickWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 30000
	}
	bw := &BufferedTickWriter{
		store:  store,
		cb:     cb,
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush(context.Background())
		}
	}
	return bw
}

// WriteTicks writes a batch through the breaker, buffering it when the
// breaker is open.
func (bw *BufferedTickWriter) WriteTicks(ctx context.Context, ticks []model.Tick) error {
	err := bw.cb.Do(func() error {
		return bw.store.WriteTicks(ctx, ticks)
	})
	if err == ErrCircuitOpen {
		bw.bufferBatch(ticks)
		return nil
	}
	return err
}

func (bw *BufferedTickWriter) bufferBatch(ticks []model.Tick) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if over := len(bw.buffer) + len(ticks) - bw.maxBuf; over > 0 {
		if over >= len(bw.buffer) {
			bw.buffer = bw.buffer[:0]
		} else {
			bw.buffer = bw.buffer[over:]
		}
	}
	bw.buffer = append(bw.buffer, ticks...)

	if bw.OnBuffer != nil {
		bw.OnBuffer(len(ticks))
	}
}

func (bw *BufferedTickWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = nil
	bw.mu.Unlock()

	if err := bw.store.WriteTicks(ctx, toFlush); err != nil {
		slog.Error("buffered tick flush failed", "count", len(toFlush), "err", err)
		return
	}
	slog.Info("flushed buffered ticks", "count", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of ticks waiting for replay.
func (bw *BufferedTickWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
