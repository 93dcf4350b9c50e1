package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// TickWriter persists a batch of ticks. Satisfied by
// redisstore.BufferedTickWriter.
type TickWriter interface {
	WriteTicks(ctx context.Context, ticks []model.Tick) error
}

// Ingestor moves parsed tick batches from feed callbacks into the store.
type Ingestor struct {
	writer TickWriter
	log    *slog.Logger

	// OnBatch, if set, observes every persisted batch. Used for metrics.
	OnBatch func(count int, took time.Duration)
}

func NewIngestor(writer TickWriter) *Ingestor {
	return &Ingestor{
		writer: writer,
		log:    slog.Default().With("component", "ingestor"),
	}
}

// HandleBatch writes one tick batch. Write failures are logged and dropped;
// a slow store must never stall the feed reader.
func (in *Ingestor) HandleBatch(ctx context.Context, ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	start := time.Now()
	if err := in.writer.WriteTicks(ctx, ticks); err != nil {
		in.log.Error("tick batch write failed", "count", len(ticks), "error", err)
		return
	}
	took := time.Since(start)
	in.log.Debug("tick batch stored", "count", len(ticks), "took", took)
	if in.OnBatch != nil {
		in.OnBatch(len(ticks), took)
	}
}
