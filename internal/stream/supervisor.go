package stream

import (
	"context"
	"log/slog"
	"time"
)

const healthCheckInterval = 8 * time.Second

// Supervisor keeps a fixed set of workers alive. Each pass it replaces every
// dead worker with a fresh session over the same token slice, and it returns
// once a pass finds all workers healthy.
type Supervisor struct {
	factory  SessionFactory
	ingestor *Ingestor
	interval time.Duration
	log      *slog.Logger

	// OnReplace, if set, observes every worker replacement.
	OnReplace func(workerID int)
	// OnDegraded is installed on every worker the supervisor creates.
	OnDegraded func(workerID int)
}

func NewSupervisor(factory SessionFactory, ingestor *Ingestor) *Supervisor {
	return &Supervisor{
		factory:  factory,
		ingestor: ingestor,
		interval: healthCheckInterval,
		log:      slog.Default().With("component", "stream_supervisor"),
	}
}

// Run drives health passes over workers until one pass finds every worker
// alive, then returns. Replacements reuse the dead worker's token slice so
// coverage of the subscribed set never changes.
func (s *Supervisor) Run(ctx context.Context, workers []*Worker) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		allAlive := true
		for i, w := range workers {
			if w.Alive() {
				continue
			}
			allAlive = false
			s.log.Error("worker dead, starting replacement", "worker_id", w.id, "tokens", len(w.tokens))
			workers[i] = s.replace(ctx, w)
			if s.OnReplace != nil {
				s.OnReplace(w.id)
			}
		}
		if allAlive {
			s.log.Info("all stream workers healthy", "workers", len(workers))
			return nil
		}
		timer.Reset(s.interval)
	}
}

func (s *Supervisor) replace(ctx context.Context, dead *Worker) *Worker {
	dead.Stop()
	next := newWorker(ctx, dead.id, dead.tokens, s.factory(), s.ingestor)
	next.OnDegraded = s.OnDegraded
	next.Start()
	return next
}
