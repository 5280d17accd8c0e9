package promotion

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiryStore sweeps overdue requests into the expired terminal state.
type ExpiryStore interface {
	ExpireOverdue(ctx context.Context, releaseClaim bool) (int64, error)
}

// Worker drives the promoter on a fixed interval and sweeps request expiry
// on the same tick. It holds no "already started" flag or any other shared
// state: multiple instances may run the same tick concurrently and the
// store-level claims keep the outcome exactly-once.
type Worker struct {
	promoter     *Promoter
	expiry       ExpiryStore
	interval     time.Duration
	releaseClaim bool
	log          *zap.Logger
}

func NewWorker(promoter *Promoter, expiry ExpiryStore, interval time.Duration, releaseClaim bool, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		promoter:     promoter,
		expiry:       expiry,
		interval:     interval,
		releaseClaim: releaseClaim,
		log:          log,
	}
}

// Run ticks until the context is cancelled. One tick runs immediately so a
// fresh deployment drains any backlog without waiting a full interval.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Tick runs one sweep on demand; the administrative run-now endpoint calls
// this path with the same guarantees the timer gets.
func (w *Worker) Tick(ctx context.Context) Summary {
	return w.tick(ctx)
}

func (w *Worker) tick(ctx context.Context) Summary {
	if w.expiry != nil {
		expired, err := w.expiry.ExpireOverdue(ctx, w.releaseClaim)
		if err != nil {
			w.log.Warn("expiry sweep failed", zap.Error(err))
		} else if expired > 0 {
			w.log.Info("requests expired", zap.Int64("count", expired))
		}
	}

	sum, err := w.promoter.PromotePaidRequests(ctx)
	if err != nil {
		w.log.Warn("promotion sweep failed", zap.Error(err))
		return sum
	}
	if sum.Promoted > 0 || len(sum.Errored) > 0 {
		w.log.Info("promotion sweep finished",
			zap.Int("promoted", sum.Promoted),
			zap.Int("skipped", sum.Skipped),
			zap.Int("errored", len(sum.Errored)),
		)
	}
	return sum
}
