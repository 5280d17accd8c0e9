package promotion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightflow/db"
)

// Summary reports one sweep of PromotePaidRequests.
type Summary struct {
	Promoted int
	Skipped  int
	Errored  []string
}

// Promoter converts paid requests into shipments. It keeps no in-process
// state between invocations: every run, wherever it started, coordinates
// purely through the store's conditional updates, so overlapping timers,
// direct triggers, and scaled-out instances are all safe.
type Promoter struct {
	store             Store
	log               *zap.Logger
	batchSize         int
	perRequestTimeout time.Duration
	idGen             func() string
}

func NewPromoter(store Store, log *zap.Logger) *Promoter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Promoter{
		store:             store,
		log:               log,
		batchSize:         100,
		perRequestTimeout: 10 * time.Second,
		idGen:             func() string { return uuid.NewString() },
	}
}

func (p *Promoter) WithBatchSize(n int) *Promoter {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

func (p *Promoter) WithPerRequestTimeout(d time.Duration) *Promoter {
	if d > 0 {
		p.perRequestTimeout = d
	}
	return p
}

func (p *Promoter) WithIDGenerator(gen func() string) *Promoter {
	p.idGen = gen
	return p
}

// PromotePaidRequests selects every paid, unconverted request and promotes
// each one independently. A failing request is recorded and skipped; it
// stays in the selection predicate and is retried on the next sweep.
func (p *Promoter) PromotePaidRequests(ctx context.Context) (Summary, error) {
	ids, err := p.store.ListPromotable(ctx, p.batchSize)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, id := range ids {
		outcome, err := p.promoteOne(ctx, id)
		if err != nil {
			sum.Errored = append(sum.Errored, id)
			p.log.Warn("promotion failed",
				zap.String("request_id", id),
				zap.Bool("retryable", db.IsTransient(err)),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				// The sweep itself was cancelled; whatever is left is
				// picked up next tick.
				return sum, ctx.Err()
			}
			continue
		}

		switch outcome {
		case OutcomePromoted:
			sum.Promoted++
		case OutcomeRepaired:
			sum.Skipped++
			p.log.Info("promotion repaired request status", zap.String("request_id", id))
		default:
			sum.Skipped++
		}
	}

	return sum, nil
}

// PromoteRequest is the direct trigger fired right after a request reaches
// paid. It is the same idempotent routine the timer drives.
func (p *Promoter) PromoteRequest(ctx context.Context, requestID string) error {
	outcome, err := p.promoteOne(ctx, requestID)
	if err != nil {
		p.log.Warn("direct promotion failed",
			zap.String("request_id", requestID),
			zap.Bool("retryable", db.IsTransient(err)),
			zap.Error(err),
		)
		return err
	}
	if outcome == OutcomePromoted {
		p.log.Info("request promoted", zap.String("request_id", requestID))
	}
	return nil
}

func (p *Promoter) promoteOne(ctx context.Context, requestID string) (Outcome, error) {
	cctx, cancel := context.WithTimeout(ctx, p.perRequestTimeout)
	defer cancel()
	return p.store.Promote(cctx, requestID, p.idGen())
}
