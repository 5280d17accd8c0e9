package request

import (
	"context"
	"fmt"

	"freightflow/outbox"
)

// Claims mediates the accept/reject race. Accept has an at-most-one-winner
// guarantee: the claim is a single conditional update and the store lets
// exactly one concurrent caller through.
type Claims struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
}

func NewClaims(pool TxBeginner, repo Repository, out OutboxWriter) *Claims {
	return &Claims{
		pool:   pool,
		repo:   repo,
		outbox: out,
	}
}

// Accept claims the request for carrierID. The loser of a concurrent accept
// receives ErrConflict and should re-query: it will observe carrier_id
// already set to the winner.
func (c *Claims) Accept(ctx context.Context, requestID, carrierID string) (Request, error) {
	if requestID == "" || carrierID == "" {
		return Request{}, fmt.Errorf("request: accept missing request or carrier id")
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := c.repo.AcceptClaim(ctx, tx, requestID, carrierID)
	if err != nil {
		return Request{}, err
	}

	if c.outbox != nil {
		payload := map[string]any{
			"request_id": claimed.ID,
			"carrier_id": carrierID,
		}
		if err := c.outbox.Enqueue(ctx, tx, outbox.TopicRequestAccepted, payload); err != nil {
			return Request{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit accept: %w", err)
	}

	return claimed, nil
}

// Reject records that carrierID declined the request. Membership in
// rejected_by is permanent, the write is idempotent, and a request already
// closed is left untouched without an error.
func (c *Claims) Reject(ctx context.Context, requestID, carrierID string) error {
	if requestID == "" || carrierID == "" {
		return fmt.Errorf("request: reject missing request or carrier id")
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("request: begin reject tx: %w", err)
	}
	defer tx.Rollback(ctx)

	added, err := c.repo.InsertRejection(ctx, tx, requestID, carrierID)
	if err != nil {
		return err
	}

	if added && c.outbox != nil {
		payload := map[string]any{
			"request_id": requestID,
			"carrier_id": carrierID,
		}
		if err := c.outbox.Enqueue(ctx, tx, outbox.TopicRequestRejected, payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("request: commit reject: %w", err)
	}

	return nil
}
