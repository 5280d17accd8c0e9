package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightflow/outbox"
	"freightflow/shipment"
)

// Outcome describes what a single promotion attempt did.
type Outcome string

const (
	// OutcomePromoted: this caller won the claim and created the shipment.
	OutcomePromoted Outcome = "promoted"
	// OutcomeRepaired: a shipment already existed but the request had not
	// been stamped converted; the status was repaired without a new insert.
	OutcomeRepaired Outcome = "repaired"
	// OutcomeSkipped: the claim was already taken or the request is no
	// longer promotable. Not an error.
	OutcomeSkipped Outcome = "skipped"
)

// OutboxWriter appends integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Store is the data access the promoter needs.
type Store interface {
	ListPromotable(ctx context.Context, limit int) ([]string, error)
	Promote(ctx context.Context, requestID, shipmentID string) (Outcome, error)
}

// PGRepository implements Store backed by PostgreSQL.
type PGRepository struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
}

func NewRepository(pool *pgxpool.Pool, out OutboxWriter) *PGRepository {
	return &PGRepository{pool: pool, outbox: out}
}

// ListPromotable selects requests that are paid and still unclaimed, oldest
// payment first so stragglers are retried before fresh arrivals.
func (r *PGRepository) ListPromotable(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id
		FROM requests
		WHERE status = 'paid' AND shipment_id IS NULL
		ORDER BY updated_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("promotion: list promotable: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("promotion: scan promotable: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("promotion: iterate promotable: %w", err)
	}
	return ids, nil
}

// Promote converts one paid request into a shipment. The claim is a single
// conditional update stamping shipment_id and flipping the status to
// converted; it commits in one transaction with the shipment insert, so
// overlapping ticks, the direct payment trigger, and scaled-out worker
// instances all collapse to exactly one shipment per request. A shipment
// lookup by request_id runs before any insert attempt; if one exists the
// request status is repaired instead.
func (r *PGRepository) Promote(ctx context.Context, requestID, shipmentID string) (Outcome, error) {
	if requestID == "" {
		return OutcomeSkipped, fmt.Errorf("promotion: missing request id")
	}
	if shipmentID == "" {
		return OutcomeSkipped, fmt.Errorf("promotion: missing shipment id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	err = tx.QueryRow(ctx, `SELECT id FROM shipments WHERE request_id = $1`, requestID).Scan(&existingID)
	switch {
	case err == nil:
		return r.repair(ctx, tx, requestID, existingID)
	case errors.Is(err, pgx.ErrNoRows):
		// no shipment yet, continue to the claim
	default:
		return OutcomeSkipped, fmt.Errorf("promotion: lookup shipment: %w", err)
	}

	const claimSQL = `
		UPDATE requests
		SET shipment_id = $2, status = 'converted', updated_at = now()
		WHERE id = $1
		  AND status = 'paid'
		  AND shipment_id IS NULL
		RETURNING transport_type_id, pickup_city, pickup_district, delivery_city, delivery_district, price, carrier_id
	`

	var (
		transportTypeID  int
		pickupCity       string
		pickupDistrict   *string
		deliveryCity     string
		deliveryDistrict *string
		price            int64
		carrierID        *string
	)
	err = tx.QueryRow(ctx, claimSQL, requestID, shipmentID).Scan(
		&transportTypeID,
		&pickupCity,
		&pickupDistrict,
		&deliveryCity,
		&deliveryDistrict,
		&price,
		&carrierID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Claim already taken or the request moved out of paid.
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("promotion: claim request: %w", err)
	}
	if carrierID == nil {
		return OutcomeSkipped, fmt.Errorf("promotion: paid request %s has no carrier", requestID)
	}

	const insertSQL = `
		INSERT INTO shipments (id, request_id, carrier_id, transport_type_id,
			pickup_city, pickup_district, delivery_city, delivery_district, price, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'waiting_pickup', 'paid')
	`
	if _, err := tx.Exec(ctx, insertSQL,
		shipmentID,
		requestID,
		*carrierID,
		transportTypeID,
		pickupCity,
		pickupDistrict,
		deliveryCity,
		deliveryDistrict,
		price,
	); err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: insert shipment: %w", err)
	}

	actor := "promotion"
	note := shipment.InitialNote
	const historySQL = `
		INSERT INTO shipment_status_history (shipment_id, seq, status, actor, note)
		VALUES ($1, 1, 'waiting_pickup', $2, $3)
	`
	if _, err := tx.Exec(ctx, historySQL, shipmentID, actor, note); err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: insert history: %w", err)
	}

	if r.outbox != nil {
		payload := map[string]any{
			"shipment_id": shipmentID,
			"request_id":  requestID,
			"carrier_id":  *carrierID,
		}
		if err := r.outbox.Enqueue(ctx, tx, outbox.TopicShipmentCreated, payload); err != nil {
			return OutcomeSkipped, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: commit: %w", err)
	}

	return OutcomePromoted, nil
}

// repair restamps a request whose shipment exists but whose status never
// made it to converted. No shipment is created.
func (r *PGRepository) repair(ctx context.Context, tx pgx.Tx, requestID, shipmentID string) (Outcome, error) {
	const query = `
		UPDATE requests
		SET status = 'converted', shipment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'paid'
	`

	tag, err := tx.Exec(ctx, query, requestID, shipmentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: repair request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return OutcomeSkipped, fmt.Errorf("promotion: commit repair: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return OutcomeRepaired, nil
	}
	return OutcomeSkipped, nil
}
