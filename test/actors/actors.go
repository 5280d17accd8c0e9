package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightflow/promotion"
)

var cities = []string{"Istanbul", "Ankara", "Izmir", "Bursa", "Antalya", "Konya"}

// Intake keeps feeding the board with fresh requests across transport types.
func Intake(ctx context.Context, pool *pgxpool.Pool, transportTypes []int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		pickup := cities[rand.Intn(len(cities))]
		delivery := cities[rand.Intn(len(cities))]
		_, err := pool.Exec(ctx, `INSERT INTO requests (transport_type_id, pickup_city, delivery_city, price)
                                  VALUES ($1,$2,$3,$4)`,
			transportTypes[rand.Intn(len(transportTypes))], pickup, delivery, int64(10000+rand.Intn(90000)))
		if err != nil && ctx.Err() == nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("intake insert: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Accepter races for open requests with the same single conditional update the
// claim coordinator issues. It never touches a request its carrier rejected.
func Accepter(ctx context.Context, pool *pgxpool.Pool, carrierID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE requests
			SET status='accepted', carrier_id=$1, updated_at=now()
			WHERE id = (
				SELECT id FROM requests
				WHERE status IN ('new','offer_made') AND carrier_id IS NULL
				ORDER BY random() LIMIT 1
			)
			  AND status IN ('new','offer_made')
			  AND carrier_id IS NULL
			  AND NOT ($1::uuid = ANY(rejected_by))`, carrierID)
		if err != nil && ctx.Err() == nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("accepter claim: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(25)) * time.Millisecond)
	}
}

// Rejecter records declines idempotently. A carrier never rejects a request it
// currently holds.
func Rejecter(ctx context.Context, pool *pgxpool.Pool, carrierID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE requests
			SET rejected_by = array_append(rejected_by, $1::uuid), updated_at=now()
			WHERE id = (
				SELECT id FROM requests
				WHERE status IN ('new','offer_made','accepted')
				ORDER BY random() LIMIT 1
			)
			  AND NOT ($1::uuid = ANY(rejected_by))
			  AND carrier_id IS DISTINCT FROM $1::uuid
			  AND status NOT IN ('converted','expired','cancelled')`, carrierID)
		if err != nil && ctx.Err() == nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("rejecter update: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Payer walks accepted requests through the paid side of the lifecycle so the
// promoters always have work.
func Payer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE requests
			SET status='paid', updated_at=now()
			WHERE id = (
				SELECT id FROM requests WHERE status='accepted'
				ORDER BY random() LIMIT 1
			)
			  AND status='accepted'`)
		if err != nil && ctx.Err() == nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("payer update: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Promoter runs the real promotion sweep in a loop. Several instances run
// concurrently on purpose: the claim-then-create protocol must keep shipments
// unique no matter how many sweeps overlap.
func Promoter(ctx context.Context, p *promotion.Promoter, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = p.PromotePaidRequests(ctx)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Driver advances shipments through pickup and delivery, appending the history
// row inside the same transaction the way the shipment service does.
func Driver(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	steps := []struct{ from, to string }{
		{"waiting_pickup", "in_progress"},
		{"in_progress", "delivered"},
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		step := steps[rand.Intn(len(steps))]
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var shipmentID string
		err = tx.QueryRow(ctx, `
			UPDATE shipments
			SET status=$2::shipment_status, updated_at=now()
			WHERE id = (
				SELECT id FROM shipments WHERE status=$1::shipment_status
				ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED
			)
			  AND status=$1::shipment_status
			RETURNING id`, step.from, step.to).Scan(&shipmentID)
		if err == nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO shipment_status_history (shipment_id, seq, status, actor)
				SELECT $1, COALESCE(MAX(seq),0)+1, $2::shipment_status, 'driver'
				FROM shipment_status_history WHERE shipment_id=$1`, shipmentID, step.to)
		}
		if err == nil {
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox rows with SKIP LOCKED, marking processed
// or bumping attempts on a simulated delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Expirer stamps short expiries onto open requests and then sweeps them with
// the engine's expiry update.
func Expirer(ctx context.Context, pool *pgxpool.Pool, sweep func(context.Context, bool) (int64, error), stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `
			UPDATE requests
			SET expires_at = now() - interval '1 second'
			WHERE id = (
				SELECT id FROM requests
				WHERE status IN ('new','offer_made') AND expires_at IS NULL
				ORDER BY random() LIMIT 1
			)`)
		if _, err := sweep(ctx, false); err != nil && ctx.Err() == nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return fmt.Errorf("expirer sweep: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(150)) * time.Millisecond)
	}
}
