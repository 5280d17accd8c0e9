package shipment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the referenced shipment does not exist.
	ErrNotFound = errors.New("shipment: not found")
	// ErrConflict signals the conditional precondition failed because another
	// actor moved the shipment first.
	ErrConflict = errors.New("shipment: conflict")
	// ErrInvalidTransition signals the requested move is not in the legal
	// transition table.
	ErrInvalidTransition = errors.New("shipment: invalid transition")
	// ErrAlreadyTerminal signals a mutation attempt on a delivered or
	// cancelled shipment.
	ErrAlreadyTerminal = errors.New("shipment: already terminal")
)

const shipmentColumns = `id, request_id, carrier_id, driver_id, vehicle_id, transport_type_id,
       pickup_city, pickup_district, delivery_city, delivery_district, price, status, payment_status,
       created_at, updated_at`

// Repository is the data-access contract for shipments. Status writes follow
// the same atomic conditional-update discipline as requests.
type Repository interface {
	GetByID(ctx context.Context, id string) (Shipment, error)
	GetByRequestID(ctx context.Context, requestID string) (Shipment, error)
	List(ctx context.Context, carrierID string, limit int) ([]Shipment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Shipment, error)
	AppendHistory(ctx context.Context, tx pgx.Tx, shipmentID string, status Status, actor, note *string) error
	ListHistory(ctx context.Context, shipmentID string) ([]HistoryEntry, error)
	SetAssignment(ctx context.Context, id string, driverID, vehicleID *string) (Shipment, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`

	sh, err := scanShipment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: get by id: %w", err)
	}
	return sh, nil
}

// GetByRequestID looks a shipment up through the one-per-request uniqueness
// guarantee.
func (r *PGRepository) GetByRequestID(ctx context.Context, requestID string) (Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE request_id = $1`

	sh, err := scanShipment(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: get by request id: %w", err)
	}
	return sh, nil
}

func (r *PGRepository) List(ctx context.Context, carrierID string, limit int) ([]Shipment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + shipmentColumns + ` FROM shipments`
	args := []any{}
	if carrierID != "" {
		query += ` WHERE carrier_id = $1`
		args = append(args, carrierID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("shipment: list: %w", err)
	}
	defer rows.Close()

	out := make([]Shipment, 0, limit)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("shipment: scan list: %w", err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate list: %w", err)
	}
	return out, nil
}

// UpdateStatus applies next conditionally on the transition table's
// predecessors. Failure is classified so a delivered shipment answers
// ErrAlreadyTerminal, an out-of-table move ErrInvalidTransition, and a lost
// race ErrConflict.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Shipment, error) {
	preds := Predecessors(next)
	if len(preds) == 0 {
		return Shipment{}, ErrInvalidTransition
	}
	predNames := make([]string, len(preds))
	for i, p := range preds {
		predNames[i] = string(p)
	}

	query := `
		UPDATE shipments
		SET status = $2::shipment_status, updated_at = now()
		WHERE id = $1
		  AND status = ANY($3::shipment_status[])
		RETURNING ` + shipmentColumns

	sh, err := scanShipment(tx.QueryRow(ctx, query, id, next, predNames))
	if err == nil {
		return sh, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, fmt.Errorf("shipment: update status: %w", err)
	}

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM shipments WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: transition check: %w", err)
	}
	if current.IsTerminal() {
		return Shipment{}, ErrAlreadyTerminal
	}
	if CanTransition(current, next) {
		return Shipment{}, ErrConflict
	}
	return Shipment{}, ErrInvalidTransition
}

// AppendHistory writes the next status-log row. Sequence numbers are dense
// per shipment; the unique (shipment_id, seq) constraint backstops the
// append under concurrency.
func (r *PGRepository) AppendHistory(ctx context.Context, tx pgx.Tx, shipmentID string, status Status, actor, note *string) error {
	const query = `
		INSERT INTO shipment_status_history (shipment_id, seq, status, actor, note)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2::shipment_status, $3, $4
		FROM shipment_status_history
		WHERE shipment_id = $1
	`

	if _, err := tx.Exec(ctx, query, shipmentID, status, actor, note); err != nil {
		return fmt.Errorf("shipment: append history: %w", err)
	}
	return nil
}

func (r *PGRepository) ListHistory(ctx context.Context, shipmentID string) ([]HistoryEntry, error) {
	const query = `
		SELECT id, shipment_id, seq, status, actor, note, ts
		FROM shipment_status_history
		WHERE shipment_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.pool.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("shipment: list history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, 8)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.Seq, &e.Status, &e.Actor, &e.Note, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("shipment: scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate history: %w", err)
	}
	return out, nil
}

// SetAssignment attaches a driver and vehicle while the shipment still
// awaits pickup.
func (r *PGRepository) SetAssignment(ctx context.Context, id string, driverID, vehicleID *string) (Shipment, error) {
	query := `
		UPDATE shipments
		SET driver_id = $2, vehicle_id = $3, updated_at = now()
		WHERE id = $1 AND status = 'waiting_pickup'
		RETURNING ` + shipmentColumns

	sh, err := scanShipment(r.pool.QueryRow(ctx, query, id, driverID, vehicleID))
	if err == nil {
		return sh, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, fmt.Errorf("shipment: set assignment: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Shipment{}, fmt.Errorf("shipment: assignment check: %w", err)
	}
	if !exists {
		return Shipment{}, ErrNotFound
	}
	return Shipment{}, ErrConflict
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var sh Shipment
	return sh, row.Scan(
		&sh.ID,
		&sh.RequestID,
		&sh.CarrierID,
		&sh.DriverID,
		&sh.VehicleID,
		&sh.TransportTypeID,
		&sh.PickupCity,
		&sh.PickupDistrict,
		&sh.DeliveryCity,
		&sh.DeliveryDistrict,
		&sh.Price,
		&sh.Status,
		&sh.PaymentStatus,
		&sh.CreatedAt,
		&sh.UpdatedAt,
	)
}
