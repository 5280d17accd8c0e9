package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the referenced request does not exist.
	ErrNotFound = errors.New("request: not found")
	// ErrConflict signals the conditional precondition failed because another
	// actor won the race. Callers re-query current state rather than retry
	// blindly.
	ErrConflict = errors.New("request: conflict")
	// ErrInvalidTransition signals the requested move is not in the legal
	// transition table.
	ErrInvalidTransition = errors.New("request: invalid transition")
	// ErrAlreadyTerminal signals a mutation attempt on a closed request.
	ErrAlreadyTerminal = errors.New("request: already terminal")
	// ErrCarrierRequired signals a transition into a carrier-attached status
	// without a carrier to attach.
	ErrCarrierRequired = errors.New("request: carrier required for transition")
)

const requestColumns = `id, transport_type_id, pickup_city, pickup_district, delivery_city, delivery_district,
       price, status, carrier_id, rejected_by, shipment_id, expires_at, created_at, updated_at`

// Repository is the data-access contract for requests. Every mutation is a
// single atomic conditional update keyed on expected prior state.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	ListOpenByTransportTypes(ctx context.Context, transportTypes []int) ([]Request, error)
	AcceptClaim(ctx context.Context, tx pgx.Tx, requestID, carrierID string) (Request, error)
	InsertRejection(ctx context.Context, tx pgx.Tx, requestID, carrierID string) (bool, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, carrierID *string) (Request, error)
	ExpireOverdue(ctx context.Context, releaseClaim bool) (int64, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	const query = `
		INSERT INTO requests (id, transport_type_id, pickup_city, pickup_district, delivery_city, delivery_district,
			price, status, expires_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.TransportTypeID,
		req.PickupRegion.City,
		req.PickupRegion.District,
		req.DeliveryRegion.City,
		req.DeliveryRegion.District,
		req.Price,
		req.Status,
		req.ExpiresAt,
	)

	created, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("request: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get by id: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + requestColumns + ` FROM requests`
	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.CarrierID != "" {
		where = append(where, fmt.Sprintf("carrier_id=$%d", len(args)+1))
		args = append(args, filters.CarrierID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("request: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("request: iterate list: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM requests" + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count list: %w", err)
	}

	return list, total, nil
}

// ListOpenByTransportTypes returns the coarse candidate set for the matching
// filter: every request in a visible status whose transport type the carrier
// supports, most recent first. Per-carrier eligibility (rejections, service
// areas, claim ownership) is applied by the pure predicate on top.
func (r *PGRepository) ListOpenByTransportTypes(ctx context.Context, transportTypes []int) ([]Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE transport_type_id = ANY($1)
		  AND status IN ('new', 'offer_made', 'accepted')
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, transportTypes)
	if err != nil {
		return nil, fmt.Errorf("request: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 16)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan open: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate open: %w", err)
	}
	return out, nil
}

// AcceptClaim transfers the claim to carrierID in one conditional update.
// Exactly one concurrent caller can satisfy the precondition; losers get
// ErrConflict and must re-query to observe the winner.
func (r *PGRepository) AcceptClaim(ctx context.Context, tx pgx.Tx, requestID, carrierID string) (Request, error) {
	query := `
		UPDATE requests
		SET status = 'accepted', carrier_id = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('new', 'offer_made')
		  AND carrier_id IS NULL
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, requestID, carrierID))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("request: accept claim: %w", err)
	}

	// Precondition failed: distinguish a missing request from a lost race or
	// closed request.
	var status Status
	if err := tx.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, requestID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: accept claim check: %w", err)
	}
	return Request{}, ErrConflict
}

// InsertRejection appends carrierID to rejected_by. The membership test is
// part of the update predicate so the write is idempotent; it never touches
// status or carrier_id, and a closed request is left untouched. Returns true
// when the set actually grew.
func (r *PGRepository) InsertRejection(ctx context.Context, tx pgx.Tx, requestID, carrierID string) (bool, error) {
	const query = `
		UPDATE requests
		SET rejected_by = array_append(rejected_by, $2::uuid), updated_at = now()
		WHERE id = $1
		  AND NOT ($2::uuid = ANY(rejected_by))
		  AND status NOT IN ('converted', 'expired', 'cancelled')
	`

	tag, err := tx.Exec(ctx, query, requestID, carrierID)
	if err != nil {
		return false, fmt.Errorf("request: insert rejection: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("request: rejection check: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// UpdateStatus applies next as a single conditional update keyed on the
// transition table's predecessors. Moving into a carrier-attached status
// attaches carrierID if the request has none yet; moving into a terminal
// side-state releases the claim; a carrier supplied alongside any other
// target status is ignored.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, carrierID *string) (Request, error) {
	preds := Predecessors(next)
	if len(preds) == 0 {
		return Request{}, ErrInvalidTransition
	}
	predNames := make([]string, len(preds))
	for i, p := range preds {
		predNames[i] = string(p)
	}
	if !next.CarrierAttached() {
		carrierID = nil
	}

	query := `
		UPDATE requests
		SET status = $2::request_status,
		    carrier_id = CASE
		        WHEN $2::request_status IN ('expired', 'cancelled') THEN NULL
		        WHEN $2::request_status IN ('accepted', 'waiting_approve', 'approved', 'paid', 'converted')
		            THEN COALESCE(carrier_id, $4::uuid)
		        ELSE carrier_id
		    END,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3::request_status[])
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, id, next, predNames, carrierID))
	if err == nil {
		return req, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, r.classifyTransitionFailure(ctx, tx, id, next)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" && pgErr.ConstraintName == "requests_carrier_iff_claimed" {
		return Request{}, ErrCarrierRequired
	}
	return Request{}, fmt.Errorf("request: update status: %w", err)
}

func (r *PGRepository) classifyTransitionFailure(ctx context.Context, q querier, id string, next Status) error {
	var current Status
	if err := q.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("request: transition check: %w", err)
	}
	if current.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if CanTransition(current, next) {
		// The table allows it now, so a concurrent actor moved the row
		// between our attempt and this read.
		return ErrConflict
	}
	return ErrInvalidTransition
}

// ExpireOverdue moves overdue requests into the expired terminal state and
// releases any carrier claim in the same update. Claimed statuses are swept
// only when the release policy is enabled; paid requests are never swept and
// stay on the promotion path until converted or explicitly cancelled.
func (r *PGRepository) ExpireOverdue(ctx context.Context, releaseClaim bool) (int64, error) {
	statuses := []string{string(StatusNew), string(StatusOfferMade)}
	if releaseClaim {
		statuses = append(statuses, string(StatusAccepted), string(StatusWaitingApprove), string(StatusApproved))
	}

	const query = `
		UPDATE requests
		SET status = 'expired', carrier_id = NULL, updated_at = now()
		WHERE expires_at IS NOT NULL
		  AND expires_at <= now()
		  AND status = ANY($1::request_status[])
	`

	tag, err := r.pool.Exec(ctx, query, statuses)
	if err != nil {
		return 0, fmt.Errorf("request: expire overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.ID,
		&req.TransportTypeID,
		&req.PickupRegion.City,
		&req.PickupRegion.District,
		&req.DeliveryRegion.City,
		&req.DeliveryRegion.District,
		&req.Price,
		&req.Status,
		&req.CarrierID,
		&req.RejectedBy,
		&req.ShipmentID,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}
