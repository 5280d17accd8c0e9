package carrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested carrier does not exist.
var ErrNotFound = errors.New("carrier: not found")

// Repository provides read access to carrier records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a carrier by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Carrier, error) {
	const query = `
		SELECT id, name, supported_transport_types, pickup_regions, delivery_regions, status, created_at, updated_at
		FROM carriers
		WHERE id = $1
	`

	c, err := scanCarrier(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Carrier{}, ErrNotFound
		}
		return Carrier{}, fmt.Errorf("carrier: query by id: %w", err)
	}

	return c, nil
}

// List fetches up to limit carriers ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Carrier, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, supported_transport_types, pickup_regions, delivery_regions, status, created_at, updated_at
		FROM carriers
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("carrier: list: %w", err)
	}
	defer rows.Close()

	carriers := make([]Carrier, 0, limit)
	for rows.Next() {
		c, err := scanCarrier(rows)
		if err != nil {
			return nil, fmt.Errorf("carrier: scan: %w", err)
		}
		carriers = append(carriers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("carrier: iterate: %w", err)
	}

	return carriers, nil
}

func scanCarrier(row pgx.Row) (Carrier, error) {
	var c Carrier
	return c, row.Scan(
		&c.ID,
		&c.Name,
		&c.SupportedTransportTypes,
		&c.PickupRegions,
		&c.DeliveryRegions,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}
