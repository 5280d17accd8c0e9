package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_carrier_iff_claimed",
			SQL: `SELECT id, status, carrier_id FROM requests
                  WHERE (carrier_id IS NOT NULL) <>
                        (status IN ('accepted','waiting_approve','approved','paid','converted'))`,
		},
		{
			Name: "O2_unique_shipment_per_request",
			SQL: `SELECT request_id, COUNT(*) FROM shipments
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_conversion_linkage",
			SQL: `SELECT r.id FROM requests r
                  LEFT JOIN shipments s ON s.id = r.shipment_id
                  WHERE r.status = 'converted'
                    AND (s.id IS NULL OR s.request_id <> r.id)
                  UNION ALL
                  SELECT s.id FROM shipments s
                  JOIN requests r ON r.id = s.request_id
                  WHERE r.status <> 'converted' OR r.shipment_id IS DISTINCT FROM s.id`,
		},
		{
			Name: "O4_claimed_never_rejected_by_owner",
			SQL:  `SELECT id FROM requests WHERE carrier_id = ANY(rejected_by)`,
		},
		{
			Name: "O5_history_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT shipment_id, seq,
                             LAG(seq) OVER (PARTITION BY shipment_id ORDER BY seq) AS prev
                      FROM shipment_status_history)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_history_starts_at_one",
			SQL: `SELECT shipment_id, MIN(seq) FROM shipment_status_history
                  GROUP BY shipment_id HAVING MIN(seq) <> 1`,
		},
		{
			Name: "O7_shipment_matches_request",
			SQL: `SELECT s.id FROM shipments s
                  JOIN requests r ON r.id = s.request_id
                  WHERE s.carrier_id <> r.carrier_id
                     OR s.transport_type_id <> r.transport_type_id
                     OR s.price <> r.price`,
		},
		{
			Name: "O8_expired_released_claim",
			SQL: `SELECT id FROM requests
                  WHERE status IN ('expired','cancelled') AND carrier_id IS NOT NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
