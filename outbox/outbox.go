// Package outbox writes integration events into the transactional outbox
// table. Rows are appended inside the caller's transaction so an event is
// published exactly when the state change it describes commits.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Topics emitted by the engine.
const (
	TopicRequestCreated        = "request.created"
	TopicRequestAccepted       = "request.accepted"
	TopicRequestRejected       = "request.rejected"
	TopicRequestStatusChanged  = "request.status_changed"
	TopicShipmentCreated       = "shipment.created"
	TopicShipmentStatusChanged = "shipment.status_changed"
)

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue inserts a pending outbox row inside the active transaction.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}

	return nil
}
