package shipment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxWriter appends integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// TransitionStore is the data access Transition needs within one tx.
type TransitionStore interface {
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Shipment, error)
	AppendHistory(ctx context.Context, tx pgx.Tx, shipmentID string, status Status, actor, note *string) error
}

// Service drives the shipment state machine after promotion. Each transition
// commits the conditional status update, the history append, and the outbox
// event as one unit.
type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
}

func NewService(pool TxBeginner, repo Repository, out OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: out,
	}
}

// TransitionParams describes a carrier-side status update.
type TransitionParams struct {
	ShipmentID string
	ActorID    string
	Next       Status
	Note       *string
}

func (s *Service) Transition(ctx context.Context, params TransitionParams) (Shipment, error) {
	if params.ShipmentID == "" {
		return Shipment{}, fmt.Errorf("shipment: transition missing shipment id")
	}
	if !params.Next.IsValid() {
		return Shipment{}, fmt.Errorf("shipment: unknown status %q", params.Next)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.UpdateStatus(ctx, tx, params.ShipmentID, params.Next)
	if err != nil {
		return Shipment{}, err
	}

	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	if err := s.repo.AppendHistory(ctx, tx, updated.ID, updated.Status, actor, params.Note); err != nil {
		return Shipment{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"shipment_id": updated.ID,
			"request_id":  updated.RequestID,
			"next":        updated.Status,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicShipmentStatusChanged, payload); err != nil {
			return Shipment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("shipment: commit transition: %w", err)
	}

	return updated, nil
}

// GetByID exposes the read projection for tracking.
func (s *Service) GetByID(ctx context.Context, id string) (Shipment, error) {
	return s.repo.GetByID(ctx, id)
}

// List exposes carrier-filtered read projections for dashboards.
func (s *Service) List(ctx context.Context, carrierID string, limit int) ([]Shipment, error) {
	return s.repo.List(ctx, carrierID, limit)
}

// History returns the append-only status log, oldest first.
func (s *Service) History(ctx context.Context, shipmentID string) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, shipmentID)
}

// AssignCrew attaches a driver and vehicle before pickup.
func (s *Service) AssignCrew(ctx context.Context, shipmentID string, driverID, vehicleID *string) (Shipment, error) {
	if shipmentID == "" {
		return Shipment{}, fmt.Errorf("shipment: assignment missing shipment id")
	}
	return s.repo.SetAssignment(ctx, shipmentID, driverID, vehicleID)
}
