package request

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// PromotionTrigger is the synchronous promotion path invoked right after a
// request reaches paid. It shares the periodic worker's idempotency
// guarantees, so invoking it here and on the next tick is safe.
type PromotionTrigger interface {
	PromoteRequest(ctx context.Context, requestID string) error
}

// Service owns request intake and the transition guard.
type Service struct {
	pool     TxBeginner
	repo     Repository
	outbox   OutboxWriter
	promoter PromotionTrigger
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, out OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: out,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// WithPromotionTrigger enables the direct promotion path after payment.
func (s *Service) WithPromotionTrigger(t PromotionTrigger) *Service {
	s.promoter = t
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create is the intake entry point: it validates the order and persists it
// in state new.
func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	if params.TransportTypeID <= 0 {
		return Request{}, fmt.Errorf("request: unknown transport type %d", params.TransportTypeID)
	}
	if params.PickupRegion.City == "" || params.DeliveryRegion.City == "" {
		return Request{}, fmt.Errorf("request: pickup and delivery cities are required")
	}
	if params.Price <= 0 {
		return Request{}, fmt.Errorf("request: price must be positive")
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(s.now()) {
		return Request{}, fmt.Errorf("request: expires_at must be in the future")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req := Request{
		ID:              s.idGen(),
		TransportTypeID: params.TransportTypeID,
		PickupRegion:    params.PickupRegion,
		DeliveryRegion:  params.DeliveryRegion,
		Price:           params.Price,
		Status:          StatusNew,
		ExpiresAt:       params.ExpiresAt,
	}

	created, err := s.repo.Create(ctx, tx, req)
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id":        created.ID,
			"transport_type_id": created.TransportTypeID,
			"pickup_city":       created.PickupRegion.City,
			"delivery_city":     created.DeliveryRegion.City,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicRequestCreated, payload); err != nil {
			return Request{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit tx: %w", err)
	}

	return created, nil
}

// TransitionParams describes a guarded status change.
type TransitionParams struct {
	RequestID string
	ActorID   string
	Next      Status
	// CarrierID attaches a carrier when entering a carrier-attached status
	// from one that has no claim yet (offer approval).
	CarrierID *string
}

// Transition applies the state machine. The legal transition table is the
// sole authority; the update itself is conditional on the allowed
// predecessors, so a concurrent move surfaces as ErrConflict instead of a
// silent overwrite.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Request, error) {
	if params.RequestID == "" {
		return Request{}, fmt.Errorf("request: transition missing request id")
	}
	if !params.Next.IsValid() {
		return Request{}, fmt.Errorf("request: unknown status %q", params.Next)
	}
	if params.Next == StatusAccepted {
		// Claims own the accept path; its precondition also guards carrier_id.
		return Request{}, ErrInvalidTransition
	}
	if params.Next == StatusConverted {
		// Conversion happens only through promotion's claim-then-create.
		return Request{}, ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.UpdateStatus(ctx, tx, params.RequestID, params.Next, params.CarrierID)
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id": updated.ID,
			"next":       updated.Status,
		}
		if params.ActorID != "" {
			payload["actor_id"] = params.ActorID
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicRequestStatusChanged, payload); err != nil {
			return Request{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit transition: %w", err)
	}

	if updated.Status == StatusPaid && s.promoter != nil {
		// Direct trigger; the periodic sweep retries anything this misses.
		_ = s.promoter.PromoteRequest(ctx, updated.ID)
		if refreshed, err := s.repo.GetByID(ctx, updated.ID); err == nil {
			return refreshed, nil
		}
	}

	return updated, nil
}

// Cancel closes the request from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, requestID, actorID string) (Request, error) {
	return s.Transition(ctx, TransitionParams{
		RequestID: requestID,
		ActorID:   actorID,
		Next:      StatusCancelled,
	})
}

// GetByID exposes the read projection for dashboards.
func (s *Service) GetByID(ctx context.Context, id string) (Request, error) {
	return s.repo.GetByID(ctx, id)
}

// List exposes filtered read projections for dashboards.
func (s *Service) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.repo.List(ctx, filters)
}
