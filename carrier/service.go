package carrier

import "context"

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Carrier, error)
	List(ctx context.Context, limit int) ([]Carrier, error)
}

// Service exposes read-only carrier lookups to the rest of the engine.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the carrier for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Carrier, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit carriers.
func (s *Service) List(ctx context.Context, limit int) ([]Carrier, error) {
	return s.repo.List(ctx, limit)
}
