package infra

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGContainer owns the throwaway Postgres booted for a stress run. When an
// external database is supplied the wrapper is empty and Terminate is a
// no-op, so callers can defer it unconditionally.
type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 resolves the database backing the stress run: an explicit
// overrideDSN wins, then STRESS_TEST_PG_DSN, then a fresh Postgres 16
// container with freight-specific credentials.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pgC, err := postgres.Run(startCtx,
		"postgres:16-alpine",
		postgres.WithDatabase("freight_stress"),
		postgres.WithUsername("freight"),
		postgres.WithPassword("freight"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("infra: start postgres container: %w", err)
	}

	dsn, err := pgC.ConnectionString(startCtx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("infra: container connection string: %w", err)
	}
	return &PGContainer{C: pgC}, dsn, nil
}

// Terminate tears the container down; it is safe on an empty wrapper.
func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
