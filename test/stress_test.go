package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"freightflow/outbox"
	"freightflow/promotion"
	"freightflow/request"
	"freightflow/test/actors"
	"freightflow/test/chaos"
	"freightflow/test/infra"
	"freightflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestMatchingEngineConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	// migrations
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	// seed carriers and an initial batch of open requests
	seedData := mustSeed(t, ctx, pool)

	requestRepo := request.NewRepository(pool)
	promoter := promotion.NewPromoter(promotion.NewRepository(pool, outbox.NewWriter()), nil).
		WithBatchSize(20)

	// run actors
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	transportTypes := []int{1, 2, 3}
	g.Go(func() error { return actors.Intake(ctx2, pool, transportTypes, stop) })

	// accepters from every carrier battling over the same open requests
	for i := 0; i < *flConcurrency; i++ {
		carrierID := seedData.carrierIDs[i%len(seedData.carrierIDs)]
		g.Go(func() error { return actors.Accepter(ctx2, pool, carrierID, stop) })
	}
	for _, carrierID := range seedData.carrierIDs {
		id := carrierID
		g.Go(func() error { return actors.Rejecter(ctx2, pool, id, stop) })
	}

	g.Go(func() error { return actors.Payer(ctx2, pool, stop) })

	// two overlapping promotion sweeps plus the payers' direct-trigger path
	g.Go(func() error { return actors.Promoter(ctx2, promoter, stop) })
	g.Go(func() error { return actors.Promoter(ctx2, promoter, stop) })

	g.Go(func() error { return actors.Driver(ctx2, pool, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	g.Go(func() error { return actors.Expirer(ctx2, pool, requestRepo.ExpireOverdue, stop) })

	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	// schedule oracle checks until duration reached
	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	carrierIDs []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	for i := 0; i < 4; i++ {
		var id string
		err := pool.QueryRow(ctx, `INSERT INTO carriers (name, supported_transport_types) VALUES ($1, '{1,2,3}') RETURNING id`,
			fmt.Sprintf("Carrier %d-%d", i, rand.Int63())).Scan(&id)
		if err != nil {
			t.Fatalf("seed carrier: %v", err)
		}
		s.carrierIDs = append(s.carrierIDs, id)
	}

	for i := 0; i < 20; i++ {
		_, err := pool.Exec(ctx, `INSERT INTO requests (transport_type_id, pickup_city, delivery_city, price)
                                  VALUES ($1,'Istanbul','Ankara',$2)`, 1+i%3, int64(10000+i*1000))
		if err != nil {
			t.Fatalf("seed request: %v", err)
		}
	}

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"requests", `SELECT id, status, carrier_id, shipment_id, updated_at FROM requests ORDER BY updated_at DESC LIMIT 50`},
		{"shipments", `SELECT id, request_id, carrier_id, status, updated_at FROM shipments ORDER BY updated_at DESC LIMIT 50`},
		{"shipment_status_history", `SELECT id, shipment_id, seq, status, ts FROM shipment_status_history ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			// compact print
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
