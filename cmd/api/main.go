package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/config"
	"freightflow/db"
	"freightflow/outbox"
	"freightflow/promotion"
	"freightflow/request"
	"freightflow/shipment"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg.LoggerLevel)
	if err != nil {
		panic(fmt.Sprintf("bootstrap logger: %v", err))
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	out := outbox.NewWriter()

	requestRepo := request.NewRepository(pool)
	promoter := promotion.NewPromoter(promotion.NewRepository(pool, out), log).
		WithBatchSize(cfg.PromoteBatchSize).
		WithPerRequestTimeout(cfg.PromoteTimeout)
	worker := promotion.NewWorker(promoter, requestRepo, cfg.PromoteInterval, cfg.ExpireReleasesClaim, log)

	server := &Server{
		authService:     auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		carrierService:  carrier.NewService(carrier.NewRepository(pool)),
		requestService:  request.NewService(pool, requestRepo, out).WithPromotionTrigger(promoter),
		claimService:    request.NewClaims(pool, requestRepo, out),
		matchService:    request.NewMatcher(requestRepo),
		shipmentService: shipment.NewService(pool, shipment.NewRepository(pool), out),
		promotionRunner: worker,
		log:             log,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(ctx)
	})

	g.Go(func() error {
		log.Info("api listening", zap.String("service", cfg.ServiceName), zap.Int("port", cfg.AppPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("api stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse logger level %q: %w", level, err)
	}
	zapCfg.Level = parsed
	return zapCfg.Build()
}
