package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Overland-East-Bay/carpool-api/internal/adapters/httpapi"
	memcarpoolrepo "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/carpoolrepo"
	memidempotency "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/idempotency"
	memoutings "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/outings"
	"github.com/Overland-East-Bay/carpool-api/internal/adapters/notify/amqpnotify"
	"github.com/Overland-East-Bay/carpool-api/internal/adapters/notify/lognotify"
	"github.com/Overland-East-Bay/carpool-api/internal/adapters/notify/redisnotify"
	"github.com/Overland-East-Bay/carpool-api/internal/adapters/postgres"
	pgcarpoolrepo "github.com/Overland-East-Bay/carpool-api/internal/adapters/postgres/carpoolrepo"
	pgidempotency "github.com/Overland-East-Bay/carpool-api/internal/adapters/postgres/idempotency"
	pgoutings "github.com/Overland-East-Bay/carpool-api/internal/adapters/postgres/outings"
	"github.com/Overland-East-Bay/carpool-api/internal/app/bookings"
	"github.com/Overland-East-Bay/carpool-api/internal/app/cascade"
	"github.com/Overland-East-Bay/carpool-api/internal/app/offers"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/auth/jwtverifier"
	platformclock "github.com/Overland-East-Bay/carpool-api/internal/platform/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/config"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/dispatch"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/logging"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/notifier"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	clk := platformclock.NewSystemClock()

	var pool *pgxpool.Pool
	if cfg.StorageBackend == config.BackendPostgres || cfg.OutingRegistry == config.BackendPostgres {
		p, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer p.Close()
		if err := postgres.Migrate(ctx, p); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pool = p
	}

	var (
		repo carpoolrepo.Repository
		idem idempotency.Store
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		repo = pgcarpoolrepo.NewRepo(pool)
		idem = pgidempotency.NewStore(pool)
	default:
		repo = memcarpoolrepo.NewRepo()
		idem = memidempotency.NewStore()
	}

	var (
		registry    outings.Registry
		memRegistry *memoutings.Registry
	)
	switch cfg.OutingRegistry {
	case config.BackendPostgres:
		registry = pgoutings.NewRegistry(pool, clk)
	default:
		memRegistry = memoutings.NewRegistry(clk, cfg.OutingRegistryPermissive)
		registry = memRegistry
	}

	sink, closeSink, err := newSink(ctx, cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	dispatcher := dispatch.New(sink, logger, dispatch.Options{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		MaxAttempts: cfg.Notify.MaxAttempts,
	})

	coord := bookings.NewCoordinator(repo, registry, clk)
	ctrl := cascade.NewController(coord, repo, dispatcher, logger)
	offersSvc := offers.NewService(repo, registry, ctrl, clk)

	if memRegistry != nil {
		memRegistry.SetCancellationListener(outings.CancellationListenerFunc(func(ctx context.Context, id domain.OutingID) error {
			_, err := ctrl.OnOutingCancelled(ctx, id)
			return err
		}))
	}

	var authMW func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthModeDev:
		logger.Warn("AUTH_MODE=dev: requests are trusted without token verification", "defaultSubject", cfg.DevSubject)
		authMW = httpapi.NewDevAuthMiddleware(cfg.DevSubject)
	default:
		authMW = httpapi.NewAuthMiddleware(jwtverifier.New(cfg.JWT))
	}

	server := httpapi.NewServer(httpapi.ServerDeps{
		Offers:   offersSvc,
		Bookings: coord,
		Cascade:  ctrl,
		Outings:  registry,
		Idem:     idem,
		Clock:    clk,
		Logger:   logger,
	})
	handler := httpapi.NewRouter(server, httpapi.RouterOptions{
		AuthMiddleware:     authMW,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			"addr", srv.Addr,
			"auth", cfg.AuthMode,
			"storage", cfg.StorageBackend,
			"outings", cfg.OutingRegistry,
			"notify", cfg.Notify.Backend,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	// Drain queued notifications before the sink closes.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification drain incomplete", "err", err)
	}
	logger.Info("api stopped")
	return nil
}

func newSink(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (notifier.Sink, func(), error) {
	switch cfg.Backend {
	case config.NotifyAMQP:
		p, err := amqpnotify.Dial(ctx, amqpnotify.Options{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp: %w", err)
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("amqp close", "err", err)
			}
		}, nil
	case config.NotifyRedis:
		client, err := redisnotify.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return redisnotify.NewPublisher(client, cfg.RedisChannel), func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", "err", err)
			}
		}, nil
	default:
		return lognotify.NewSink(logger), func() {}, nil
	}
}
