package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"

	kafkaAdapter "github.com/ledgerlinelabs/ledgerline-cloud/internal/adapter/eventbus/kafka"
	memoryAdapter "github.com/ledgerlinelabs/ledgerline-cloud/internal/adapter/eventbus/memory"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/adapter/repository/postgres"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/api"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/config"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/usecase/dispatch"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/worker"
	"github.com/ledgerlinelabs/ledgerline-cloud/pkg/db"
	zaplog "github.com/ledgerlinelabs/ledgerline-cloud/pkg/log"
	"github.com/ledgerlinelabs/ledgerline-cloud/pkg/snowflake"
	"github.com/ledgerlinelabs/ledgerline-cloud/sql/migrations"
)

func commonProviders() fx.Option {
	return fx.Options(
		fx.Provide(
			config.Load,

			fx.Annotate(
				postgres.NewRepository,
				fx.As(new(outbox.Repository)),
			),
			newPublisher,
			newDispatchService,
		),
		db.Module,
		snowflake.Module,
		zaplog.Module,
	)
}

// RunServer starts the HTTP API with the outbox monitoring endpoints.
func RunServer() {
	app := fx.New(
		commonProviders(),
		fx.Provide(api.NewRouter),
		fx.Invoke(registerServerHooks),
	)

	app.Run()
}

// RunWorker starts the standalone outbox dispatch worker.
func RunWorker() {
	app := fx.New(
		commonProviders(),
		fx.Provide(newDispatcher),
		fx.Invoke(registerWorkerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, db.MigrateURL(cfg))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("Migration up applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerServerHooks(lc fx.Lifecycle, router *api.Router, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

func registerWorkerHooks(lc fx.Lifecycle, dispatcher *worker.Dispatcher, cfg *config.Config, logger *zap.Logger) {
	var cancelRun context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			cancelRun = cancel
			go dispatcher.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancelRun != nil {
				cancelRun()
			}
			// Let an in-flight iteration drain before the DB closes.
			logger.Info("Waiting for in-flight work to finish",
				zap.Duration("grace", cfg.OutboxShutdownGrace))
			time.Sleep(cfg.OutboxShutdownGrace)
			return nil
		},
	})
}

func newDispatchService(repo outbox.Repository, publisher eventbus.Publisher, logger *zap.Logger, cfg *config.Config) *dispatch.Service {
	return dispatch.NewService(repo, publisher, logger, cfg.OutboxMaxRetries)
}

func newDispatcher(service *dispatch.Service, repo outbox.Repository, logger *zap.Logger, cfg *config.Config) *worker.Dispatcher {
	return worker.NewDispatcher(service, repo, logger, worker.Config{
		PollInterval:    cfg.OutboxPollInterval,
		CleanupInterval: cfg.OutboxCleanupInterval,
		BatchSize:       cfg.OutboxBatchSize,
		RetentionDays:   cfg.OutboxRetentionDays,
	})
}

func newPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (eventbus.Publisher, error) {
	switch cfg.EventBusDriver {
	case "kafka":
		adapter, err := kafkaAdapter.NewAdapter(kafkaAdapter.Config{
			Brokers:               cfg.KafkaBrokers,
			Topic:                 cfg.KafkaTopic,
			RateLimitRPM:          cfg.PublishRateLimitRPM,
			RateLimitBurst:        cfg.PublishRateLimitBurst,
			CircuitBreakerEnabled: cfg.PublishBreakerEnabled,
			CBFailureThreshold:    5,
			CBMinRequests:         10,
			CBHalfOpenMaxSuccess:  2,
			CBSamplingDuration:    time.Minute,
			CBRecoveryTime:        30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return adapter.Close()
			},
		})
		return adapter, nil
	case "memory", "":
		return memoryAdapter.NewBus(logger), nil
	default:
		return nil, fmt.Errorf("unknown event bus driver: %s", cfg.EventBusDriver)
	}
}
