package container

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/datafactory/internal/collector"
	"github.com/serroba/datafactory/internal/config"
	"github.com/serroba/datafactory/internal/egress"
	"github.com/serroba/datafactory/internal/handlers"
	"github.com/serroba/datafactory/internal/health"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/messaging"
	"github.com/serroba/datafactory/internal/middleware"
	"github.com/serroba/datafactory/internal/monitoring"
	"github.com/serroba/datafactory/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Redis wraps the optional client so the injector can close it. Client is nil
// when no address is configured.
type Redis struct {
	Client *redis.Client
}

func (r *Redis) Shutdown() error {
	if r.Client == nil {
		return nil
	}

	return r.Client.Close()
}

// Postgres wraps the optional pool. Pool is nil when no URL is configured.
type Postgres struct {
	Pool *pgxpool.Pool
}

func (p *Postgres) Shutdown() error {
	if p.Pool != nil {
		p.Pool.Close()
	}

	return nil
}

func NewLogger(format string) (*zap.Logger, error) {
	if format == "json" {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		return NewLogger(do.MustInvoke[*Options](i).LogFormat)
	})
}

func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Redis, error) {
		addr := do.MustInvoke[*Options](i).RedisAddr
		if addr == "" {
			return &Redis{}, nil
		}

		return &Redis{Client: redis.NewClient(&redis.Options{Addr: addr})}, nil
	})
}

func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Postgres, error) {
		url := do.MustInvoke[*Options](i).DatabaseURL
		if url == "" {
			return &Postgres{}, nil
		}

		pool, err := pgxpool.New(context.Background(), url)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		return &Postgres{Pool: pool}, nil
	})
}

// KeyManagerPackage loads the credential and proxy files into the key manager.
func KeyManagerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*keymanager.Manager, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		res, err := config.Load(config.Sources{
			KeyFile:       opts.KeyFile,
			ProxyFile:     opts.ProxyFile,
			ProxyServices: splitList(opts.ProxyServices),
			ChargeReached: splitList(opts.ChargeReached),
			Threshold:     opts.Threshold(),
		})
		if err != nil {
			return nil, err
		}

		for _, w := range multierr.Errors(res.Warnings) {
			logger.Warn("credential configuration", zap.Error(w))
		}

		for _, svc := range res.Services {
			logger.Info("service registered",
				zap.String("service", svc.ID),
				zap.Int("credentials", len(svc.Credentials)),
				zap.Stringer("policy", svc.Policy),
			)
		}

		return keymanager.New(res.Services)
	})

	do.Provide(i, func(i *do.Injector) (*egress.Clients, error) {
		return egress.NewClients(egress.WithRate(float64(do.MustInvoke[*Options](i).RouteRPS), 1)), nil
	})
}

func MonitoringPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*monitoring.Tracker, error) {
		return monitoring.NewTracker(nil), nil
	})

	do.Provide(i, func(_ *do.Injector) (*monitoring.Alerts, error) {
		return monitoring.NewAlerts(), nil
	})

	do.Provide(i, func(i *do.Injector) (*monitoring.Reporter, error) {
		publisher := do.MustInvoke[*messaging.Publisher](i).Publisher()

		return monitoring.NewReporter(
			do.MustInvoke[*keymanager.Manager](i),
			do.MustInvoke[*monitoring.Tracker](i),
			do.MustInvoke[*monitoring.Alerts](i),
			messaging.NewPublishFunc[monitoring.SnapshotEvent](publisher, monitoring.TopicSnapshots, monitoring.EventSnapshot),
			messaging.NewPublishFunc[monitoring.AlertEvent](publisher, monitoring.TopicAlerts, monitoring.EventAlert),
			do.MustInvoke[*Options](i).ReportInterval(),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// PublisherPackage publishes to Redis streams, or in process without Redis.
func PublisherPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.Publisher, error) {
		logger := messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i))
		client := do.MustInvoke[*Redis](i).Client

		if client == nil {
			return messaging.NewPublisher(messaging.NewInProcess(logger)), nil
		}

		pub, err := messaging.NewRedisPublisher(client, logger)
		if err != nil {
			return nil, err
		}

		return messaging.NewPublisher(pub), nil
	})
}

// CollectorPackage builds the runner from the sources file. Rows go to
// Postgres when configured.
func CollectorPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (collector.RowWriter, error) {
		pool := do.MustInvoke[*Postgres](i).Pool
		if pool == nil {
			return store.NewMemoryRowStore(), nil
		}

		rows := store.NewPostgresRowStore(pool)
		if err := rows.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}

		return rows, nil
	})

	do.Provide(i, func(i *do.Injector) (*collector.Runner, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		sources, err := loadSources(opts.SourcesFile, logger)
		if err != nil {
			return nil, err
		}

		return collector.NewRunner(
			sources,
			do.MustInvoke[*keymanager.Manager](i),
			do.MustInvoke[*egress.Clients](i),
			do.MustInvoke[collector.RowWriter](i),
			logger,
			collector.WithRecorder(do.MustInvoke[*monitoring.Tracker](i)),
		)
	})
}

func loadSources(path string, logger *zap.Logger) ([]collector.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("sources file not found, no collectors will run", zap.String("path", path))

			return nil, nil
		}

		return nil, err
	}
	defer f.Close()

	httpSources, err := collector.LoadSources(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	sources := make([]collector.Source, 0, len(httpSources))
	for _, src := range httpSources {
		sources = append(sources, src)
	}

	return sources, nil
}

// HTTPPackage registers the router, the huma API with its routes and /metrics.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		keys := do.MustInvoke[*keymanager.Manager](i)
		logger := do.MustInvoke[*zap.Logger](i)

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			monitoring.NewCollector(keys, logger),
		)
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		api := humachi.New(router, huma.DefaultConfig("Data Factory Key Manager", "1.0.0"))
		api.UseMiddleware(middleware.AccessLog(logger))

		handlers.RegisterRoutes(api, handlers.NewStatusHandler(
			keys,
			do.MustInvoke[*monitoring.Tracker](i),
			do.MustInvoke[*monitoring.Alerts](i),
			logger,
		))
		health.RegisterRoutes(api, health.NewHandler(healthCheckers(i)))

		return api, nil
	})
}

func healthCheckers(i *do.Injector) (health.Checker, health.Checker) {
	var rds, pg health.Checker

	if client := do.MustInvoke[*Redis](i).Client; client != nil {
		rds = health.NewRedisChecker(client)
	}

	if pool := do.MustInvoke[*Postgres](i).Pool; pool != nil {
		pg = health.NewPostgresChecker(pool)
	}

	return rds, pg
}

// ConsumerPackage persists published snapshots and alerts to Redis.
func ConsumerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (message.Subscriber, error) {
		opts := do.MustInvoke[*ConsumerOptions](i)

		return messaging.NewRedisSubscriber(
			do.MustInvoke[*Redis](i).Client,
			opts.ConsumerGroup,
			messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i)),
		)
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		subscriber := do.MustInvoke[message.Subscriber](i)
		snapshots := store.NewRedisSnapshotStore(do.MustInvoke[*Redis](i).Client)

		return NewMonitoringConsumers(subscriber, snapshots, logger), nil
	})
}

// SnapshotSink persists what the server's reporter publishes.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, event *monitoring.SnapshotEvent) error
	SaveAlert(ctx context.Context, event *monitoring.AlertEvent) error
}

// NewMonitoringConsumers subscribes sink to the snapshot and alert topics.
func NewMonitoringConsumers(subscriber message.Subscriber, sink SnapshotSink, logger *zap.Logger) *messaging.ConsumerGroup {
	group := messaging.NewConsumerGroup(subscriber, logger)
	messaging.Subscribe(group, monitoring.TopicSnapshots, sink.SaveSnapshot)
	messaging.Subscribe(group, monitoring.TopicAlerts, sink.SaveAlert)

	return group
}
