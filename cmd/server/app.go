package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"provenance/internal/platform/config"
	"provenance/internal/platform/database"
	"provenance/internal/platform/httpserver"
	"provenance/internal/platform/kafka/consumer"
	"provenance/internal/platform/kafka/producer"
	platformmetrics "provenance/internal/platform/metrics"
	platformredis "provenance/internal/platform/redis"
	"provenance/internal/platform/tracing"
	"provenance/internal/provenance/handler"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/projection"
	"provenance/internal/provenance/reader"
	"provenance/internal/provenance/service"
	"provenance/internal/provenance/store"
	"provenance/pkg/platform/audit"
	auditconsumer "provenance/pkg/platform/audit/consumer"
	"provenance/pkg/platform/audit/publisher"
	auditmemory "provenance/pkg/platform/audit/store/memory"
	auditpostgres "provenance/pkg/platform/audit/store/postgres"
	"provenance/pkg/platform/audit/worker"
)

const shutdownTimeout = 10 * time.Second

// app holds every long-lived component of the server process.
type app struct {
	cfg      config.Server
	logger   *slog.Logger
	server   *httpserver.Server
	handler  http.Handler
	tracing  *tracing.Provider
	db       *sql.DB
	redis    *platformredis.Client
	producer *producer.Producer
	relay    *worker.Worker
	consumer *consumer.Consumer
}

// newApp builds the component graph. Optional components (Kafka relay, Redis
// projection) are skipped when unconfigured.
func newApp(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.tracing = tp

	ledger, auditStore, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(registry)),
	)
	registryMetrics := metrics.New(registry)
	engine := service.New(ledger,
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(registryMetrics),
		service.WithTracer(a.tracing.Tracer()),
	)

	if err := a.startRelay(ctx, registry); err != nil {
		return nil, err
	}
	var source reader.Source = engine
	view, err := a.openProjection(ctx, registry, registryMetrics)
	if err != nil {
		return nil, err
	}
	if view != nil {
		source = projection.NewReadThrough(view, engine)
	}

	policy, err := reader.PolicyFromConfig(cfg.Reader)
	if err != nil {
		return nil, err
	}
	rdr := reader.New(source,
		reader.WithPolicy(policy),
		reader.WithLogger(log),
		reader.WithMetrics(registryMetrics),
	)

	h := handler.New(engine, rdr, auditPublisher, log)
	router := newRouter(log, platformmetrics.New(registry), registry, h, a.healthChecks())
	a.handler = router
	a.server = httpserver.New(cfg.Addr, router,
		httpserver.WithLogger(log),
		httpserver.WithWriteTimeout(policy.Budget()+shutdownTimeout),
		httpserver.WithShutdownTimeout(shutdownTimeout),
	)
	built = true
	return a, nil
}

func (a *app) openStorage(ctx context.Context) (service.Ledger, audit.Store, error) {
	switch a.cfg.Storage {
	case config.StorageMemory:
		a.logger.Warn("using in-memory ledger; state is lost on restart")
		return store.NewInMemory(), auditmemory.NewInMemoryStore(), nil
	case config.StoragePostgres:
		if a.cfg.Database.MigrateOnStart {
			if err := database.Migrate(a.cfg.Database.URL); err != nil {
				return nil, nil, err
			}
			a.logger.Info("database migrations applied")
		}
		db, err := database.Open(ctx, a.cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		a.db = db
		return store.NewPostgres(db), auditpostgres.New(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage)
	}
}

// startRelay prepares the outbox relay. Only the Postgres ledger writes an
// outbox.
func (a *app) startRelay(ctx context.Context, registry prometheus.Registerer) error {
	kafka := a.cfg.Kafka
	if len(kafka.Brokers) == 0 {
		return nil
	}
	if a.db == nil {
		a.logger.Warn("kafka configured without postgres storage; outbox relay disabled")
		return nil
	}

	prod, err := producer.New(kafka.Brokers,
		producer.WithLogger(a.logger),
		producer.WithClientID("provenance-relay"),
	)
	if err != nil {
		return err
	}
	a.producer = prod
	if err := prod.EnsureTopic(ctx, kafka.Topic, kafka.Partitions, kafka.Replication); err != nil {
		return err
	}

	a.relay = worker.NewWorker(auditpostgres.NewOutbox(a.db), prod, kafka.Topic,
		worker.WithLogger(a.logger),
		worker.WithMetrics(worker.NewMetrics(registry)),
		worker.WithInterval(a.cfg.Outbox.PollInterval),
		worker.WithBatchSize(a.cfg.Outbox.BatchSize),
	)
	return nil
}

// openProjection connects the Redis view and the consumer that feeds it. It
// returns nil when either Redis or Kafka is unconfigured, or when no relay
// publishes the events that would fill the view.
func (a *app) openProjection(ctx context.Context, registry prometheus.Registerer, m *metrics.Metrics) (*projection.View, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	if a.relay == nil {
		if a.cfg.Redis.URL != "" {
			a.logger.Warn("no outbox relay feeds the projection; reads go to the ledger")
		}
		return nil, nil
	}
	rc, err := platformredis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	a.redis = rc

	view := projection.New(rc, projection.WithLogger(a.logger), projection.WithMetrics(m))
	router := auditconsumer.NewRouter(
		auditconsumer.WithLogger(a.logger),
		auditconsumer.WithMetrics(auditconsumer.NewMetrics(registry)),
	)
	projection.RegisterHandlers(router, view, a.logger)

	cons, err := consumer.New(a.cfg.Kafka.Brokers, a.cfg.Kafka.ConsumerGroup, []string{a.cfg.Kafka.Topic}, router,
		consumer.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.consumer = cons
	return view, nil
}

func (a *app) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.producer != nil {
		checks["kafka"] = a.producer.Ping
	}
	return checks
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (a *app) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting provenance registry",
			"addr", a.cfg.Addr,
			"storage", a.cfg.Storage,
			"relay", a.relay != nil,
			"projection", a.consumer != nil,
		)
		return a.server.ListenAndServe(gctx)
	})
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	return g.Wait()
}

func (a *app) close() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.tracing.Shutdown(ctx)
	}
}
