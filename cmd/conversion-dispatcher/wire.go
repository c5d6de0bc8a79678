package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/config"
	"github.com/velmie/convdispatch/mysql"
	"github.com/velmie/convdispatch/otelmetrics"
	"github.com/velmie/convdispatch/postgres"
	"github.com/velmie/convdispatch/redisqueue"
)

// eventStore is what the process needs from either store implementation.
type eventStore interface {
	convdispatch.EventStore
	convdispatch.PendingCounter
	Migrate(ctx context.Context) error
}

var (
	_ eventStore = (*postgres.Store)(nil)
	_ eventStore = (*mysql.Store)(nil)
)

type app struct {
	store         eventStore
	queue         *redisqueue.Queue
	router        *convdispatch.Router
	meterProvider *sdkmetric.MeterProvider
	metrics       *otelmetrics.Recorder
	dispatcher    *convdispatch.Dispatcher
	controller    *convdispatch.Controller
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (eventStore, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		store, err := mysql.Open(cfg.MySQLDSN,
			mysql.WithMaxAttempts(cfg.MaxAttempts),
			mysql.WithRetryAfter(cfg.RetryAfter),
			mysql.WithClaimTTL(cfg.ClaimTTL),
		)
		if err != nil {
			return nil, err
		}

		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL,
			postgres.WithMaxAttempts(cfg.MaxAttempts),
			postgres.WithRetryAfter(cfg.RetryAfter),
			postgres.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openQueue(cfg config.RedisConfig) (*redisqueue.Queue, error) {
	return redisqueue.Open(cfg.URL, redisqueue.WithPrefix(cfg.Prefix))
}

// wire opens both connections, installs the meter provider and assembles the
// dispatcher. Exported metrics go to metricsOut. On error nothing is left open.
func wire(ctx context.Context, cfg config.Config, logger *slog.Logger, metricsOut io.Writer) (*app, error) {
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	queue, err := openQueue(cfg.Redis)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("open queue: %w", err)
	}
	closeAll := func() {
		_ = store.Close()
		_ = queue.Close()
	}

	router, err := convdispatch.NewRouter(queue, cfg.Router, convdispatch.WithRouterLogger(logger))
	if err != nil {
		closeAll()

		return nil, err
	}

	mp, err := otelmetrics.NewProvider(otelmetrics.ProviderConfig{
		Exporter: cfg.Metrics.Exporter,
		Interval: cfg.Metrics.Interval,
		Writer:   metricsOut,
	})
	if err != nil {
		closeAll()

		return nil, fmt.Errorf("init metrics: %w", err)
	}
	otel.SetMeterProvider(mp)

	metrics, err := otelmetrics.NewWithProvider(mp)
	if err != nil {
		closeAll()
		_ = mp.Shutdown(ctx)

		return nil, fmt.Errorf("init metrics: %w", err)
	}

	opts := append(cfg.DispatcherOptions(),
		convdispatch.WithLogger(logger),
		convdispatch.WithMetrics(metrics),
	)
	dispatcher := convdispatch.NewDispatcher(store, router, opts...)

	controller, err := convdispatch.NewController(store, queue, dispatcher,
		convdispatch.WithControllerLogger(logger),
		convdispatch.WithHealthTimeout(cfg.HealthTimeout),
		convdispatch.WithCloseTimeout(cfg.ShutdownTimeout),
		convdispatch.WithShutdownHook("meter provider", mp.Shutdown),
	)
	if err != nil {
		closeAll()
		_ = mp.Shutdown(ctx)

		return nil, err
	}

	return &app{
		store:         store,
		queue:         queue,
		router:        router,
		meterProvider: mp,
		metrics:       metrics,
		dispatcher:    dispatcher,
		controller:    controller,
	}, nil
}
