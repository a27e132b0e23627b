package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pagewise/hub/internal/api/handlers"
	"github.com/pagewise/hub/internal/api/middleware"
	"github.com/pagewise/hub/internal/bootstrap"
	"github.com/pagewise/hub/internal/config"
	"github.com/pagewise/hub/internal/jobs"
	"github.com/pagewise/hub/internal/observability"
	"github.com/pagewise/hub/internal/service"
	"github.com/pagewise/hub/internal/worker"
	"github.com/pagewise/hub/internal/workers"
	"github.com/pagewise/hub/pkg/cache"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	backends       *bootstrap.Backends
	server         *http.Server
	river          *river.Client[pgx.Tx]
	indexer        *worker.Indexer
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

const (
	queueStatsInterval = 15 * time.Second
	statsCacheTTL      = 2 * time.Second
	purgeInsertRetries = 3
)

// setupMetrics creates the meter provider and hub metrics when metrics are enabled.
// When NewMeterProvider returns nil (unsupported or disabled exporter), everything is nil (metrics disabled).
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	mp, promHandler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("hub"))
	if err != nil {
		err2 := observability.ShutdownMeterProvider(context.Background(), mp)
		if err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, promHandler, metrics, nil
}

// componentMetrics unpacks Metrics into the per-component interfaces, all nil when metrics are disabled.
type componentMetrics struct {
	indexing  observability.IndexingMetrics
	retrieval observability.RetrievalMetrics
	cache     observability.CacheMetrics
	api       observability.APIMetrics
}

func unpackMetrics(m *observability.Metrics) componentMetrics {
	if m == nil {
		return componentMetrics{}
	}

	return componentMetrics{indexing: m.Indexing, retrieval: m.Retrieval, cache: m.Cache, api: m.API}
}

// NewApp builds and wires all components. It does not start the HTTP server, the indexer or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	var (
		err           error
		meterProvider *sdkmetric.MeterProvider
		promHandler   http.Handler
		metrics       *observability.Metrics
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, promHandler, metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			shutdownAfterError(nil, meterProvider, "tracer provider")

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	// Install TraceContextHandler unconditionally so request_id (and trace_id/span_id when tracing is on) appear in logs.
	defaultHandler := slog.Default().Handler()
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(defaultHandler)))

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	m := unpackMetrics(metrics)

	backends, err := bootstrap.Open(ctx, cfg, m.retrieval)
	if err != nil {
		shutdownAfterError(tracerProvider, meterProvider, "backends")

		return nil, err
	}

	indexer := worker.NewIndexer(worker.IndexerParams{
		Queue:           backends.Queue,
		Store:           backends.Store,
		EmbeddingClient: backends.Embedder,
		Limiter:         bootstrap.NewLimiter(cfg),
		Metrics:         m.indexing,
		Config:          bootstrap.IndexerConfig(cfg),
	})

	riverClient, inserter, err := newRiverClient(cfg, backends, m.indexing)
	if err != nil {
		backends.Close()
		shutdownAfterError(tracerProvider, meterProvider, "River client")

		return nil, fmt.Errorf("create River client: %w", err)
	}

	retrievalService, err := newRetrievalService(cfg, backends, m)
	if err != nil {
		backends.Close()
		shutdownAfterError(tracerProvider, meterProvider, "retrieval service")

		return nil, err
	}

	changeCapture := service.NewChangeCapture(backends.Queue, m.indexing)
	tenantService := service.NewTenantEmbeddingsService(backends.Store, backends.Queue, inserter, m.indexing)

	readiness := map[string]handlers.Pinger{
		"queue": backends.Queue,
		"store": backends.Store,
	}
	if backends.DB != nil {
		readiness["database"] = backends.DB
	}

	routes := httpRoutes{
		health:    handlers.NewHealthHandler(readiness),
		changes:   handlers.NewChangesHandler(changeCapture),
		retrieval: handlers.NewRetrievalHandler(retrievalService),
		indexing:  handlers.NewIndexingHandler(indexer, backends.Queue, statsCacheTTL, m.cache),
		tenants:   handlers.NewTenantsHandler(tenantService),
		metrics:   promHandler,
	}

	server := newHTTPServer(cfg, routes, m.api, meterProvider, tracerProvider)

	return &App{
		cfg:            cfg,
		backends:       backends,
		server:         server,
		river:          riverClient,
		indexer:        indexer,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

// newRiverClient creates the River client that runs tenant purges on the maintenance queue.
// Without a database there is no River; the returned inserter is nil and purges run inline.
func newRiverClient(
	cfg *config.Config, backends *bootstrap.Backends, metrics observability.IndexingMetrics,
) (*river.Client[pgx.Tx], jobs.JobInserter, error) {
	if backends.DB == nil {
		slog.Info("River disabled (no database backend), tenant purges run inline")

		return nil, nil, nil
	}

	// The worker purges inline; only API requests go through River.
	inlinePurger := service.NewTenantEmbeddingsService(backends.Store, backends.Queue, nil, metrics)

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewTenantPurgeWorker(inlinePurger))

	client, err := river.NewClient(riverpgxv5.New(backends.DB), &river.Config{
		Queues: map[string]river.QueueConfig{
			jobs.MaintenanceQueueName: {MaxWorkers: cfg.PurgeMaxWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{},
	})
	if err != nil {
		return nil, nil, err
	}

	inserter := service.NewRetryingJobInserter(jobs.NewRiverJobInserter(client), service.RetryingJobInserterConfig{
		MaxRetries:     purgeInsertRetries,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Metrics:        metrics,
	})

	return client, inserter, nil
}

func newRetrievalService(
	cfg *config.Config, backends *bootstrap.Backends, m componentMetrics,
) (*service.RetrievalService, error) {
	var queryCache *cache.LoaderCache[[]float32]

	if cfg.RetrievalQueryCacheSize > 0 {
		var err error

		queryCache, err = cache.NewLoaderCache[[]float32](cfg.RetrievalQueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create query embedding cache: %w", err)
		}
	}

	return service.NewRetrievalService(service.RetrievalServiceParams{
		EmbeddingClient: backends.Embedder,
		Store:           backends.Store,
		Policy:          service.TopKPolicy{Broad: cfg.RetrievalTopKBroad, Narrow: cfg.RetrievalTopKNarrow},
		MinSimilarity:   cfg.RetrievalMinSimilarity,
		EmbedAttempts:   cfg.RetrievalEmbedAttempts,
		EmbedTimeout:    cfg.EmbeddingTimeout,
		QueryCache:      queryCache,
		CacheMetrics:    m.cache,
		Metrics:         m.retrieval,
		Logger:          slog.Default(),
	}), nil
}

type httpRoutes struct {
	health    *handlers.HealthHandler
	changes   *handlers.ChangesHandler
	retrieval *handlers.RetrievalHandler
	indexing  *handlers.IndexingHandler
	tenants   *handlers.TenantsHandler
	// metrics is the Prometheus handler; nil unless OTEL_METRICS_EXPORTER=prometheus.
	metrics http.Handler
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health, /ready, /metrics; API key on /v1/).
// Handler chain: RequestID -> otelhttp(Logging(MaxBody(mux))) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	routes httpRoutes,
	apiMetrics observability.APIMetrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", routes.health.Check)
	public.HandleFunc("GET /ready", routes.health.Ready)

	if routes.metrics != nil {
		public.Handle("GET /metrics", routes.metrics)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/changes", routes.changes.Emit)
	protected.HandleFunc("POST /v1/retrieval/search", routes.retrieval.Search)
	protected.HandleFunc("POST /v1/indexing/drain", routes.indexing.Drain)
	protected.HandleFunc("GET /v1/indexing/stats", routes.indexing.Stats)
	protected.HandleFunc("GET /v1/indexing/dead", routes.indexing.Dead)
	protected.HandleFunc("GET /v1/tenants/{tenant_id}/embeddings/count", routes.tenants.Count)
	protected.HandleFunc("DELETE /v1/tenants/{tenant_id}/embeddings", routes.tenants.Purge)

	var (
		unauthorized middleware.UnauthorizedRecorder
		tooLarge     middleware.RequestBodyTooLargeRecorder
	)
	if apiMetrics != nil {
		unauthorized, tooLarge = apiMetrics, apiMetrics
	}

	protectedWithAuth := middleware.Auth(cfg.APIKey, unauthorized)(protected)
	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedWithAuth)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for probes and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				return false
			default:
				return true
			}
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	// Logging runs inside otelhttp so r.Context() has the span when we log (trace_id/span_id in access logs).
	inner := middleware.Logging(middleware.MaxBody(cfg.MaxRequestBodyBytes, tooLarge)(mux))
	handler := otelhttp.NewHandler(inner, "hub-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 15 * time.Second
		// Drain requests can run several lease passes.
		writeTimeout = 2 * time.Minute
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River, the indexer loops and the queue stats poller, then blocks
// until ctx is cancelled (e.g. signal) or a component fails. Before returning it cancels the
// background context and waits for the indexer loops to finish their current batch.
// Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if a.metrics != nil && a.metrics.Queue != nil {
		go runQueueStatsPoller(bgCtx, a.backends.Queue, a.metrics.Queue)
	}

	if a.river != nil {
		go func() {
			if err := a.river.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	indexerDone := make(chan struct{})

	if a.cfg.IndexerEnabled {
		go func() {
			defer close(indexerDone)

			if err := a.indexer.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("indexer: %w", err):
				default:
				}
			}
		}()
	} else {
		slog.Info("indexer loops disabled (INDEXER_ENABLED=false), jobs only run on drain")
		close(indexerDone)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	var err error

	select {
	case err = <-runErr:
	case <-ctx.Done():
	}

	cancelBackground()
	<-indexerDone

	return err
}

// runQueueStatsPoller periodically feeds the queue gauges.
func runQueueStatsPoller(ctx context.Context, q bootstrap.Queue, queueMetrics observability.QueueMetrics) {
	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()

	update := func() {
		stats, err := q.Stats(ctx)
		if err != nil {
			slog.WarnContext(ctx, "indexing: queue stats poll failed", "error", err)

			return
		}

		queueMetrics.SetQueueStats(stats.Depth, stats.Leased, stats.Dead, stats.OldestUnackedAge)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownAfterError releases observability providers when NewApp fails partway.
func shutdownAfterError(tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider, stage string) {
	if err := shutdownObservability(context.Background(), tracer, meter); err != nil {
		slog.Error("shutdown observability after startup error", "stage", stage, "error", err)
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
			if first == nil {
				first = err
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server and River in order, then closes the database pool. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer a.backends.Close()

	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.stopRiver(ctx)

		return fmt.Errorf("server shutdown: %w", err)
	}

	if a.river != nil {
		if err = a.river.Stop(ctx); err != nil {
			return fmt.Errorf("river stop: %w", err)
		}
	}

	return nil
}

func (a *App) stopRiver(ctx context.Context) {
	if a.river == nil {
		return
	}

	if err := a.river.Stop(ctx); err != nil {
		slog.Error("river stop during server shutdown", "error", err)
	}
}
