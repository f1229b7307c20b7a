// Package server builds the audit service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/analytics"
	"github.com/JakeFAU/seo-auditor/internal/api"
	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
	"github.com/JakeFAU/seo-auditor/internal/config"
	"github.com/JakeFAU/seo-auditor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/seo-auditor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/seo-auditor/internal/fetcher/headless"
	"github.com/JakeFAU/seo-auditor/internal/hash/sha256"
	"github.com/JakeFAU/seo-auditor/internal/headless/detector"
	"github.com/JakeFAU/seo-auditor/internal/heuristics"
	"github.com/JakeFAU/seo-auditor/internal/id/uuid"
	"github.com/JakeFAU/seo-auditor/internal/notify"
	"github.com/JakeFAU/seo-auditor/internal/oauth"
	"github.com/JakeFAU/seo-auditor/internal/performance"
	"github.com/JakeFAU/seo-auditor/internal/policy/backoff"
	memorypublisher "github.com/JakeFAU/seo-auditor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/seo-auditor/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/seo-auditor/internal/queue/memory"
	queueredis "github.com/JakeFAU/seo-auditor/internal/queue/redis"
	"github.com/JakeFAU/seo-auditor/internal/reaper"
	memorystorage "github.com/JakeFAU/seo-auditor/internal/storage/memory"
	pgstore "github.com/JakeFAU/seo-auditor/internal/storage/postgres"
	"github.com/JakeFAU/seo-auditor/internal/worker"
)

// App contains the service's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        audit.Clock
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	reaper       *reaper.Reaper
	memQueue     *queuememory.Queue
	redisClient  *goredis.Client
	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	headless     *headlessfetcher.Fetcher
}

// Build creates the service's dependencies. logger must not be nil.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	type sanitizedConfig struct {
		Port         int    `json:"port"`
		QueueBackend string `json:"queue_backend"`
		DBBackend    string `json:"db_backend"`
		Workers      int    `json:"workers"`
		Headless     bool   `json:"headless"`
		Performance  bool   `json:"performance"`
		Analytics    bool   `json:"analytics"`
	}
	logger.Info("building application dependencies", zap.Any("config", sanitizedConfig{
		Port:         cfg.Server.Port,
		QueueBackend: cfg.Queue.Backend,
		DBBackend:    cfg.DB.Backend,
		Workers:      cfg.Worker.Concurrency,
		Headless:     cfg.Headless.Enabled,
		Performance:  cfg.Performance.APIKey != "",
		Analytics:    cfg.OAuthConfigured(),
	}))

	runs, tokens, err := setupStores(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	queue, err := setupQueue(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	notifier := notify.New(publisher, cfg.Notify.Topic, logger)

	oauthManager := oauth.New(oauth.Config{
		ClientID:     cfg.Analytics.ClientID,
		ClientSecret: cfg.Analytics.ClientSecret,
		RedirectURL:  cfg.Analytics.RedirectURI,
	}, tokens, logger)

	sources, err := setupSources(ctx, app, oauthManager)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.dispatch = setupDispatcher(app, queue, runs, sources, notifier)
	if cfg.Reaper.Enabled {
		app.reaper = reaper.New(runs, notifier, app.clock, reaper.Config{
			Interval:  time.Duration(cfg.Reaper.IntervalSeconds) * time.Second,
			MaxRunAge: cfg.ReaperMaxRunAge(),
		}, logger)
	}

	opts := []api.Option{api.WithOAuth(oauthManager)}
	if app.pool != nil {
		opts = append(opts, api.WithReadinessCheck("postgres", app.pool.Ping))
	}
	if app.redisClient != nil {
		client := app.redisClient
		opts = append(opts, api.WithReadinessCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	app.apiServer = api.NewServer(runs, app.dispatch, uuid.New(), app.clock, cfg, logger, opts...)
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers, the reaper and the HTTP server, and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.dispatch.Run(ctx)
	}()
	if a.reaper != nil {
		go a.reaper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the App opened.
func (a *App) Close() {
	a.closeInfrastructure()
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func setupStores(ctx context.Context, app *App) (audit.RunStore, audit.TokenStore, error) {
	cfg := app.cfg.DB
	if cfg.Backend != config.BackendPostgres {
		app.logger.Warn("using in-memory run store; runs are lost on restart")
		return memorystorage.NewRunStore(app.clock), memorystorage.NewTokenStore(app.clock), nil
	}
	if cfg.AutoMigrate {
		if err := pgstore.Migrate(cfg.DSN, pgstore.DirectionUp, app.logger); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	runs, err := pgstore.NewRunStore(pool, app.clock)
	if err != nil {
		return nil, nil, fmt.Errorf("run store init failed: %w", err)
	}
	tokens, err := pgstore.NewTokenStore(pool, app.clock)
	if err != nil {
		return nil, nil, fmt.Errorf("token store init failed: %w", err)
	}
	app.logger.Info("using postgres run store", zap.Int32("max_conns", cfg.MaxConns))
	return runs, tokens, nil
}

func setupQueue(ctx context.Context, app *App) (audit.Queue, error) {
	cfg := app.cfg.Queue
	if cfg.Backend != config.BackendRedis {
		app.memQueue = queuememory.NewQueue(cfg.Depth)
		app.logger.Info("using in-memory queue", zap.Int("depth", cfg.Depth))
		return app.memQueue, nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	app.redisClient = goredis.NewClient(opts)
	q, err := queueredis.New(ctx, app.redisClient, queueredis.Config{
		Stream:       cfg.Stream,
		Group:        cfg.Group,
		Consumer:     cfg.Consumer,
		Block:        time.Duration(cfg.BlockMs) * time.Millisecond,
		ClaimMinIdle: time.Duration(cfg.ClaimMinIdleSeconds) * time.Second,
	}, app.clock, app.logger)
	if err != nil {
		return nil, fmt.Errorf("redis queue init failed: %w", err)
	}
	app.logger.Info("using redis queue",
		zap.String("stream", cfg.Stream),
		zap.String("group", cfg.Group),
		zap.String("consumer", cfg.Consumer),
	)
	return q, nil
}

func setupPublisher(ctx context.Context, app *App) (audit.Publisher, error) {
	cfg := app.cfg.Notify
	if cfg.Topic == "" || cfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(app.logger), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.gcpPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return app.gcpPublisher, nil
}

func setupSources(ctx context.Context, app *App, tokens analytics.TokenProvider) (worker.Sources, error) {
	cfg := app.cfg
	sources := worker.Sources{
		HTML: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTML.UserAgent,
			RespectRobots: cfg.HTML.RespectRobots,
			Timeout:       time.Duration(cfg.HTML.TimeoutSeconds) * time.Second,
		}, app.logger),
	}
	app.logger.Info("using colly html fetcher", zap.String("user_agent", cfg.HTML.UserAgent))

	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTML.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
		} else {
			app.headless = renderer
			sources.Headless = renderer
			sources.Detector = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	perf, err := performance.New(ctx, performance.Config{
		APIKey:     cfg.Performance.APIKey,
		Strategy:   cfg.Performance.Strategy,
		Timeout:    time.Duration(cfg.Performance.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Performance.MaxRetries,
		RetryDelay: time.Duration(cfg.Performance.RetryDelayMs) * time.Millisecond,
		CacheTTL:   time.Duration(cfg.Performance.CacheTTLMinutes) * time.Minute,
	}, app.clock, app.logger)
	if err != nil {
		return worker.Sources{}, fmt.Errorf("performance client init failed: %w", err)
	}
	sources.Performance = perf
	if cfg.Performance.APIKey == "" {
		app.logger.Warn("PSI_API_KEY not set, performance data unavailable")
	}

	sources.Analytics = analytics.New(analytics.Config{
		CacheTTL:     time.Duration(cfg.Analytics.CacheTTLMinutes) * time.Minute,
		LookbackDays: cfg.Analytics.LookbackDays,
		RowLimit:     cfg.Analytics.RowLimit,
	}, tokens, analytics.GoogleFactory(), app.clock, app.logger)
	if !cfg.OAuthConfigured() {
		app.logger.Warn("Search Console OAuth not configured, analytics will report authentication required")
	}
	return sources, nil
}

func setupDispatcher(
	app *App,
	queue audit.Queue,
	runs audit.RunStore,
	sources worker.Sources,
	notifier *notify.Notifier,
) *dispatcher.Dispatcher {
	cfg := app.cfg
	engine := heuristics.NewEngine(heuristics.Config{SimilarityThreshold: cfg.Worker.SimilarityThreshold})
	base, maxDelay := cfg.BackoffBounds()
	policy := backoff.New(backoff.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
	})
	workerCfg := worker.Config{
		JobTimeout:     cfg.JobTimeout(),
		RenderHeadless: sources.Headless != nil,
		RespectRobots:  cfg.HTML.RespectRobots,
	}
	app.logger.Info("worker config",
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Bool("render_headless", workerCfg.RenderHeadless),
		zap.Int("max_attempts", cfg.Worker.MaxAttempts),
		zap.Duration("backoff_base", base),
		zap.Duration("backoff_max", maxDelay),
	)

	hasher := sha256.New()
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			runs,
			sources,
			engine,
			hasher,
			app.clock,
			policy,
			notifier,
			workerCfg,
			app.logger.With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(queue, workers, app.logger)
}
