package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/executor"
	"tenant_gateway/internal/httpapi"
	"tenant_gateway/internal/metrics"
	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/quota"
	"tenant_gateway/internal/ratelimit"
	"tenant_gateway/internal/routing"
	"tenant_gateway/internal/scheduler"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/usage"
	"tenant_gateway/internal/utils"
)

// quotaHousekeeping is how often old alerts and daily stats are dropped,
// and quotaRetention how long they are kept
const (
	quotaHousekeeping = time.Hour
	quotaRetention    = 30 * 24 * time.Hour
)

// app owns every long-lived component of the gateway
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	metrics *metrics.Metrics

	db    *storage.DB
	redis *storage.RedisClient

	quotas    *quota.Manager
	router    *providers.Router
	scheduler *scheduler.Scheduler
	deps      *httpapi.Dependencies

	workers usage.Workers
	stop    context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  utils.NewLogger("gateway"),
		metrics: metrics.New(),
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := openSecrets(catalog, cfg.EncryptionKey); err != nil {
		return nil, err
	}

	if err := a.connectStores(); err != nil {
		a.close()
		return nil, err
	}

	a.quotas = quota.NewManager()
	for _, t := range catalog.Tenants {
		a.quotas.Configure(t.TenantID, quota.Limits{
			DailyTokenLimit:   t.DailyTokenLimit,
			MonthlyCostLimit:  t.MonthlyCostLimit,
			DailyRequestLimit: t.DailyRequestLimit,
			WarningThreshold:  t.WarningThreshold,
		})
	}
	a.quotas.OnAlert(a.metrics.ObserveAlert)

	a.router, err = providers.NewRouterFromCatalog(catalog)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	recorder, history, costs, err := a.buildRecorders(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	boards := routing.NewRegistry()
	exec := executor.New(a.router, executor.WithObserver(a.metrics))
	a.scheduler = scheduler.New(cfg.Scheduler, catalog, a.quotas, exec, boards, recorder,
		scheduler.WithObserver(a.metrics))

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if a.redis != nil && cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewRateLimiter(a.redis.Client())
	} else if cfg.RateLimitPerMinute > 0 {
		a.logger.Warn("RATE_LIMIT_PER_MINUTE needs Redis; rate limiting disabled")
	}

	a.deps = &httpapi.Dependencies{
		Scheduler:          a.scheduler,
		Quotas:             a.quotas,
		Boards:             boards,
		Metrics:            a.metrics,
		JWTSecret:          cfg.JWTSecret,
		Limiter:            limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		History:            history,
		Costs:              costs,
		Breakers:           a.router,
		Checks:             map[string]httpapi.HealthChecker{},
		Pools:              map[string]httpapi.PoolReporter{},
	}
	if a.db != nil {
		a.deps.Checks["database"] = a.db
		a.deps.Pools["database"] = a.db
	}
	if a.redis != nil {
		a.deps.Checks["redis"] = a.redis
		a.deps.Pools["redis"] = a.redis
	}
	if len(a.workers) > 0 {
		a.deps.DeadLetters = a.workers
		a.deps.Backlog = a.workers
	}

	a.logger.Info("Gateway configured",
		"tenants", len(catalog.Tenants),
		"providers", len(catalog.Providers),
		"model_sets", len(catalog.ModelSets),
		"database", a.db != nil,
		"redis", a.redis != nil,
		"archive", cfg.Archive.Enabled)
	return a, nil
}

func openSecrets(catalog *config.Catalog, encryptionKey string) error {
	var box *config.SecretBox
	if encryptionKey != "" {
		var err error
		if box, err = config.NewSecretBoxFromBase64(encryptionKey); err != nil {
			return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	}
	if err := catalog.OpenSecrets(box); err != nil {
		return fmt.Errorf("failed to open catalog secrets: %w", err)
	}
	return nil
}

// connectStores opens the optional Postgres and Redis connections
func (a *app) connectStores() error {
	db, err := storage.NewDB(a.cfg.Database)
	switch {
	case errors.Is(err, storage.ErrDatabaseDisabled):
		a.logger.Info("DATABASE_URL not set; usage records are not stored in Postgres")
	case err != nil:
		return fmt.Errorf("failed to initialize database: %w", err)
	default:
		a.db = db
	}

	client, err := storage.NewRedisClient(a.cfg.Redis)
	switch {
	case errors.Is(err, storage.ErrRedisDisabled):
		a.logger.Info("REDIS_ADDRESS not set; cost mirror and rate limiting disabled")
	case err != nil:
		return fmt.Errorf("failed to initialize Redis: %w", err)
	default:
		a.redis = client
	}
	return nil
}

// buildRecorders assembles the usage recorder chain
func (a *app) buildRecorders(ctx context.Context) (usage.Recorder, httpapi.UsageHistory, httpapi.CostMirror, error) {
	recorders := usage.Fanout{usage.NewLogRecorder()}
	var history httpapi.UsageHistory
	var costs httpapi.CostMirror

	if a.db != nil {
		if err := a.db.Migrate(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		qc := a.queueConfig(a.cfg.UsageQueue.QueueName)
		q, dlq, err := a.newQueue(qc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		repo := a.db.NewUsageRepository()
		a.workers = append(a.workers, usage.NewPostgresRecorder(repo, q, dlq, qc))
		history = repo
	}

	if a.redis != nil {
		mirror := usage.NewRedisCostMirror(a.redis.Client())
		recorders = append(recorders, mirror)
		costs = mirror
	}

	if a.cfg.Archive.Enabled {
		archiver, err := usage.NewS3Archiver(ctx, a.cfg.Archive)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		q, dlq, err := a.newQueue(a.queueConfig(a.cfg.UsageQueue.QueueName + ":archive"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create archive queue: %w", err)
		}
		a.workers = append(a.workers, usage.NewS3Recorder(archiver, q, dlq, a.cfg.Archive))
	}

	for _, w := range a.workers {
		recorders = append(recorders, w)
	}
	return recorders, history, costs, nil
}

func (a *app) queueConfig(name string) *queue.Config {
	qc := queue.DefaultConfig(name)
	uq := a.cfg.UsageQueue
	if uq.BatchSize > 0 {
		qc.BatchSize = uq.BatchSize
	}
	if uq.BatchTimeout > 0 {
		qc.BatchTimeout = uq.BatchTimeout
	}
	if uq.MaxRetries >= 0 {
		qc.MaxRetries = uq.MaxRetries
	}
	if uq.RetryBackoff > 0 {
		qc.RetryBackoff = uq.RetryBackoff
	}
	return qc
}

// newQueue buffers on Redis when it is available so records survive a restart
func (a *app) newQueue(qc *queue.Config) (queue.Queue, queue.DeadLetterQueue, error) {
	if a.redis == nil {
		return queue.NewMemoryQueue(qc), queue.NewMemoryDeadLetterQueue(), nil
	}
	q, err := queue.NewRedisQueue(a.redis.Client(), qc)
	if err != nil {
		return nil, nil, err
	}
	dlq, err := queue.NewRedisDeadLetterQueue(a.redis.Client(), qc)
	if err != nil {
		return nil, nil, err
	}
	return q, dlq, nil
}

// start launches the usage workers, the scheduler and quota housekeeping
func (a *app) start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	a.workers.Start(ctx)
	a.scheduler.Start()
	go a.housekeeping(ctx)
}

func (a *app) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(quotaHousekeeping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts, stats := a.quotas.Cleanup(quotaRetention)
			if alerts > 0 || stats > 0 {
				a.logger.Info("Quota housekeeping", "alerts_removed", alerts, "stats_removed", stats)
			}
		}
	}
}

// shutdown drains the scheduler first so the usage of in-flight requests
// reaches the workers before they flush
func (a *app) shutdown(ctx context.Context) {
	if err := a.scheduler.Shutdown(ctx); err != nil {
		a.logger.Error("Scheduler did not drain in time", "error", err)
	}
	if err := a.workers.Stop(); err != nil {
		a.logger.Error("Failed to stop usage worker", "error", err)
	}
	if a.stop != nil {
		a.stop()
	}
	a.close()
}

func (a *app) close() {
	if a.router != nil {
		_ = a.router.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
