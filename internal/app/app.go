package app

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/handlers"
	"github.com/ternarybob/beacon/internal/services/audit"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/ternarybob/beacon/internal/services/events"
	"github.com/ternarybob/beacon/internal/services/jobs"
	"github.com/ternarybob/beacon/internal/services/llm"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB    *sqlite.DB
	Cache *sqlite.CacheStorage
	Queue *sqlite.QueueStorage

	// Shared infrastructure
	Broadcaster *events.Broadcaster
	Breakers    *breaker.Registry
	BrowserPool *pool.BrowserPool
	URLLocks    *audit.URLLockManager

	// Audit pipeline
	Lighthouse   *audit.LighthouseRunner
	CrUX         *audit.CrUXClient
	LLMService   llm.Service
	Orchestrator *audit.Orchestrator

	// Job management
	Registry   *jobs.Registry
	Limiter    *jobs.Limiter
	Dispatcher *jobs.Dispatcher

	// HTTP handlers
	AuditHandler  *handlers.AuditHandler
	CacheHandler  *handlers.CacheHandler
	HealthHandler *handlers.HealthHandler
	WSHandler     *handlers.WebSocketHandler
}

// New wires all services from configuration. The LLM provider is optional;
// when it cannot be constructed the AI stage degrades to partial results.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	a.DB = sqlite.NewDB(logger, config.Cache.Path)
	a.Cache = sqlite.NewCacheStorage(logger, a.DB, config.Cache.TTLSeconds)
	a.Queue = sqlite.NewQueueStorage(logger, a.DB, config.Queue.MaxSize)

	a.Broadcaster = events.NewBroadcaster(logger)
	a.Breakers = breaker.NewRegistry()
	a.URLLocks = audit.NewURLLockManager()
	a.BrowserPool = pool.NewBrowserPool(logger, pool.Config{
		PoolSize:      config.Browser.PoolSize,
		LaunchTimeout: time.Duration(config.Browser.LaunchTimeout) * time.Second,
		IdleTimeout:   time.Duration(config.Browser.IdleTimeout) * time.Second,
	})

	a.Lighthouse = audit.NewLighthouseRunner(logger, a.BrowserPool)
	a.CrUX = audit.NewCrUXClient(
		logger,
		config.PSI.APIKey,
		a.Breakers.GetOrCreate(breaker.PSIBreaker, breaker.DefaultConfig()),
	)

	llmService, err := llm.NewService(config, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM provider unavailable, audits will degrade to partial")
	} else {
		a.LLMService = llmService
	}

	a.Orchestrator = audit.NewOrchestrator(
		logger,
		a.Cache,
		a.URLLocks,
		a.Lighthouse,
		a.CrUX,
		a.LLMService,
		a.Breakers.GetOrCreate(breaker.AIBreaker, breaker.DefaultConfig()),
	)

	a.Registry = jobs.NewRegistry(logger, a.Broadcaster, config.Audit.MaxJobsPerIP)
	a.Limiter = jobs.NewLimiter(logger, a.Queue, config.Audit.MaxConcurrent)
	a.Dispatcher = jobs.NewDispatcher(
		logger, config,
		a.Registry, a.Limiter, a.Queue,
		a.Orchestrator, a.BrowserPool, a.URLLocks, a.Cache,
	)

	a.AuditHandler = handlers.NewAuditHandler(
		logger, a.Dispatcher, a.Registry, a.Limiter, a.URLLocks, a.Breakers, a.Cache, a.BrowserPool,
	)
	a.CacheHandler = handlers.NewCacheHandler(logger, a.Cache)
	a.HealthHandler = handlers.NewHealthHandler(
		logger, a.DB, a.Cache, a.BrowserPool, a.Breakers, common.GetVersion(),
	)
	a.WSHandler = handlers.NewWebSocketHandler(logger, a.Registry, a.Broadcaster)

	return a, nil
}

// Start brings up the background machinery: queue recovery, browser pool,
// scheduled maintenance.
func (a *App) Start() error {
	return a.Dispatcher.Start()
}

// Shutdown stops accepting work, waits for running audits, and releases
// resources.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.Dispatcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Logger.Warn().Msg("Shutdown deadline reached before audits finished")
	}

	a.Broadcaster.Close()
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Database close failed")
	}
	return nil
}
