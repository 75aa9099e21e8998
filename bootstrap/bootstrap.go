// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/adapters/clock"
	"github.com/quotagate/quotagate/adapters/failover"
	apihttp "github.com/quotagate/quotagate/adapters/http"
	"github.com/quotagate/quotagate/adapters/idgen"
	"github.com/quotagate/quotagate/adapters/memory"
	"github.com/quotagate/quotagate/adapters/metrics"
	"github.com/quotagate/quotagate/adapters/redis"
	"github.com/quotagate/quotagate/adapters/sqlite"
	"github.com/quotagate/quotagate/app"
	"github.com/quotagate/quotagate/config"
	"github.com/quotagate/quotagate/ports"
)

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Holder   *config.Holder
	DB       *sqlite.DB
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	Engine   *app.Engine
	Recorder *app.Recorder
	Reports  *app.Reports

	HTTPServer *http.Server

	rollup *RollupJob

	// Adapters held for cleanup.
	redisBuckets *redis.BucketStore
	memBuckets   *memory.BucketStore
}

// New creates and initializes the application from a config file.
func New(configPath string) (*App, error) {
	// Load once up front so the holder gets a logger at the configured level.
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	holder, err := config.NewHolder(configPath, setupLogger(cfg.Logging))
	if err != nil {
		return nil, err
	}
	return NewWithHolder(holder)
}

// NewWithHolder creates and initializes the application from a loaded
// config holder. The holder's OnChange hook keeps the engine's policy
// table in sync with config reloads.
func NewWithHolder(holder *config.Holder) (*App, error) {
	cfg := holder.Get()
	logger := setupLogger(cfg.Logging)

	logger.Info().Msg("initializing quotagate")

	a := &App{
		Logger: logger,
		Holder: holder,
	}

	registry := prometheus.NewRegistry()
	a.Registry = registry
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	ledger, aggregates, err := a.initLedger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	buckets := a.initBuckets(cfg, logger)

	clk := clock.Real{}
	a.Engine = app.NewEngine(app.EngineDeps{
		Buckets: buckets,
		Ledger:  ledger,
		Clock:   clk,
		Logger:  logger,
		Metrics: a.Metrics,
	}, app.EngineConfig{
		Policies:     cfg.PolicyTable(),
		CheckTimeout: cfg.Quota.CheckTimeout,
	})

	a.Recorder = app.NewRecorder(app.RecorderDeps{
		Ledger:  ledger,
		Clock:   clk,
		IDGen:   idgen.UUID{},
		Logger:  logger,
		Metrics: a.Metrics,
	}, app.RecorderConfig{
		Retries: cfg.Quota.RecordRetries,
		Timeout: cfg.Quota.RecordTimeout,
	})

	a.Reports = app.NewReports(ledger, aggregates, clk)

	if cfg.Rollup.Enabled {
		a.rollup = NewRollupJob(aggregates, clk, logger, cfg.Rollup.Schedule)
	}

	holder.OnChange(func(newCfg *config.Config) {
		a.Engine.UpdatePolicies(newCfg.PolicyTable())
	})

	a.initHTTPServer(cfg, holder)

	return a, nil
}

func (a *App) initLedger(cfg *config.Config) (ports.LedgerStore, ports.AggregateStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		store := memory.NewLedgerStore()
		a.Logger.Warn().Msg("using in-memory ledger, usage history is not durable")
		return store, store, nil
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("ledger database ready")
		store := sqlite.NewLedgerStore(db)
		return store, store, nil
	}
}

// initBuckets picks the admission cache backend. With Redis enabled the
// distributed store is wrapped in the failover adapter so an outage degrades
// to per-instance limiting instead of failing checks.
func (a *App) initBuckets(cfg *config.Config, logger zerolog.Logger) ports.BucketStore {
	a.memBuckets = memory.NewBucketStore(memory.BucketStoreConfig{})

	if !cfg.Redis.Enabled {
		logger.Info().Msg("using in-memory bucket store")
		return a.memBuckets
	}

	primary, err := redis.New(redis.Config{
		URL:    cfg.Redis.URL,
		KeyTTL: cfg.Redis.BucketTTL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, using in-memory bucket store")
		return a.memBuckets
	}
	a.redisBuckets = primary
	logger.Info().Str("url", cfg.Redis.URL).Msg("distributed bucket store connected")

	return failover.New(primary, a.memBuckets, logger, a.Metrics)
}

func (a *App) initHTTPServer(cfg *config.Config, holder *config.Holder) {
	handler := apihttp.NewHandler(apihttp.Deps{
		Engine:   a.Engine,
		Recorder: a.Recorder,
		Reports:  a.Reports,
		Clock:    clock.Real{},
		Logger:   a.Logger,
		FailOpen: func() bool { return holder.Get().Quota.FailOpen },
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler.Router())
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Run starts the application and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, reload via SIGHUP only")
	}
	a.Holder.WatchSignals()

	if a.rollup != nil {
		a.rollup.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("http server listening")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	a.Close()
	return nil
}

// Close releases all resources.
func (a *App) Close() {
	if a.rollup != nil {
		a.rollup.Stop()
	}
	a.Holder.Stop()
	if a.redisBuckets != nil {
		a.redisBuckets.Close()
	}
	if a.memBuckets != nil {
		a.memBuckets.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	} else {
		logger = zerolog.New(os.Stderr).Level(level)
	}
	return logger.With().Timestamp().Logger()
}
