package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"proofrender/internal/adapters/storage/localfs"
	"proofrender/internal/config"
	"proofrender/internal/httpapi"
	"proofrender/internal/httpapi/handlers"
	"proofrender/internal/metrics"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/pkg/shutdown"
	"proofrender/internal/ports"
	"proofrender/internal/presets"
	"proofrender/internal/proof"
	"proofrender/internal/repositories"
	"proofrender/internal/storage"
	"proofrender/internal/worker"
	"proofrender/internal/worker/monitor"
	"proofrender/internal/worker/provider"
	"proofrender/internal/worker/renderer"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "proofrender-api",
		AddSource:   cfg.Log.Source,
	})

	log.Info("starting proofrender API",
		"version", version,
		"render_provider", cfg.Render.Provider,
		"render_engine", cfg.Render.Engine,
		"job_store", cfg.Jobs.Backend,
		"storage", cfg.Storage.Provider,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Shutdown)

	for _, dir := range []string{cfg.UploadsDir(), cfg.OutputsDir(), cfg.JobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.LogFatal("failed to create work directory", err, "dir", dir)
		}
	}

	catalog, err := presets.Load(cfg.Presets)
	if err != nil {
		log.LogFatal("failed to load presets", err, "file", cfg.Presets)
	}
	log.Info("presets loaded", "presets", catalog.Names())

	jobs, checks, err := newJobStore(ctx, cfg.Jobs, cfg.JobsDir(), shutdownMgr, log)
	if err != nil {
		log.LogFatal("failed to initialize job store", err)
	}

	log.Info("initializing storage provider")
	artifacts, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", artifacts.Provider())

	engine := newEngine(cfg.Render, log)
	width, height, err := cfg.Render.Dimensions()
	if err != nil {
		log.LogFatal("invalid render resolution", err, "resolution", cfg.Render.Resolution)
	}
	log.Info("render engine ready", "engine", cfg.Render.Engine, "version", engine.Version())

	providers := provider.NewFactory(cfg.Render.Provider, provider.Deps{
		Engine:  engine,
		Catalog: catalog,
		Spawner: shutdownMgr,
		Direct: provider.DirectConfig{
			OutputDir:   cfg.OutputsDir(),
			Width:       width,
			Height:      height,
			Samples:     cfg.Render.Samples,
			Timeout:     cfg.Render.Timeout(),
			Nominal:     cfg.Render.Nominal(),
			Concurrency: cfg.Render.Concurrency,
		},
		Delay:     provider.NewUniformDelay(cfg.Queue.DelayMin, cfg.Queue.DelayMax, time.Now().UnixNano()),
		QueuePoll: cfg.Queue.PollInterval,
		Options:   []provider.Option{provider.WithLogger(log)},
	})
	if p, err := providers.Provider(); err != nil {
		log.Warn("render provider unavailable, render requests will fail", "error", err.Error())
	} else {
		log.Info("render provider ready", "provider", p.Name())
	}

	mon := monitor.New(monitor.Deps{
		Jobs:         jobs,
		Storage:      artifacts,
		Scratch:      localfs.New(cfg.WorkDir),
		Proofs:       proof.NewGenerator(catalog, cfg.Render.Resolution, engine.Version(), proof.WithLogger(log)),
		Spawner:      shutdownMgr,
		PollInterval: cfg.Monitor.PollInterval,
		PollJitter:   cfg.Monitor.PollJitter,
		Log:          log,
	})

	dispatcher := worker.NewDispatcher(worker.Deps{
		Jobs:       jobs,
		Catalog:    catalog,
		Providers:  providers,
		Monitor:    mon,
		UploadsDir: cfg.UploadsDir(),
		Log:        log,
	})

	httpMetrics := metrics.NewMiddleware("api")
	httpMetrics.MustRegister(nil)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Jobs:      jobs,
			Renders:   dispatcher,
			Uploads:   localfs.New(cfg.UploadsDir()),
			Artifacts: artifacts,
			Catalog:   catalog,
			MaxUpload: cfg.HTTP.MaxUploadSize,
			Checks:    checks,
			Version:   version,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Metrics:        httpMetrics,
		Log:            log,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

func newEngine(cfg config.RenderConfig, log *logger.Logger) renderer.Engine {
	if cfg.Engine == "http" {
		return renderer.NewHTTPClient(cfg.HTTPBaseURL)
	}
	return renderer.NewBlenderEngine(cfg.BlenderBinary, cfg.Timeout(), log)
}

// newJobStore connects the JOB_STORE backend and returns the health checks
// for its connections.
func newJobStore(ctx context.Context, cfg config.JobStoreConfig, dir string, mgr *shutdown.Manager, log *logger.Logger) (ports.JobStore, map[string]handlers.Check, error) {
	switch cfg.Backend {
	case "redis":
		log.Info("connecting to Redis")
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		mgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		log.Info("Redis connected")
		return repositories.NewRedisJobRepository(rdb, cfg.RedisTTL),
			map[string]handlers.Check{"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
			nil

	case "postgres":
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		mgr.RegisterSimple("postgres", pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, nil, err
		}
		if err := repositories.Migrate(ctx, pool, log); err != nil {
			return nil, nil, err
		}
		log.Info("PostgreSQL connected")
		return repositories.NewPostgresJobRepository(pool), map[string]handlers.Check{"postgres": pool.Ping}, nil

	default:
		return repositories.NewFileJobRepository(dir), nil, nil
	}
}
