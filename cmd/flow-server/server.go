package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/config"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/allocation"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/eligibility"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/auth"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/db"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/eventbus"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/icd10"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/metrics"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/middleware"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/oracle"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/websocket"
)

const version = "0.1.0"

// app is a fully wired server. Background loops are started by start.
type app struct {
	echo    *echo.Echo
	svc     *allocation.Service
	bus     *eventbus.Bus
	hub     *websocket.Hub
	monitor *queue.Monitor
	relay   *eventbus.RedisRelay
	metrics *metrics.Metrics
	pool    *pgxpool.Pool
	redis   *redis.Client
	logger  zerolog.Logger
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer a.close()

	var wg sync.WaitGroup
	a.start(ctx, &wg)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	wg.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

// buildApp connects the store and collaborators and registers every route.
// Nothing runs until start is called.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger, metrics: metrics.New()}

	policy, err := cfg.EligibilityPolicy()
	if err != nil {
		return nil, err
	}
	orch := queue.NewOrchestrator(cfg.SurgeThreshold)

	// Store
	var store allocation.Store
	var codes icd10.Lookup = icd10.FormatLookup{}
	if cfg.UsesPostgres() {
		a.pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   db.SchemaFor(cfg.DefaultSite),
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("site", cfg.DefaultSite).Msg("connected to database")
		store = allocation.NewPGStore(a.pool)

		lookup, err := icd10.NewPGLookup(a.pool, cfg.ICD10CacheSize, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		codes = lookup
	} else {
		mem := allocation.NewMemoryStore()
		n, err := mem.SeedUnits(ctx, resource.Expand(resource.DefaultLayout, time.Now().UTC()))
		if err != nil {
			return nil, err
		}
		logger.Warn().Int("units", n).Msg("using in-memory store; state is lost on restart")
		store = mem
	}

	units, err := store.ListUnits(ctx, allocation.UnitFilter{})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("list units: %w", err)
	}
	policy, added := policy.CoverIsolationUnits(units)
	for _, c := range added {
		logger.Warn().Str("category", string(c)).Msg("isolation units found outside ISOLATION_CATEGORIES; routing infection there too")
	}
	filter := eligibility.New(policy)

	// Notifications
	a.bus = eventbus.NewBus(logger)
	a.bus.OnDrop(a.metrics.EventDropped)
	var publisher eventbus.Publisher = a.bus
	if cfg.RedisURL != "" {
		a.redis, err = eventbus.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.relay = eventbus.NewRedisRelay(a.redis, cfg.RedisChannel, a.bus, logger)
		publisher = a.relay
	}
	publisher = eventbus.Safe(publisher, logger)
	a.hub = websocket.NewHub(logger)

	// Acuity oracle
	var inner oracle.Classifier
	if cfg.OracleURL != "" {
		inner = oracle.NewHTTPClassifier(oracle.HTTPConfig{
			BaseURL: cfg.OracleURL,
			APIKey:  cfg.OracleAPIKey,
			Timeout: cfg.OracleTimeout,
		}, logger)
	}
	classifier := oracle.WithFallback(inner, cfg.OracleTimeout, logger).OnFallback(a.metrics.OracleFallback)

	// Allocation service
	a.svc = allocation.NewService(store, filter, orch)
	a.svc.SetClassifier(classifier)
	a.svc.SetCodeLookup(codes)
	a.svc.SetPublisher(publisher)
	a.svc.SetRecorder(a.metrics)
	a.svc.SetLogger(logger)

	a.monitor = queue.NewMonitor(queue.MonitorConfig{
		Interval:           cfg.QueueTick,
		DispatchCategories: resource.BedCategories,
	}, a.svc, a.svc, orch, publisher, a.metrics, logger)

	a.echo = a.routes(cfg)
	return a, nil
}

func (a *app) routes(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.SiteHeader},
	}))

	// Auth middleware
	var verify echo.MiddlewareFunc
	if cfg.AuthSigningKey != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(cfg.DefaultSite, verify))
	} else {
		e.Use(verify)
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.Store,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.PoolHealthHandler(a.pool))
	}
	a.metrics.RegisterRoutes(e)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	// Observers hold their connection open, so they do not pin a site
	// database connection.
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	data := apiV1
	if a.pool != nil {
		data = apiV1.Group("", db.SiteMiddleware(a.pool, cfg.DefaultSite))
	}
	allocation.NewHandler(a.svc).RegisterRoutes(data)
	return e
}

// start launches the observer fan-out, the Redis relay and the queue
// monitor. They stop when ctx ends; wg tracks them.
func (a *app) start(ctx context.Context, wg *sync.WaitGroup) {
	events, unsubscribe := a.bus.Subscribe(256)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer unsubscribe()
		a.hub.Run(ctx, events)
	}()

	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor.Start(ctx)
	}()
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
