package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/attendance-engine/internal/config"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/handler"
	"github.com/kursadbilgin/attendance-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/attendance-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/attendance-engine/internal/infra/redis"
	"github.com/kursadbilgin/attendance-engine/internal/observability"
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"github.com/kursadbilgin/attendance-engine/internal/ratelimit"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"github.com/kursadbilgin/attendance-engine/internal/service"
	"github.com/kursadbilgin/attendance-engine/internal/template"
	"github.com/kursadbilgin/attendance-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "time/tzdata"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("attendance-engine stopped with error", zap.Error(err))
	}
	logger.Info("attendance-engine stopped")
}

type stores struct {
	events     repository.EventRepository
	recipients repository.RecipientRepository
	profiles   repository.ProfileRepository
	schedules  repository.ScheduleRepository
	sessions   repository.SessionRepository
	jobs       repository.JobRepository
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}()

	metrics := observability.NewMetrics()
	var checks []handler.ReadinessCheck

	st, check, closer, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
		checks = append(checks, check)
	}

	limiter, rdbCheck, rdbCloser, err := openLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	if rdbCloser != nil {
		closers = append(closers, rdbCloser)
		checks = append(checks, rdbCheck)
	}

	var rabbit *queue.RabbitMQ
	if cfg.TransitionSink == config.SinkRabbitMQ || cfg.ConsumeAbandonments() {
		rabbit, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, cfg.AbandonmentQueue)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		closers = append(closers, rabbit)
	}

	transitions, err := openTransitionSink(cfg, rabbit)
	if err != nil {
		return err
	}
	closers = append(closers, transitions)

	templates, reload, err := openTemplates(cfg, logger)
	if err != nil {
		return err
	}

	providers := make([]provider.Provider, 0, 4)
	for _, pc := range cfg.Providers() {
		p, err := provider.NewHTTPProvider(pc)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Warn("no channel providers configured, every send will fail")
	}

	weights, err := cfg.Weights()
	if err != nil {
		return err
	}
	policy, err := service.ParsePriorOpenPolicy(cfg.PriorOpenPolicy)
	if err != nil {
		return err
	}

	builder, err := service.NewProfileBuilder(st.profiles, weights, logger)
	if err != nil {
		return err
	}
	planner, err := service.NewPlanner(policy, logger)
	if err != nil {
		return err
	}
	dispatcher, err := service.NewDispatcher(providers, limiter, st.schedules, st.sessions, service.DispatcherConfig{
		SendTimeout: cfg.ProviderTimeout,
		WindowSize:  cfg.BatchWindowSize,
		WindowPause: cfg.BatchWindowPause,
	}, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	report := dispatcher.TestConfiguration(ctx)
	for _, msg := range report.Errors {
		logger.Warn("provider configuration check failed", zap.String("detail", msg))
	}

	analytics := service.NewAnalytics()
	orchestrator, err := service.NewOrchestrator(service.OrchestratorDeps{
		Events:      st.events,
		Recipients:  st.recipients,
		Profiles:    st.profiles,
		Schedules:   st.schedules,
		Templates:   templates,
		Builder:     builder,
		Planner:     planner,
		Dispatcher:  dispatcher,
		Analytics:   analytics,
		Transitions: transitions,
		Weights:     weights,
	}, cfg.TickInterval, cfg.TickBatchLimit, logger)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)

	recovery, err := service.NewRecoveryService(service.RecoveryDeps{
		Sessions:    st.sessions,
		Jobs:        st.jobs,
		Recipients:  st.recipients,
		Profiles:    st.profiles,
		Templates:   templates,
		Dispatcher:  dispatcher,
		Analytics:   analytics,
		Transitions: transitions,
	}, cfg.RecoveryScanInterval, cfg.TickBatchLimit, logger)
	if err != nil {
		return err
	}
	recovery.SetMetrics(metrics)
	orchestrator.SetAttemptFeedback(recovery)

	app := fiber.New(fiber.Config{
		AppName:               "attendance-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterAttendanceRoutes(app, orchestrator, dispatcher); err != nil {
		return err
	}
	if err := handler.RegisterRecoveryRoutes(app, recovery); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orchestrator.Start(gctx) })
	g.Go(func() error { return recovery.Start(gctx) })
	if cfg.ConsumeAbandonments() {
		consumer := queue.NewRabbitMQConsumer(rabbit, cfg.ConsumerPrefetch, logger)
		g.Go(func() error { return consumer.Consume(gctx, cfg.AbandonmentQueue, recovery.HandleAbandonment) })
	}
	if reload != nil {
		g.Go(func() error { return reloadOnHangup(gctx, reload, logger) })
	}
	g.Go(func() error {
		addr := ":" + strconv.Itoa(cfg.APIPort)
		logger.Info("attendance-engine api started",
			zap.String("addr", addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("limiter", cfg.RateLimiter),
			zap.String("transitionSink", cfg.TransitionSink),
			zap.Int("providers", len(providers)),
		)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStores(cfg *config.Config, logger *zap.Logger) (stores, handler.ReadinessCheck, io.Closer, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using the in-memory store, state is lost on restart")
		return stores{
			events:     repository.NewMemoryEventRepo(),
			recipients: repository.NewMemoryRecipientRepo(),
			profiles:   repository.NewMemoryProfileRepo(),
			schedules:  repository.NewMemoryScheduleRepo(),
			sessions:   repository.NewMemorySessionRepo(),
			jobs:       repository.NewMemoryJobRepo(),
		}, handler.ReadinessCheck{}, nil, nil
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return stores{}, handler.ReadinessCheck{}, nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return stores{}, handler.ReadinessCheck{}, nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		_ = sqlDB.Close()
		return stores{}, handler.ReadinessCheck{}, nil, fmt.Errorf("database migrations failed: %w", err)
	}

	return stores{
		events:     repository.NewGormEventRepo(db),
		recipients: repository.NewGormRecipientRepo(db),
		profiles:   repository.NewGormProfileRepo(db),
		schedules:  repository.NewGormScheduleRepo(db),
		sessions:   repository.NewGormSessionRepo(db),
		jobs:       repository.NewGormJobRepo(db),
	}, handler.SQLCheck(sqlDB), sqlDB, nil
}

func openLimiter(ctx context.Context, cfg *config.Config) (ratelimit.RateLimiter, handler.ReadinessCheck, io.Closer, error) {
	limits := ratelimit.Limits{Default: cfg.RateLimitPerSec}
	if cfg.RateLimiter == config.LimiterLocal {
		return ratelimit.NewLocalLimiter(limits), handler.ReadinessCheck{}, nil, nil
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, handler.ReadinessCheck{}, nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, limits)
	if err != nil {
		_ = rdb.Close()
		return nil, handler.ReadinessCheck{}, nil, err
	}
	return limiter, handler.RedisCheck(rdb), rdb, nil
}

func openTransitionSink(cfg *config.Config, rabbit *queue.RabbitMQ) (queue.TransitionPublisher, error) {
	switch cfg.TransitionSink {
	case config.SinkRabbitMQ:
		return queue.NewRabbitMQPublisher(rabbit), nil
	case config.SinkKafka:
		p, err := queue.NewKafkaPublisher(cfg.Brokers(), cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka initialization failed: %w", err)
		}
		return p, nil
	default:
		return queue.NopPublisher{}, nil
	}
}

// openTemplates returns the catalog provider and, for file catalogs, its reload hook.
func openTemplates(cfg *config.Config, logger *zap.Logger) (template.Provider, func(context.Context) error, error) {
	if cfg.TemplateCatalogPath != "" {
		fp, err := template.NewFileProvider(cfg.TemplateCatalogPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: template catalog: %v", domain.ErrConfiguration, err)
		}
		return fp, fp.Reload, nil
	}

	defaults, err := template.DefaultTemplates()
	if err != nil {
		return nil, nil, err
	}
	static, err := template.NewStaticProvider(defaults...)
	if err != nil {
		return nil, nil, err
	}
	return static, nil, nil
}

func reloadOnHangup(ctx context.Context, reload func(context.Context) error, logger *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := reload(ctx); err != nil {
				logger.Warn("template reload rejected, keeping previous catalog", zap.Error(err))
			}
		}
	}
}
