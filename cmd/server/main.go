package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-hr-workflows/internal/cache"
	"github.com/pesio-ai/be-hr-workflows/internal/client"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/handler"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/middleware"
	natsclient "github.com/pesio-ai/be-hr-workflows/internal/nats"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Service exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Connected to PostgreSQL")

	var nats *natsclient.Client
	if cfg.NATS.URL != "" {
		nats, err = natsclient.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nats.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	} else {
		log.Warn().Msg("REDIS_ADDR not set, pending-count cache disabled")
	}

	// Repositories.
	chainConfigs := repository.NewChainConfigRepository(db)
	instances := repository.NewWorkflowInstanceRepository(db)
	requests := repository.NewApprovalRequestRepository(db)
	processes := repository.NewEmployeeProcessRepository(db)
	cycles := repository.NewReviewCycleRepository(db)
	deadlines := repository.NewDeadlineRepository(db)

	// Collaborators.
	identity := client.NewIdentityClient(cfg.Identity.BaseURL)
	notifier := client.NewNotificationPublisher(nats, log.Logger)
	pendingCache := cache.NewPendingCountCache(rdb, cfg.Redis.TTL, log.Logger)

	// Services.
	resolver := service.NewChainResolver(chainConfigs, identity, log)
	engine := service.NewWorkflowEngine(instances, deadlines, log)
	orchestrator := service.NewWorkflowOrchestrator(resolver, engine, instances, requests, identity, notifier, pendingCache, log)
	processSvc := service.NewEmployeeProcessService(processes, instances, engine, notifier, log)
	cycleSvc := service.NewReviewCycleService(cycles, instances, engine, notifier, log)
	monitor := service.NewDeadlineMonitor(deadlines, instances, processes, processSvc, notifier, log)

	// Deadline sweeps.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Deadlines.WarningSchedule, func() {
		if _, err := monitor.ScanApproachingWarnings(context.Background(), time.Now()); err != nil {
			log.Error().Err(err).Msg("Deadline warning sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule warning sweep: %w", err)
	}
	if _, err := scheduler.AddFunc(cfg.Deadlines.OverdueSchedule, func() {
		if _, err := monitor.ScanOverdue(context.Background(), time.Now()); err != nil {
			log.Error().Err(err).Msg("Overdue sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule overdue sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP.
	handlers := &handler.Handlers{
		Approvals:   handler.NewApprovalHandler(orchestrator, log),
		Processes:   handler.NewProcessHandler(processSvc, log),
		Cycles:      handler.NewCycleHandler(cycleSvc, log),
		ChainConfig: handler.NewChainConfigHandler(chainConfigs, log),
		Workflows:   handler.NewWorkflowHandler(engine, instances, log),
	}

	mux := http.NewServeMux()
	handlers.Register(mux)

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.WriteTimeout)(root)
	root = middleware.CORS(nil)(root)
	root = middleware.Logger(&log.Logger)(root)
	root = middleware.Recovery(&log.Logger)(root)
	root = middleware.RequestID(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
