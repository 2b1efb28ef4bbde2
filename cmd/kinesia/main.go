package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kinesia/kinesia/internal/app"
	"github.com/kinesia/kinesia/internal/auth"
	"github.com/kinesia/kinesia/internal/contact"
	"github.com/kinesia/kinesia/internal/observability"
	"github.com/kinesia/kinesia/internal/patients"
	"github.com/kinesia/kinesia/internal/platform/cache"
	"github.com/kinesia/kinesia/internal/platform/db"
	"github.com/kinesia/kinesia/internal/queue"
	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/users"
	"github.com/kinesia/kinesia/internal/view"
	"github.com/kinesia/kinesia/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 10, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	roleTable, err := loadRoleTable(cfg)
	if err != nil {
		logger.Error("load role table", slog.Any("error", err))
		os.Exit(1)
	}

	sessionManager := shared.NewSessionManager(redisClient, "kinesia_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	usersRepo := users.NewRepository(dbpool, logger)
	resolver := rbac.NewResolver(usersRepo, roleTable, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger, Recorder: metrics}
	adminGuard := rbac.NewGuard(resolver, logger, metrics)

	authService := auth.NewService(auth.NewRepository(dbpool), auditLogger, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	usersService := users.NewService(usersRepo, auditLogger, jobClient, logger)
	usersHandler := users.NewHandler(logger, usersService, roleTable, templates, csrfManager)
	usersAPIHandler := users.NewAPIHandler(logger, usersService, roleTable)

	patientsService := patients.NewService(patients.NewRepository(dbpool), auditLogger, logger)
	patientsHandler := patients.NewHandler(logger, patientsService, templates, csrfManager, rbacMiddleware)

	broker := queue.NewBroker(redisClient, logger)
	queueService := queue.NewService(queue.NewRepository(dbpool), queue.NewSettingsStore(redisClient), broker, queue.Options{
		Observer: metrics,
		Audit:    auditLogger,
		Logger:   logger,
		Location: cfg.Location(),
	})
	queueHandler := queue.NewHandler(logger, queueService, broker, patientsService, templates, csrfManager, rbacMiddleware)

	contactHandler := contact.NewHandler(logger, contact.NewService(jobClient, cfg.ContactAdminEmail, logger), templates, csrfManager)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		RBACMiddleware:  rbacMiddleware,
		AdminGuard:      adminGuard,
		Metrics:         metrics,
		AuthHandler:     authHandler,
		UsersHandler:    usersHandler,
		UsersAPIHandler: usersAPIHandler,
		PatientsHandler: patientsHandler,
		QueueHandler:    queueHandler,
		ContactHandler:  contactHandler,
		JobHandler:      jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func loadRoleTable(cfg *app.Config) (*rbac.RoleTable, error) {
	if cfg.RolesFile != "" {
		return rbac.LoadRoleTable(cfg.RolesFile)
	}
	return rbac.DefaultRoleTable()
}
