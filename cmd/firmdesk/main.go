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

	"github.com/firmdesk/firmdesk/internal/app"
	"github.com/firmdesk/firmdesk/internal/platform/cache"
	"github.com/firmdesk/firmdesk/internal/platform/db"
	"github.com/firmdesk/firmdesk/internal/rbac"
	"github.com/firmdesk/firmdesk/internal/tenancy"
	"github.com/firmdesk/firmdesk/jobs"
)

// systemActorID attributes seed mutations in the audit trail.
const systemActorID int64 = 0

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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tenancyRepo := tenancy.NewRepository(pool)
	if err := tenancyRepo.Migrate(ctx); err != nil {
		logger.Error("migrate tenancy schema", slog.Any("error", err))
		os.Exit(1)
	}

	repo := rbac.NewPGRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migrate rbac schema", slog.Any("error", err))
		os.Exit(1)
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	auditSink := jobs.NewAsynqSink(jobClient)

	permCache := rbac.NewVersionedCache(redisClient, cfg.CacheTTL, logger)

	permissionService := rbac.NewPermissionService(repo, rbac.DefaultPermissionCatalog(), auditSink, permCache, logger)
	roleService := rbac.NewRoleService(repo, tenancyRepo, rbac.DefaultRoleCatalog(), auditSink, permCache, logger)

	if cfg.SeedCatalogs {
		if _, err := permissionService.SeedSystemPermissions(ctx, systemActorID); err != nil {
			logger.Error("seed permissions", slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := roleService.SeedSystemRoles(ctx, systemActorID); err != nil {
			logger.Error("seed roles", slog.Any("error", err))
			os.Exit(1)
		}
	}

	resolver := rbac.NewResolver(repo)
	enforcer := rbac.NewEnforcer(resolver, permCache, logger)

	authzHandler := rbac.NewHandler(logger, enforcer, roleService, permissionService)

	tenancyService := tenancy.NewService(tenancyRepo, permCache, logger)
	guard := rbac.Middleware{Enforcer: enforcer, Logger: logger}
	tenancyHandler := tenancy.NewHandler(tenancyService, logger,
		rbac.PrincipalFromHeaders, guard.RequirePermission("platform.firms.manage"))

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthzHandler:   authzHandler,
		TenancyHandler: tenancyHandler,
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
