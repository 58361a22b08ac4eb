package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/atrium-cms/atrium/internal/app"
	"github.com/atrium-cms/atrium/internal/auth"
	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/observability"
	"github.com/atrium-cms/atrium/internal/platform/cache"
	"github.com/atrium-cms/atrium/internal/platform/db"
	"github.com/atrium-cms/atrium/internal/posts"
	"github.com/atrium-cms/atrium/internal/sessions"
	"github.com/atrium-cms/atrium/internal/shared"
	"github.com/atrium-cms/atrium/internal/tickets"
	"github.com/atrium-cms/atrium/internal/users"
	"github.com/atrium-cms/atrium/jobs"
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

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			slog.Default().Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "atrium_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	sessionRepo := sessions.NewRepository(pool)
	sessionMgr := sessions.NewManager(sessionRepo, cfg.SessionTTL)

	resolver := authz.NewResolver(sessionMgr)
	evaluator := authz.NewEvaluator(authz.DefaultTable())
	authzMW := authz.Middleware{Resolver: resolver, Evaluator: evaluator, Logger: logger, Metrics: metrics}

	enqueuer := jobs.NewEnqueuer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.AppBaseURL)
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("enqueuer close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionMgr, enqueuer, auditLogger, logger, auth.ServiceConfig{
		VerifyTokenTTL: cfg.VerifyTokenTTL,
		ResetTokenTTL:  cfg.ResetTokenTTL,
	})
	authHandler := auth.NewHandler(logger, authService, resolver, sessionManager, csrfManager, metrics)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, sessionMgr, auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService, authzMW)

	postsRepo := posts.NewRepository(pool)
	postsService := posts.NewService(postsRepo, evaluator, logger)
	postsHandler := posts.NewHandler(logger, postsService, authzMW)

	ticketsRepo := tickets.NewRepository(pool)
	ticketsService := tickets.NewService(ticketsRepo, evaluator, logger)
	ticketsHandler := tickets.NewHandler(logger, ticketsService, authzMW)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		PostsHandler:   postsHandler,
		TicketsHandler: ticketsHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run", slog.Any("error", err))
		os.Exit(1)
	}
}
