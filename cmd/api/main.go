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

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/auth"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/calls"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/config"
	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/queue"
	"outreach-platform/internal/reporting"
	"outreach-platform/internal/scheduler"
	"outreach-platform/internal/telephony"
	"outreach-platform/pkg/logger"
	"outreach-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Persistence
	queueRepo := queue.NewPostgresRepository(db)
	campaignRepo := campaigns.NewPostgresRepository(db)
	callRepo := calls.NewPostgresRepository(db)
	attemptRepo := attempts.NewPostgresRepository(db)
	tracker := attempts.NewTracker(attemptRepo)

	// External collaborators
	dialer := telephony.NewDialer(cfg.Dialer.BaseURL)
	var debiter calls.Debiter
	if cfg.Billing.BaseURL != "" {
		debiter = billing.NewClient(cfg.Billing.BaseURL)
	}

	// Predictive/automated campaign driver
	trigger := &scheduler.Trigger{
		Queue: &queue.Selector{
			Repo:      queueRepo,
			Campaigns: campaignRepo,
		},
		Households:   queueRepo,
		Attempts:     tracker,
		Dialer:       dialer,
		Campaigns:    campaignRepo,
		Caps:         &scheduler.RedisCaps{RDB: rdb},
		CallbackBase: cfg.App.PublicURL,
		Log:          log,
	}

	reconciler := &calls.Reconciler{
		Calls:     callRepo,
		Attempts:  tracker,
		Queue:     queueRepo,
		Campaigns: campaignRepo,
		Billing:   debiter,
		Control:   dialer,
		Next:      trigger,
		Log:       log,
	}

	reports := reporting.NewService(reporting.NewPostgresRepository(db))

	handlers := httpapi.Handlers{
		Auth:         authManager,
		Campaigns:    campaignRepo,
		Queue:        queueRepo,
		Attempts:     tracker,
		Dialer:       dialer,
		Reports:      reports,
		Sessions:     httpapi.NewSessions(),
		RDB:          rdb,
		CallbackBase: cfg.App.PublicURL,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:       authManager,
		handlers:   handlers,
		reconciler: reconciler,
		campaigns:  campaignRepo,
		attempts:   tracker,
		callback:   cfg.App.PublicURL,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
