package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/planora/planora-auth/internal/handler"
	"github.com/planora/planora-auth/internal/limiter"
	"github.com/planora/planora-auth/internal/middleware"
	"github.com/planora/planora-auth/internal/models"
	"github.com/planora/planora-auth/internal/repository"
	"github.com/planora/planora-auth/internal/service"
	"github.com/planora/planora-auth/pkg/cache"
	"github.com/planora/planora-auth/pkg/config"
	"github.com/planora/planora-auth/pkg/database"
	"github.com/planora/planora-auth/pkg/jobs"
	"github.com/planora/planora-auth/pkg/logger"
	corsmiddleware "github.com/planora/planora-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/planora/planora-auth/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	repo := repository.NewUserRepository(db)

	lockoutCfg := limiter.Config{
		MaxFailures:     cfg.Lockout.MaxFailures,
		Window:          cfg.Lockout.Window,
		LockoutDuration: cfg.Lockout.Duration,
	}
	var tracker limiter.AttemptTracker
	if cfg.Lockout.UseRedis {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		tracker = limiter.NewRedisTracker(redisClient, lockoutCfg)
	} else {
		tracker = limiter.NewMemoryTracker(lockoutCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditSvc := service.NewAuditService(repo, logr, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
	})
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	issuer := service.NewTokenIssuer(repo, service.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessExpiration,
		RefreshTTL: cfg.JWT.RefreshExpiration,
	})

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(repo, issuer, tracker, auditSvc, nil, metricsSvc, validator.New(), logr)
	authHandler := handler.NewAuthHandler(authSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/sessions/revoke", authHandler.RevokeAll)
		protected.POST("/users/:id/sessions/revoke",
			middleware.RBAC(string(models.RoleAdmin), "SELF"),
			middleware.Audit(auditSvc, models.AuditEventAdminRevoke),
			authHandler.RevokeUserSessions)
		protected.POST("/password", authHandler.ChangePassword)
		protected.GET("/me", authHandler.Me)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
