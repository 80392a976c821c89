package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/civicworks/civic-ops-api/api/swagger"
	"github.com/civicworks/civic-ops-api/internal/handler"
	"github.com/civicworks/civic-ops-api/internal/middleware"
	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/repository"
	"github.com/civicworks/civic-ops-api/internal/service"
	"github.com/civicworks/civic-ops-api/pkg/cache"
	"github.com/civicworks/civic-ops-api/pkg/config"
	"github.com/civicworks/civic-ops-api/pkg/database"
	"github.com/civicworks/civic-ops-api/pkg/logger"
	corsmiddleware "github.com/civicworks/civic-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/civicworks/civic-ops-api/pkg/middleware/requestid"
)

// @title Civic Ops API
// @version 1.0.0
// @description Civic issue lifecycle and worker assignment service
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Cache and rate limiting degrade gracefully without redis.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()
	metricsService := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewRedisCacheRepository(redisClient)
	}
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	auditService := service.NewAuditService(repository.NewAuditRepository(db), service.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
	}, logr)
	rootCtx, stopAudit := context.WithCancel(context.Background())
	auditService.Start(rootCtx)
	defer func() {
		stopAudit()
		auditService.Stop()
	}()

	engine := service.EngineConfig{
		BusyThreshold: cfg.Engine.BusyThreshold,
		AllowReassign: cfg.Engine.AllowReassign,
	}

	issueRepo := repository.NewIssueRepository(db)
	workerRepo := repository.NewWorkerRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)

	issueService := service.NewIssueService(issueRepo, assignmentRepo, cacheService, auditService, metricsService, validate, logr, engine)
	assignmentService := service.NewAssignmentService(assignmentRepo, workerRepo, issueRepo, cacheService, auditService, metricsService, validate, logr, engine)
	workerService := service.NewWorkerService(workerRepo, auditService, validate, logr, engine)
	authService := service.NewAuthService(service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	}, logr)

	issueHandler := handler.NewIssueHandler(issueService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService)
	workerHandler := handler.NewWorkerHandler(workerService, assignmentService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var commentLimit int
	if cfg.RateLimit.Enabled {
		commentLimit = cfg.RateLimit.CommentsPerDay
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/issues", issueHandler.List)
		api.GET("/issues/export", issueHandler.Export)
		api.GET("/issues/:id", issueHandler.Get)
		api.POST("/issues", issueHandler.Report)
		api.POST("/issues/:id/comments", middleware.CommentRateLimit(redisClient, commentLimit, logr), issueHandler.AddComment)

		protected := api.Group("")
		protected.Use(middleware.JWT(authService))
		{
			staff := protected.Group("")
			staff.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSupervisor, models.RoleStaff))
			{
				staff.PATCH("/issues/:id/status", issueHandler.AdvanceStatus)
				staff.GET("/issues/:id/assignments", assignmentHandler.History)
				staff.GET("/workers", workerHandler.List)
				staff.GET("/workers/:id", workerHandler.Get)
				staff.GET("/workers/:id/assignments", workerHandler.Assignments)
			}

			supervisors := protected.Group("")
			supervisors.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSupervisor))
			{
				supervisors.POST("/issues/:id/assign", assignmentHandler.Assign)
				supervisors.GET("/issues/:id/assignees", assignmentHandler.Suggest)
				supervisors.GET("/ops/metrics", metricsHandler.Snapshot)
			}

			admins := protected.Group("")
			admins.Use(middleware.RequireRoles(models.RoleAdmin))
			{
				admins.POST("/workers", workerHandler.Create)
				admins.PATCH("/workers/:id/leave", workerHandler.SetLeave)
			}
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
