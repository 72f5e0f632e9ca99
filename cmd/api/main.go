package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/edutrack-api/api/swagger"
	"github.com/noah-isme/edutrack-api/internal/handler"
	"github.com/noah-isme/edutrack-api/internal/middleware"
	"github.com/noah-isme/edutrack-api/internal/models"
	"github.com/noah-isme/edutrack-api/internal/repository"
	"github.com/noah-isme/edutrack-api/internal/service"
	"github.com/noah-isme/edutrack-api/pkg/cache"
	"github.com/noah-isme/edutrack-api/pkg/config"
	"github.com/noah-isme/edutrack-api/pkg/database"
	"github.com/noah-isme/edutrack-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edutrack-api/pkg/middleware/cors"
	"github.com/noah-isme/edutrack-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/edutrack-api/pkg/middleware/requestid"
	"github.com/noah-isme/edutrack-api/pkg/signing"
)

// @title EduTrack Attendance API
// @version 1.0.0
// @description PIN and QR attendance sessions for courses
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer pools.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pools.Writer); err != nil {
			logr.Fatal("schema migration failed", zap.Error(err))
		}
	}

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, stats cache and rate limiting disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close() //nolint:errcheck
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	signer := signing.NewJoinTokenSigner(cfg.Attendance.JoinTokenSecret)

	sessionRepo := repository.NewAttendanceSessionRepository(pools)
	recordRepo := repository.NewAttendanceRecordRepository(pools)
	audits := service.NewAuditService(repository.NewAuditRepository(pools), logr, 2)
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(rdb), metrics, cfg.Attendance.StatsCacheTTL, logr, rdb != nil)

	tokens := service.NewTokenService(service.TokenConfig{
		Secret:                cfg.JWT.Secret,
		Issuer:                cfg.JWT.Issuer,
		Audience:              cfg.JWT.Audience,
		TrustUserMetadataRole: cfg.JWT.TrustUserMetadataRole,
	})
	sessions := service.NewAttendanceSessionService(sessionRepo, signer, metrics, validate, logr, service.SessionConfig{
		DefaultDuration: cfg.Attendance.DefaultDuration,
		MaxDuration:     cfg.Attendance.MaxDuration,
		PINAttempts:     cfg.Attendance.PINAttempts,
		QRSize:          cfg.Attendance.QRSize,
	})
	records := service.NewAttendanceRecordService(recordRepo, sessionRepo, signer, cacheSvc, metrics, validate, logr, cfg.Attendance.StatsCacheTTL)

	var counter ratelimit.Counter
	if rdb != nil {
		counter = ratelimit.NewRedisCounter(rdb)
	}
	markLimiter := ratelimit.New(counter, "attendance-mark", cfg.RateLimit.MarkPerMinute, time.Minute, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics, "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	metricsHandler := handler.NewMetricsHandler(metrics, readinessChecks(pools, rdb))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Sessions: handler.NewAttendanceSessionHandler(sessions, records),
		Students: handler.NewAttendanceStudentHandler(records, sessions),
	}, handler.RouteMiddleware{
		Auth:      middleware.JWT(tokens),
		Staff:     middleware.RequireRoles(models.RoleTeacher, models.RoleDean),
		Student:   middleware.RequireRoles(models.RoleStudent),
		Stats:     middleware.RequireRoles(models.RoleStudent, models.RoleDean),
		MarkLimit: markLimiter.Middleware(handler.RateLimitKey),
		Audit: func(action string) gin.HandlerFunc {
			return middleware.Audit(audits, logr, action, "attendance_session")
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("forced shutdown", zap.Error(err))
	}
	if err := audits.Close(shutdownCtx); err != nil {
		logr.Warn("audit queue not drained", zap.Error(err))
	}
}

func readinessChecks(pools database.Pools, rdb *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return pools.Writer.PingContext(ctx) },
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
