// Package main runs the event check-in HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sampleday/backend/config"
	"github.com/sampleday/backend/internal/auth"
	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/internal/checkins"
	"github.com/sampleday/backend/internal/events"
	"github.com/sampleday/backend/internal/favorites"
	"github.com/sampleday/backend/internal/location"
	"github.com/sampleday/backend/internal/middleware"
	"github.com/sampleday/backend/internal/models"
	"github.com/sampleday/backend/internal/realtime"
	"github.com/sampleday/backend/internal/worker"
	"github.com/sampleday/backend/pkg/database"
	"github.com/sampleday/backend/pkg/queue"
	"github.com/sampleday/backend/pkg/redis"
	"github.com/sampleday/backend/pkg/response"
	"github.com/sampleday/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var images events.ImageStore
	if cfg.AWS.ImagesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ImagesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			images = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.Issuer)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Events
	eventRepo, err := events.NewCachedStore(events.NewRepository(pool), cfg.CheckIn.EventCacheSize)
	if err != nil {
		logger.Fatal("event cache", zap.Error(err))
	}
	eventHandler := events.NewHandler(eventRepo, images, logger)

	// Check-in records
	checkinRepo := checkins.NewRepository(pool)
	checkinsHandler := checkins.NewHandler(checkinRepo, eventRepo, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recorder := worker.NewFallbackRecorder(jobQueue, checkinRepo, logger)

	// Check-in sessions
	locations := location.NewStore(rdb.Client, cfg.CheckIn.SampleTTL)
	engine := checkin.NewEngine(cfg.CheckIn.RadiusMeters, logger)
	registry, err := checkin.NewRegistry(engine, events.NewSource(eventRepo), checkinRepo, recorder, cfg.CheckIn.MaxSessions, logger)
	if err != nil {
		logger.Fatal("check-in registry", zap.Error(err))
	}
	registry.SetNotifier(hub.NotifyCheckIn)
	checkinHandler := checkin.NewHandler(registry, locations, logger)

	// Favorites
	favStore := favorites.NewStore(favorites.NewRedisPersister(rdb.Client), logger)
	unsubscribe := favStore.Subscribe(hub.NotifyFavorites)
	defer unsubscribe()
	favHandler := favorites.NewHandler(favStore, eventRepo, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, checkinRepo, cfg.Auth.AdminSignupCode, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/profile", authHandler.Profile)
		api.PATCH("/profile", authHandler.UpdateProfile)

		// Events
		api.POST("/events", middleware.RequireRole(models.RoleAdmin), eventHandler.Create)
		api.GET("/events", eventHandler.List)
		api.GET("/events/:id", eventHandler.GetByID)
		api.DELETE("/events/:id", middleware.RequireRole(models.RoleAdmin), eventHandler.Delete)
		api.POST("/events/:id/image", middleware.RequireRole(models.RoleAdmin), eventHandler.UploadImage)
		api.GET("/events/:id/image-url", eventHandler.ImageURL)
		api.GET("/events/:id/checkins", middleware.RequireRole(models.RoleAdmin), checkinsHandler.ListByEvent)

		// Check-in
		api.GET("/events/:id/checkin", checkinHandler.Status)
		api.POST("/events/:id/checkin/location", checkinHandler.UpdateLocation)
		api.POST("/events/:id/checkin/code", checkinHandler.SubmitCode)

		// Favorites
		api.GET("/favorites", favHandler.List)
		api.PUT("/favorites/:eventId", favHandler.Add)
		api.DELETE("/favorites/:eventId", favHandler.Remove)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, realtime.CheckIn{
		Registry: registry,
		Provider: locations,
		Sink:     locations,
		Interval: cfg.CheckIn.RefreshInterval,
	}, logger, middleware.UserIDFromToken(jwtService)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Server.EmbeddedWorker {
		go worker.NewCheckInProcessor(checkinRepo, jobQueue, logger).Run(workerCtx)
		logger.Info("check-in worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
