package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acapellify/api/internal/artifact"
	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/client"
	"github.com/acapellify/api/internal/config"
	"github.com/acapellify/api/internal/handler"
	"github.com/acapellify/api/internal/inference"
	"github.com/acapellify/api/internal/logger"
	"github.com/acapellify/api/internal/middleware"
	"github.com/acapellify/api/internal/pipeline"
	"github.com/acapellify/api/internal/score"
	"github.com/acapellify/api/internal/service"
	ws "github.com/acapellify/api/internal/websocket"
	"github.com/acapellify/api/internal/worker"
)

// @title          Acapellify API
// @version        1.0
// @description    Converts music scores into multi-voice a cappella arrangements.
// @host           localhost:5002
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The model is loaded once; the server does not start without it.
	model, err := loadModel(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to load inference model", zap.Error(err))
	}

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis not available, queued jobs and rate limits will fail", zap.Error(err))
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Optional object storage mirror
	var storeOpts []artifact.Option
	r2Client, err := client.NewR2Client(&cfg.R2)
	switch {
	case errors.Is(err, client.ErrStorageNotConfigured):
		zlog.Info("object storage mirror disabled")
	case err != nil:
		zlog.Fatal("failed to create R2 client", zap.Error(err))
	default:
		storeOpts = append(storeOpts, artifact.WithMirror(r2Client))
	}

	retention := cfg.Artifacts.Retention()
	store, err := artifact.NewStore(cfg.Artifacts.Root, retention, zlog, storeOpts...)
	if err != nil {
		zlog.Fatal("failed to open artifact store", zap.Error(err))
	}
	if n, err := store.Sweep(retention); err != nil {
		zlog.Warn("startup sweep failed", zap.Error(err))
	} else if n > 0 {
		zlog.Info("removed expired artifacts", zap.Int("count", n))
	}

	var (
		scheduler      cleanup.Scheduler
		timerScheduler *cleanup.TimerScheduler
	)
	switch cfg.Cleanup.Backend {
	case "queue":
		scheduler = cleanup.NewQueueScheduler(asynqClient, zlog)
	default:
		timerScheduler = cleanup.NewTimerScheduler(store, zlog)
		scheduler = timerScheduler
	}

	codec := score.Codec{}
	orchestrator := pipeline.New(codec, model, store, scheduler, pipeline.Config{
		Mode:           pipeline.ParseProgressMode(cfg.Pipeline.ProgressMode),
		WarmupTicks:    cfg.Pipeline.WarmupTicks,
		WarmupInterval: cfg.Pipeline.WarmupInterval(),
		Retention:      retention,
	}, zlog)

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(zlog)
	go hub.Run(ctx)

	// Initialize services
	conversionService := service.NewConversionService(orchestrator, codec, store, scheduler, retention, zlog)
	jobService := service.NewJobService(redisClient, asynqClient, store, scheduler, retention, zlog)

	// Initialize handlers
	convertHandler := handler.NewConvertHandler(conversionService, validate, zlog)
	fileHandler := handler.NewFileHandler(store)
	jobHandler := handler.NewJobHandler(jobService, validate, zlog)
	probes := map[string]handler.Probe{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"r2":    nil,
	}
	if r2Client != nil {
		probes["r2"] = r2Client.Ping
	}
	healthHandler := handler.NewHealthHandler(model, probes)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient, zlog)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", healthHandler.Check)

	// Conversion routes
	app.Post("/convert", rateLimiter.ConvertLimit(cfg.RateLimit.ConvertPerHour), convertHandler.Convert)
	app.Post("/convert_to_midi", rateLimiter.ConvertLimit(cfg.RateLimit.ConvertPerHour), convertHandler.ConvertToMIDI)
	app.Get("/get_file/*", fileHandler.Get)

	// Queued job routes
	jobs := app.Group("/api/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Submit)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	if cfg.Server.StaticDir != "" {
		app.Static("/", cfg.Server.StaticDir)
	}

	// Start Asynq worker server
	conversionWorker := worker.NewConversionWorker(orchestrator, jobService, store, hub, zlog)
	cleanupWorker := worker.NewCleanupWorker(store, zlog)
	srv := newWorkerServer(cfg, redisOpt, zlog)
	go func() {
		mux := asynq.NewServeMux()
		worker.Register(mux, conversionWorker, cleanupWorker)
		if err := srv.Run(mux); err != nil {
			zlog.Error("asynq worker error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zlog.Info("server starting", zap.String("addr", addr), zap.String("artifacts", store.Root()))
	if err := app.Listen(addr); err != nil {
		zlog.Error("server error", zap.Error(err))
	}

	srv.Shutdown()
	if timerScheduler != nil {
		timerScheduler.Close()
	}
	cancel()
}

// loadModel builds the inference adapter from either the remote model
// server or the local weights file.
func loadModel(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (*inference.Adapter, error) {
	var m inference.Model
	if cfg.Inference.ServiceURL != "" {
		remote := client.NewInferenceClient(&cfg.Inference)
		if err := remote.HealthCheck(ctx); err != nil {
			return nil, &inference.InitError{Source: cfg.Inference.ServiceURL, Err: err}
		}
		m = remote
		zlog.Info("using remote inference", zap.String("url", cfg.Inference.ServiceURL), zap.String("model", cfg.Inference.ModelName))
	} else {
		dense, err := inference.LoadFile(cfg.Model.Path)
		if err != nil {
			return nil, err
		}
		m = dense
		zlog.Info("loaded model weights", zap.String("path", cfg.Model.Path), zap.String("name", dense.Name))
	}
	return inference.NewAdapter(ctx, m, cfg.Model.DefaultInputLength, zlog)
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, zlog *zap.Logger) *asynq.Server {
	var level asynq.LogLevel
	if err := level.Set(cfg.Server.LogLevel); err != nil {
		level = asynq.InfoLevel
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueConversion: 6,
			cleanup.QueueName:       4,
		},
		Logger:   zlog.Named("asynq").Sugar(),
		LogLevel: level,
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
