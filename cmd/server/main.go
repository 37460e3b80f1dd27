package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/videoforge/api/internal/broker"
	"github.com/videoforge/api/internal/client"
	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/handler"
	"github.com/videoforge/api/internal/media"
	"github.com/videoforge/api/internal/queue"
	"github.com/videoforge/api/internal/render"
	"github.com/videoforge/api/internal/worker"
	ws "github.com/videoforge/api/internal/websocket"
	"github.com/videoforge/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker connection with reconnect supervision
	conn := broker.NewConnectionManager(cfg.Redis, cfg.Connection)
	store := queue.NewStore(conn, cfg.Queue.Retention)
	conn.SetOnReconnect(store.DrainFallback)
	conn.Start(ctx)
	defer conn.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	orchestrator := queue.NewOrchestrator(redisOpt, store, cfg.Queue)
	defer orchestrator.Close()

	healthMonitor := queue.NewHealthMonitor(orchestrator, conn, cfg.Queue)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Optional object storage for finished renders
	var uploader worker.Uploader
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		r2, err := client.NewR2Client(cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("storage client not initialized, outputs stay local")
		} else {
			uploader = r2
		}
	} else {
		log.Info().Msg("object storage not configured, outputs stay local")
	}

	// Render pipeline
	runner := media.NewRunner(cfg.Render.FFmpegPath, cfg.Render.FFprobePath, cfg.Render.InvocationTimeout)
	resolver := render.NewDirResolver(cfg.Render.AssetDir)
	pipeline := render.NewPipeline(runner, resolver, cfg.Render.OutputDir, cfg.Render.WorkDir)

	// Worker
	processor := worker.NewProcessor(store, pipeline, hub, uploader, cfg.Worker)
	supervisor := worker.NewSupervisor(redisOpt, processor, cfg.Worker, cfg.Queue)
	supervisor.Start()
	defer supervisor.Shutdown()

	// Nightly cleanup of stale failed jobs
	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Janitor.Schedule, func() {
		jctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := orchestrator.CleanFailedJobs(jctx, cfg.Janitor.FailedMaxAge); err != nil {
			log.Error().Err(err).Msg("failed job cleanup errored")
		}
	}); err != nil {
		log.Error().Err(err).Str("schedule", cfg.Janitor.Schedule).Msg("janitor schedule invalid")
	} else {
		janitor.Start()
		defer janitor.Stop()
	}

	validate := validator.New()
	jobHandler := handler.NewJobHandler(orchestrator, validate)
	adminHandler := handler.NewAdminHandler(orchestrator, healthMonitor, conn, supervisor, cfg.Janitor.FailedMaxAge)

	app := buildApp(cfg, jobHandler, adminHandler, hub, conn, supervisor)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		healthMonitor.Run(gctx)
		return nil
	})

	g.Go(func() error {
		supervisor.RunHealthLoop(gctx)
		return nil
	})

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info().Str("addr", addr).Msg("server starting")
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
}

func setupLogging(cfg config.ServerConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func buildApp(cfg *config.Config, jobs *handler.JobHandler, admin *handler.AdminHandler, hub *ws.Hub, conn *broker.ConnectionManager, sup *worker.Supervisor) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // timelines with large embedded metadata
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		connHealth := conn.Health()
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"broker": connHealth.IsHealthy,
				"worker": sup.Health().Running,
			},
		})
	})

	api := app.Group("/api")

	jobsGroup := api.Group("/jobs")
	jobsGroup.Post("/", jobs.Submit)
	jobsGroup.Get("/:jobId", jobs.Status)

	adminGroup := api.Group("/admin")
	adminGroup.Get("/queue/health", admin.QueueHealth)
	adminGroup.Get("/queue/counts", admin.JobCounts)
	adminGroup.Post("/queue/pause", admin.Pause)
	adminGroup.Post("/queue/resume", admin.Resume)
	adminGroup.Post("/queue/retry-failed", admin.RetryFailed)
	adminGroup.Post("/queue/clean-failed", admin.CleanFailed)
	adminGroup.Get("/connection", admin.ConnectionHealth)
	adminGroup.Post("/connection/reconnect", admin.ForceReconnect)
	adminGroup.Post("/connection/reset-attempts", admin.ResetAttempts)
	adminGroup.Get("/worker", admin.WorkerHealth)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return response.Error(c, code, response.CodeServiceError, err.Error(), nil)
}
