// Opspilot - Multi-Agent Incident Diagnosis Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opspilot/internal/agent"
	"opspilot/internal/api"
	"opspilot/internal/collab"
	"opspilot/internal/config"
	"opspilot/internal/identity"
	"opspilot/internal/middleware"
	"opspilot/internal/orchestrator"
	"opspilot/internal/remedy"
	"opspilot/internal/store"
	"opspilot/internal/stream"
	"opspilot/internal/task"
	"opspilot/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; without an endpoint the global no-op provider
	// stays in place.
	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  "opspilot",
			OTLPEndpoint: cfg.OTLPEndpoint,
		})
		if err != nil {
			slog.Warn("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					slog.Warn("Failed to flush traces", "error", err)
				}
			}()
			slog.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
		}
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Diagnostics backend client (retrieval, entity extraction, topology).
	// Agents degrade to template behavior when it is unreachable.
	var (
		retrieval collab.Retrieval
		extractor collab.EntityExtractor
		topology  collab.Topology
	)
	client, err := collab.NewClient(cfg.DiagnosticsAddr, logger)
	if err != nil {
		slog.Warn("Diagnostics backend unreachable, running degraded", "addr", cfg.DiagnosticsAddr, "error", err)
	} else {
		retrieval, extractor, topology = client, client, client
		slog.Info("Diagnostics backend connected", "addr", cfg.DiagnosticsAddr)
	}

	var gen collab.Generation
	if cfg.GenerationAddr != "" {
		gen = collab.NewGenerationClient(cfg.GenerationAddr, logger)
		slog.Info("Generation backend configured", "addr", cfg.GenerationAddr)
	}

	var runner remedy.Runner
	if cfg.DockerRemedy {
		dockerRunner, err := remedy.NewDockerRunner()
		if err != nil {
			slog.Error("Failed to initialize Docker remedy runner", "error", err)
			os.Exit(1)
		}
		runner = dockerRunner
		slog.Info("Docker remedy runner initialized")
	} else {
		runner = &remedy.SimulatedRunner{Pacing: cfg.SimulatedPacing}
		slog.Info("Simulated remedy runner initialized", "pacing", cfg.SimulatedPacing)
	}

	// Build the agent pipeline.
	pipeline := orchestrator.New(
		agent.NewPlanner(retrieval, logger),
		agent.NewKnowledge(retrieval, extractor, topology, gen, logger),
		agent.NewReasoning(gen, logger),
		agent.NewExecutor(runner, logger),
		gen, nil, logger,
	)

	caps := pipeline.Capabilities()
	defs := make([]task.AgentDef, 0, len(caps))
	for _, id := range pipeline.AgentIDs() {
		defs = append(defs, task.AgentDef{ID: id, DisplayName: caps[id].Name})
	}

	tracker := task.NewTracker(defs, logger)
	stages := task.NewStageTracker(logger)
	hub := stream.NewHub(logger)
	jobRunner := task.NewRunner(pipeline, tracker, hub, repo, cfg.RunTimeout, logger)
	stageRunner := task.NewStageRunner(pipeline, stages, cfg.RunTimeout, logger)

	// Initialize handlers.
	diagnosisHandler := api.NewDiagnosisHandler(jobRunner, tracker, pipeline, repo)
	quickHandler := api.NewQuickHandler(stageRunner, stages)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := stream.NewWebSocketHandler(hub, tracker, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	diagnosisHandler.RegisterRoutes(r)
	quickHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/diagnosis/{taskID}", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	task.StartCleanupWorker(ctx, tracker, stages, repo, cfg.CleanupInterval, cfg.TaskTTL)
	slog.Info("Cleanup worker started", "task_ttl", cfg.TaskTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
