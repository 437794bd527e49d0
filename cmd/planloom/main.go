// Planloom engine server: exposes the goal/task HTTP API, runs the
// scheduling orchestrator, and streams goal events over Postgres NOTIFY.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/planloom/planloom/pkg/agent"
	"github.com/planloom/planloom/pkg/api"
	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/coordinator"
	"github.com/planloom/planloom/pkg/database"
	"github.com/planloom/planloom/pkg/events"
	"github.com/planloom/planloom/pkg/models"
	"github.com/planloom/planloom/pkg/orchestrator"
	"github.com/planloom/planloom/pkg/router"
	"github.com/planloom/planloom/pkg/safety"
	"github.com/planloom/planloom/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// dbHealth adapts the database health probe to the API's checker.
type dbHealth struct {
	client *database.Client
}

func (h dbHealth) Health(ctx context.Context) error {
	_, err := database.Health(ctx, h.client.DB())
	return err
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting planloom", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration: builtins + planloom.yaml + env expansion
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"agent_profiles", stats.AgentProfiles,
		"policy_kinds", stats.PolicyKinds,
		"safety_patterns", stats.SafetyPatterns)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	taskStore := store.NewPostgres(dbClient.DB())
	eventLog := events.NewPostgresLog(dbClient.DB())

	// 3. Event fanout: dedicated LISTEN connection feeding the in-process
	// broadcaster
	fanout := events.NewBroadcaster()
	listener := events.NewListener(dbClient.ConnString(), fanout)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start event listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	slog.Info("Event listener started")

	// 4. Worker agent: external HTTP endpoint, or the local echo worker for
	// development
	var worker coordinator.WorkerAgent
	if endpoint := os.Getenv("WORKER_ENDPOINT"); endpoint != "" {
		worker = agent.NewHTTPWorker(endpoint)
		slog.Info("Using HTTP worker agent", "endpoint", endpoint)
	} else {
		worker = agent.LocalWorker{}
		slog.Warn("WORKER_ENDPOINT not set, using the local development worker")
	}

	// 5. Engine wiring
	rt := router.New(cfg.Agents, nil)
	pipeline := safety.NewPipeline(cfg.Safety)
	coord := coordinator.New(taskStore, eventLog, rt, pipeline, cfg.Policies, cfg.Scheduler, worker, nil)
	orch := orchestrator.New(taskStore, eventLog, coord, rt, cfg.Policies, cfg.Scheduler, defaultDecomposer(), nil)
	orch.Start(ctx)

	// 6. HTTP server
	server := api.NewServer(taskStore, orch, pipeline, eventLog, dbHealth{client: dbClient}, nil)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(":" + httpPort); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Planloom started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop taking requests, then drain attempts
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := orch.Stop(); err != nil {
		slog.Warn("Orchestrator shutdown incomplete", "error", err)
	}

	slog.Info("Shutdown complete")
}

// defaultDecomposer is the built-in single-task plan: the goal description
// becomes one task. Deployments with an external planner replace it via the
// orchestrator's Decomposer port.
func defaultDecomposer() orchestrator.Decomposer {
	return orchestrator.DecomposeFunc(func(_ context.Context, description, _ string) ([]models.SubtaskSpec, error) {
		return []models.SubtaskSpec{{Description: description}}, nil
	})
}
