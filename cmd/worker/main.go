package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nemanja-m/cxehelper/internal/shared/config"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/queue"
	"github.com/nemanja-m/cxehelper/internal/worker/api/grpc"
	"github.com/nemanja-m/cxehelper/internal/worker/api/rest"
	"github.com/nemanja-m/cxehelper/internal/worker/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	kind := flag.String("kind", "", "job kind to consume (cve or cpe)")
	module := flag.String("module", "", "converter module of the job kind")
	workdir := flag.String("workdir", "", "directory the converter runs in")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *kind != "" {
		cfg.Kind = *kind
	}
	if *module != "" {
		cfg.Module = *module
	}
	if *workdir != "" {
		cfg.WorkDir = *workdir
	}

	// A worker spawned by the helper is handed its ID and takes tasks only
	// from its own list. A standalone worker serves the kind's shared list.
	queueName := cfg.Kind
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	} else {
		queueName = queue.Name(cfg.Kind, cfg.ID)
	}

	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	if cfg.Kind == "" {
		logger.Fatal("Worker kind is required", "hint", "pass -kind or set CXE_WORKER_KIND")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	taskQueue := queue.NewRedisQueue(client, cfg.Redis.Prefix, 0)
	defer taskQueue.Close()

	executor := service.NewCommandExecutor(service.ExecutorOptions{
		Command:        cfg.ConverterCommand(),
		Module:         cfg.Module,
		WorkDir:        cfg.WorkDir,
		ResultsPerPage: cfg.ResultsPerPage,
		Timeout:        cfg.Converter.Timeout,
	}, logger)

	var health *grpc.HealthServer
	if cfg.GRPC.Addr != "" {
		health = grpc.NewHealthServer(cfg.GRPC.Addr, false, logger)
		go func() {
			if err := health.Start(); err != nil {
				logger.Error("Health server stopped", "error", err)
			}
		}()
		defer health.Stop()
	}

	workerService := service.NewWorkerService(service.Options{
		ID:          cfg.ID,
		Kind:        cfg.Kind,
		Queue:       queueName,
		PollTimeout: cfg.Queue.PollTimeout,
		Purge:       cfg.Queue.Purge,
		OnReadyChange: func(ready bool) {
			if health != nil {
				health.SetServing(ready)
			}
		},
	}, taskQueue, executor, logger)

	var server *http.Server
	if cfg.HTTP.Addr != "" {
		server = rest.NewServer(cfg.HTTP, workerService, logger)
		go func() {
			logger.Info("Status API listening", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status API stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker started",
		"worker_id", cfg.ID,
		"kind", cfg.Kind,
		"module", cfg.Module,
		"queue", queueName,
		"workdir", cfg.WorkDir,
		"results_per_page", cfg.ResultsPerPage,
		"purge", cfg.Queue.Purge,
	)

	runErr := workerService.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down status API", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("Worker failed", "worker_id", cfg.ID, "error", runErr)
		os.Exit(1)
	}
	logger.Info("Shutting down worker", "worker_id", cfg.ID)
}
