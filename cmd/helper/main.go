package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/broker"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/probe"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/process"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/service"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/storage"
	"github.com/nemanja-m/cxehelper/internal/shared/config"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/queue"
	"github.com/nemanja-m/cxehelper/internal/timerange"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadHelper(opts.configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(kindNames(opts.kinds)...); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logger.Info("Helper started", "args", opts.args)

	if err := run(opts, cfg, logger); err != nil {
		logger.Error("Helper failed", "error", err)
		os.Exit(1)
	}
}

func run(opts *options, cfg *config.HelperConfig, logger logging.Logger) error {
	layout, err := storage.NewLayout(cfg.Output.Dir)
	if err != nil {
		return err
	}
	if cfg.Output.Clean {
		logger.Warn("Removing previous output", "dir", layout.Root)
		if err := layout.Reset(); err != nil {
			return err
		}
	}
	stale, err := layout.SweepStaleWorkspaces()
	if err != nil {
		logger.Warn("Failed to sweep stale workspaces", "error", err)
	} else if len(stale) > 0 {
		logger.Info("Removed stale workspaces", "count", len(stale))
	}

	windows := timerange.Partition(opts.rangeSpec, opts.earliest, opts.latest)
	logger.Info("Partitioned range",
		"earliest", opts.earliest,
		"latest", opts.latest,
		"file_time_range", opts.rangeSpec.String(),
		"windows", len(windows),
	)

	jobs := make(map[core.JobKind]core.JobSettings, len(opts.kinds))
	commands := make(map[core.JobKind][]string)
	for _, kind := range opts.kinds {
		job, _ := cfg.Job(kind.String())
		pageSize, err := job.PageSize()
		if err != nil {
			return err
		}
		jobs[kind] = core.JobSettings{
			Kind:           kind,
			Module:         job.Module,
			WorkDir:        job.WorkDir,
			ResultsPerPage: pageSize,
		}
		if len(job.Command) > 0 {
			commands[kind] = job.Command
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	taskQueue := queue.NewRedisQueue(client, cfg.Redis.Prefix, 0)
	defer taskQueue.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = taskQueue.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("broker at %s is unreachable: %w", cfg.Redis.Addr, err)
	}

	readiness, err := probe.New(cfg.Worker)
	if err != nil {
		return err
	}

	spawner := process.NewSpawner(process.Options{
		Command:   cfg.Worker.Command,
		Commands:  commands,
		Env:       workerEnv(cfg),
		StopGrace: cfg.Worker.StopGrace,
	}, logger)

	orchestrator := service.NewOrchestrator(service.Options{
		Concurrency: cfg.Run.Concurrency,
		KeepObjects: cfg.Output.KeepObjects,
		APIKey:      cfg.NVD.APIKey,
		RangeSpec:   opts.rangeSpec.String(),
		Jobs:        jobs,
	}, spawner, readiness, broker.NewSubmitter(taskQueue, cfg.Run.TaskTimeout, logger), layout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, runErr := orchestrator.Run(ctx, windows, opts.kinds)
	if all, err := layout.ListBundles(); err != nil {
		logger.Warn("Failed to list bundles", "dir", layout.BundlesDir(), "error", err)
	} else {
		logger.Info("Bundles in output", "dir", layout.BundlesDir(), "count", len(all))
	}
	if summary != nil {
		fmt.Println(summary.Render())
		if cfg.Output.ReportFile != "" {
			path := cfg.Output.ReportFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(layout.Root, path)
			}
			if err := summary.WriteYAML(path); err != nil {
				logger.Warn("Failed to write run report", "path", path, "error", err)
			} else {
				logger.Info("Run report written", "path", path)
			}
		}
	}
	return runErr
}

// workerEnv points spawned workers at the same broker and, for the network
// probes, at the addresses the helper polls.
func workerEnv(cfg *config.HelperConfig) map[string]string {
	env := map[string]string{
		"CXE_WORKER_REDIS_ADDR":     cfg.Redis.Addr,
		"CXE_WORKER_REDIS_PASSWORD": cfg.Redis.Password,
		"CXE_WORKER_REDIS_DB":       strconv.Itoa(cfg.Redis.DB),
		"CXE_WORKER_REDIS_PREFIX":   cfg.Redis.Prefix,
		"CXE_WORKER_LOGGING_LEVEL":  cfg.Logging.Level,
		"CXE_WORKER_LOGGING_FORMAT": cfg.Logging.Format,
	}
	switch cfg.Worker.Probe {
	case config.ProbeGRPC:
		env["CXE_WORKER_GRPC_ADDR"] = cfg.Worker.GRPCAddr
	case config.ProbeHTTP:
		env["CXE_WORKER_HTTP_ADDR"] = cfg.Worker.HTTPAddr
	}
	return env
}
