package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/internal/digest"
	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/generator"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/queue"
	"github.com/sundialhq/sundial/internal/rollover"
	"github.com/sundialhq/sundial/internal/store"
	"github.com/sundialhq/sundial/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ml, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.SetDefault(ml)
	defer ml.Close()

	appLog := logger.Default().WithComponent(logger.ComponentWorker)
	appLog.Info("Worker starting",
		"concurrency", cfg.WorkerConcurrency,
		"job_timeout", cfg.JobTimeout)

	if pprofPort := os.Getenv("PPROF_PORT"); pprofPort != "" {
		go func() {
			if err := http.ListenAndServe(":"+pprofPort, nil); err != nil {
				appLog.Warn("pprof server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := store.New(cfg.DatabaseURL)
	if err != nil {
		appLog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.Ping(ctx); err != nil {
		appLog.Error("Failed to reach database", "error", err)
		os.Exit(1)
	}

	var (
		executor *worker.Executor
		pool     *worker.Pool
	)

	facade := queue.NewClient(queue.ClientOptions{
		RedisURL:            cfg.RedisURL,
		WatchdogInterval:    cfg.WatchdogInterval,
		WatchdogMaxRestarts: cfg.WatchdogMaxRestarts,
		DrainTimeout:        cfg.DrainTimeout,
		OnRecover: func(fresh *queue.RedisQueue) {
			// Re-attach the consumers to the rebuilt handle
			if executor != nil {
				executor.SwapQueue(fresh)
			}
			if pool != nil {
				pool.SwapQueue(fresh)
			}
			appLog.Info("Workers re-attached after queue recovery")
		},
	})

	q, err := facade.Acquire(ctx)
	if err != nil {
		appLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer facade.Release()

	pub := events.NewRedisPublisher(q.Client(), 0)

	gen := generator.New(repo, pub)
	roll := rollover.New(repo, pub)
	dig := digest.New(repo, pub)

	registry := worker.NewRegistry()
	registry.Register(job.KindGenerateInstance, gen.Handle)
	registry.Register(job.KindRolloverBatch, roll.Handle)
	registry.Register(job.KindDailyDigest, dig.HandleDigest)
	registry.Register(job.KindBlockReminder, dig.HandleReminder)

	appLog.Info("Registered job handlers", "count", registry.Count())

	executor = worker.NewExecutor(registry, q)
	pool = worker.NewPool(executor, q, cfg.WorkerConcurrency, cfg.JobTimeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	pool.Start(ctx)

	sig := <-sigChan
	appLog.Info("Received signal, shutting down", "signal", sig.String())

	cancel()
	pool.Stop()

	appLog.Info("Worker shut down")
}
