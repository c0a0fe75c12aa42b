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
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/queue"
	"github.com/sundialhq/sundial/internal/scanner"
	"github.com/sundialhq/sundial/internal/store"
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

	appLog := logger.Default().WithComponent(logger.ComponentScanner)
	appLog.Info("Scanner starting",
		"scan_interval", cfg.ScanInterval,
		"rollover_batch_size", cfg.RolloverBatchSize,
		"digest_hour", cfg.DigestHour)

	// pprof on a side port for profiling
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
	if err := repo.Init(ctx); err != nil {
		appLog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	var s *scanner.Scanner

	facade := queue.NewClient(queue.ClientOptions{
		RedisURL:            cfg.RedisURL,
		WatchdogInterval:    cfg.WatchdogInterval,
		WatchdogMaxRestarts: cfg.WatchdogMaxRestarts,
		DrainTimeout:        cfg.DrainTimeout,
		OnRecover: func(fresh *queue.RedisQueue) {
			if s != nil {
				s.SwapBackend(fresh, fresh.Client())
			}
			appLog.Info("Scanner re-attached after queue recovery")
		},
	})

	q, err := facade.Acquire(ctx)
	if err != nil {
		appLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer facade.Release()

	s = scanner.New(repo, q, q.Client(), cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		appLog.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	s.Start(ctx)

	appLog.Info("Scanner shut down")
}
