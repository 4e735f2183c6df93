// Package main wires together the scrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/api"
	"github.com/jmagar/pulse-sub012/internal/cancel"
	"github.com/jmagar/pulse-sub012/internal/clock/system"
	"github.com/jmagar/pulse-sub012/internal/config"
	"github.com/jmagar/pulse-sub012/internal/dispatcher"
	simplefetcher "github.com/jmagar/pulse-sub012/internal/fetcher/simple"
	"github.com/jmagar/pulse-sub012/internal/id/uuid"
	badgerkv "github.com/jmagar/pulse-sub012/internal/kv/badger"
	memorykv "github.com/jmagar/pulse-sub012/internal/kv/memory"
	"github.com/jmagar/pulse-sub012/internal/limits"
	"github.com/jmagar/pulse-sub012/internal/logging"
	"github.com/jmagar/pulse-sub012/internal/metrics"
	memorypublisher "github.com/jmagar/pulse-sub012/internal/publisher/memory"
	pubsubpublisher "github.com/jmagar/pulse-sub012/internal/publisher/pubsub"
	queuememory "github.com/jmagar/pulse-sub012/internal/queue/memory"
	"github.com/jmagar/pulse-sub012/internal/scrape"
	memorystorage "github.com/jmagar/pulse-sub012/internal/storage/memory"
	"github.com/jmagar/pulse-sub012/internal/storage/postgres"
	"github.com/jmagar/pulse-sub012/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()

	var kv scrape.KV
	switch cfg.KV.Provider {
	case "badger":
		store, err := badgerkv.NewStore(cfg.KV.Path)
		if err != nil {
			logger.Fatal("open badger kv failed", zap.Error(err))
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Error("close badger kv failed", zap.Error(closeErr))
			}
		}()
		kv = store
	default:
		kv = memorykv.NewStore(clock)
	}

	var jobStore scrape.JobStore
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("connect postgres failed", zap.Error(err))
		}
		defer store.Close()
		jobStore = store
	default:
		jobStore = memorystorage.NewJobStore()
	}

	var publisher scrape.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("create pubsub publisher failed", zap.Error(err))
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Error("close pubsub publisher failed", zap.Error(closeErr))
			}
		}()
		publisher = pub
	} else {
		publisher = memorypublisher.New()
	}

	cancelStore := cancel.NewStore(kv, clock, cfg.CancelTTL(), logger.Named("cancel"))
	queue := queuememory.NewQueue(cfg.Scraper.GlobalQueueDepth)
	limiter := limits.NewRegistry()
	fetcher := simplefetcher.New(30 * time.Second)

	var workers []*worker.Worker
	for i := 0; i < cfg.Scraper.Concurrency; i++ {
		workers = append(workers, worker.New(worker.Config{
			ID:           i,
			Queue:        queue,
			Store:        jobStore,
			Fetcher:      fetcher,
			Cancel:       cancelStore,
			Limiter:      limiter,
			Publisher:    publisher,
			Clock:        clock,
			Logger:       logger.Named("worker"),
			RetryBudget:  cfg.RetryBudget(),
			Finalize:     cfg.FinalizeOptions(),
			MaxAttempts:  cfg.Scraper.MaxAttempts,
			BackoffBase:  time.Duration(cfg.Scraper.BackoffBaseMs) * time.Millisecond,
			PollInterval: cfg.CancelPollInterval(),
			EventTopic:   cfg.PubSub.EventTopic,
			AlertTopic:   cfg.PubSub.AlertTopic,
		}))
	}
	dispatch := dispatcher.New(queue, workers, logger.Named("dispatcher"))

	canceller := &cancel.Canceller{
		Store:   cancelStore,
		Queue:   queue,
		Limiter: limiter,
		Logger:  logger.Named("canceller"),
	}

	apiServer := api.NewServer(jobStore, dispatch, canceller, limiter, idGen, clock, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}
