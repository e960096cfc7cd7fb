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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/receipts-pipeline/internal/archive"
	"github.com/joseph-ayodele/receipts-pipeline/internal/async"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/receipts-pipeline/internal/prep"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/review"
	"github.com/joseph-ayodele/receipts-pipeline/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.HealthCheck(ctx, db, cfg.Database.DialTimeout); err != nil {
		logger.Error("document store health check failed", "error", err)
		os.Exit(1)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	docs := repository.NewDocumentRepository(db, logger)
	tickets := repository.NewTicketRepository(db, logger)
	records := repository.NewArchiveRepository(db, logger)

	extractor := extract.NewHTTPClient(extract.ClientConfig{
		Endpoint:        cfg.Extractor.Endpoint,
		APIKey:          cfg.Extractor.APIKey,
		Timeout:         cfg.Extractor.Timeout,
		LenientOptional: cfg.Extractor.LenientOptional,
	}, logger)

	queue := review.NewQueue(tickets, logger)
	archiver := archive.New(records, tickets,
		cfg.Archive.SuccessDir, cfg.Archive.ErrorDir, cfg.Archive.LogPath, logger)

	ctrl := pipeline.NewController(
		docs, tickets, queue,
		prep.New(cfg.Extractor.WorkDir, logger),
		extractor, archiver,
		pipeline.Options{
			MaxRetries:          cfg.Pipeline.MaxRetries,
			RetryBackoff:        cfg.Pipeline.RetryBackoff,
			ReviewTimeout:       cfg.Pipeline.ReviewTimeout,
			ReviewSweepInterval: cfg.Pipeline.ReviewSweepInterval,
			ValidationTolerance: cfg.Pipeline.ValidationTolerance,
			MaxPlausibleTotal:   cfg.Pipeline.MaxPlausibleTotal,
			RequireRegistration: cfg.Pipeline.RequireRegistration,
			DefaultCurrency:     cfg.Extractor.DefaultCurrency,
		}, logger)
	queue.SetResumeFunc(ctrl.Resume)

	workers := async.NewProcessorQueue(ctrl, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	// Replay documents that never reached the archive before enqueueing new work.
	recovered, err := ctrl.Recover(ctx)
	if err != nil {
		logger.Error("recovery scan failed", "error", err)
		os.Exit(1)
	}
	for _, id := range recovered {
		_ = workers.Enqueue(ctx, async.Job{DocumentID: id})
	}

	ingestor := ingest.NewFSIngestor(docs, logger)
	events, watchErrs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       cfg.Ingest.WatchRoots,
		InitialScan: cfg.Ingest.InitialScan,
		Debounce:    cfg.Ingest.Debounce,
	})
	if err != nil {
		logger.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}

	handler := server.NewHandler(queue, docs, ctrl, export.NewService(records, logger),
		func(ctx context.Context) error { return repository.HealthCheck(ctx, db, 3*time.Second) },
		logger)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(handler),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case path, ok := <-events:
				if !ok {
					return nil
				}
				res, err := ingestor.IngestPath(gctx, path)
				if err != nil {
					logger.Warn("ingest failed", "path", path, "error", err)
					continue
				}
				_ = workers.Enqueue(gctx, async.Job{DocumentID: res.DocumentID})
			case err, ok := <-watchErrs:
				if ok && err != nil {
					logger.Error("watcher error", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		return ctrl.RunReviewSweeper(gctx)
	})

	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		workers.Shutdown(shutdownCtx)
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline stopped")
}
