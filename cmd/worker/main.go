package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rohittredhu/stream-flix/internal/app"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/rohittredhu/stream-flix/internal/infra/config"
	"github.com/rohittredhu/stream-flix/internal/infra/ffmpeg"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	miniostorage "github.com/rohittredhu/stream-flix/internal/infra/minio"
	"github.com/rohittredhu/stream-flix/internal/infra/postgres"
	"github.com/rohittredhu/stream-flix/internal/infra/tracing"
	"github.com/rohittredhu/stream-flix/internal/usecase"
	"github.com/rohittredhu/stream-flix/internal/worker"
	"github.com/rohittredhu/stream-flix/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting stream-flix worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, "stream-flix-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	infra := app.New(cfg, log)
	defer infra.Close()

	// Database
	pool, err := infra.Postgres(ctx)
	fatalOnErr(err, "connect to postgres")

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		VideoBucket:   cfg.MinIOVideoBucket,
		ImageBucket:   cfg.MinIOThumbBucket,
		PublicBaseURL: cfg.MinIOPublicBaseURL,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	queue, err := infra.Queue(ctx)
	fatalOnErr(err, "connect job queue")
	bus, err := infra.Bus(ctx)
	fatalOnErr(err, "connect event bus")
	itemCache, err := infra.Cache(ctx)
	fatalOnErr(err, "connect cache")

	// Use case
	uc := usecase.NewProcessItemUseCase(
		postgres.NewItemRepository(pool),
		storage,
		ffmpeg.NewProber(cfg.FFprobeBinary, log),
		itemCache,
		eventbus.NewPublisher(bus, log),
		log,
		usecase.ProcessItemConfig{RemoveLocalFiles: cfg.RemoveLocalOnFinish},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	name := cfg.WorkerName
	if name == "" {
		name, _ = os.Hostname()
	}
	runner := worker.NewRunner(queue, uc, worker.Config{
		Name:         name,
		Concurrency:  cfg.WorkerCount,
		PollInterval: cfg.WorkerPollInterval,
	}, log)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("stream-flix worker started, claiming jobs",
		zap.String("queue_backend", cfg.QueueBackend),
		zap.String("kind", entity.JobKindProcessItem),
	)

	if err := runner.Run(ctx); err != nil {
		log.Error("worker error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	log.Info("stream-flix worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
