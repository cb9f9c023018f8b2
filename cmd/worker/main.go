// Package main runs the archive worker: closed segments are uploaded to S3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/camvault/recorder/config"
	"github.com/camvault/recorder/internal/catalog"
	"github.com/camvault/recorder/internal/events"
	"github.com/camvault/recorder/internal/metrics"
	"github.com/camvault/recorder/internal/worker"
	"github.com/camvault/recorder/pkg/database"
	"github.com/camvault/recorder/pkg/queue"
	"github.com/camvault/recorder/pkg/redis"
	"github.com/camvault/recorder/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled() || !cfg.AWS.Enabled() {
		logger.Fatal("worker needs REDIS_ADDR, AWS_REGION and AWS_S3_SEGMENTS_BUCKET")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		SegmentsBucket:       cfg.AWS.SegmentsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		Endpoint:             cfg.AWS.Endpoint,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// The catalog is optional; without it uploads happen but archive state is not tracked.
	var segments worker.Catalog
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, database.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		segments = catalog.NewRepository(pool)
	}

	jobQueue := queue.NewQueue(rdb, logger)
	processor := worker.NewArchiveProcessor(s3Client, jobQueue, segments, metrics.New(), logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Recorder.Channel > 0 {
		unsubscribe, err := events.NewRedisPublisher(rdb, logger).Subscribe(workerCtx, cfg.Recorder.Channel, func(ev events.Event) {
			if ev.Type == events.ConnectionLost {
				logger.Warn("recorder lost its camera", zap.Int("channel", ev.Channel), zap.String("error", ev.Error))
			}
		})
		if err != nil {
			logger.Warn("event subscription failed", zap.Error(err))
		} else {
			defer unsubscribe()
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("archive worker started", zap.String("bucket", s3Client.Bucket()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("archive worker did not stop in time")
	}
	if n, err := jobQueue.DeadLetters(context.Background()); err == nil && n > 0 {
		logger.Warn("archive jobs in dead-letter queue", zap.Int64("count", n))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
