// Package main runs the camera recorder: source supervision, segment files, live viewers and the HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/camvault/recorder/config"
	"github.com/camvault/recorder/internal/api"
	"github.com/camvault/recorder/internal/auth"
	"github.com/camvault/recorder/internal/catalog"
	"github.com/camvault/recorder/internal/events"
	"github.com/camvault/recorder/internal/journal"
	"github.com/camvault/recorder/internal/live"
	"github.com/camvault/recorder/internal/metrics"
	"github.com/camvault/recorder/internal/middleware"
	"github.com/camvault/recorder/internal/retention"
	"github.com/camvault/recorder/internal/source"
	"github.com/camvault/recorder/internal/supervisor"
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
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	rc := cfg.Recorder

	ctx := context.Background()
	m := metrics.New()

	var src source.Connection
	if rc.Direct {
		reader := source.NewHTTP(rc.SourceURL, nil, logger)
		reader.SetDimensions(source.Dimensions{Width: rc.Width, Height: rc.Height})
		src = reader
	} else {
		version, err := source.CheckFFmpeg(rc.FFmpegPath)
		if err != nil {
			logger.Fatal("ffmpeg", zap.Error(err))
		}
		logger.Info("ffmpeg found", zap.String("version", version))
		src = source.NewFFmpeg(source.FFmpegConfig{
			Path:        rc.FFmpegPath,
			URL:         rc.SourceURL,
			Format:      rc.Format,
			RTSPTCP:     rc.RTSPTCP,
			Width:       rc.Width,
			Height:      rc.Height,
			OverlayFont: rc.OverlayFont,
		}, logger)
	}

	// Each backend below is optional and enabled by its own settings.
	var sinks []events.Sink
	var segments *catalog.Repository
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, database.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		segments = catalog.NewRepository(pool)
		sinks = append(sinks, segments)
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		sinks = append(sinks, events.NewRedisPublisher(rdb, logger))
		if cfg.AWS.Enabled() {
			sinks = append(sinks, worker.NewArchiveSink(queue.NewQueue(rdb, logger)))
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
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
	}

	dispatcher := events.NewDispatcher(logger, sinks...)
	dispatcher.Start(ctx)

	hub := live.NewHub(logger)
	hub.SetViewerCountHandler(m.SetViewers)

	store := journal.NewStore(rc.Folder)
	rec, err := supervisor.New(supervisor.Options{
		SourceURL:            rc.SourceURL,
		Folder:               rc.Folder,
		Channel:              rc.Channel,
		SegmentDuration:      rc.SegmentDuration,
		MaxReconnectAttempts: rc.MaxReconnect,
		QuotaBytes:           rc.QuotaBytes,
		TargetWidth:          rc.Width,
		TargetHeight:         rc.Height,
		ReconnectDelay:       rc.ReconnectDelay,
		Extension:            rc.Extension,
	}, supervisor.Deps{
		Source:    src,
		Journal:   store,
		Retention: retention.NewManager(retention.OSFS{}, logger),
		Hub:       hub,
		Metrics:   m,
		Hooks: dispatcher.Hooks(rc.Channel, supervisor.Hooks{
			OnLostConnection: func(err error) {
				logger.Error("camera connection lost; recording stopped", zap.Error(err))
			},
		}),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("supervisor", zap.Error(err))
	}

	var jwtService *auth.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	}

	handler := api.NewHandler(rec, store, logger)
	if segments != nil {
		handler.SetCatalog(segments)
		if s3Client != nil {
			handler.SetPresigner(s3Client)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.RequestMiddleware(m))
	router.GET("/metrics", gin.WrapH(m.Handler()))
	handler.Register(router, jwtService)

	// Live viewers hold their connection open; WRITE_TIMEOUT_SEC=0 leaves writes unbounded.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	rec.Initialize()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rec.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	dispatcher.Close()
	logger.Info("recorder stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
