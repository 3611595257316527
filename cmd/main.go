package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Capitan-Parrot/downtime-recorder/internal/api"
	"github.com/Capitan-Parrot/downtime-recorder/internal/config"
	"github.com/Capitan-Parrot/downtime-recorder/internal/database"
	"github.com/Capitan-Parrot/downtime-recorder/internal/engine"
	"github.com/Capitan-Parrot/downtime-recorder/internal/evidence"
	"github.com/Capitan-Parrot/downtime-recorder/internal/kafka"
	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/outbox"
	"github.com/Capitan-Parrot/downtime-recorder/internal/runner"
	"github.com/Capitan-Parrot/downtime-recorder/internal/s3"
	"github.com/Capitan-Parrot/downtime-recorder/internal/services/detection"
	"github.com/Capitan-Parrot/downtime-recorder/internal/source"
	"github.com/Capitan-Parrot/downtime-recorder/internal/watchdog"
)

const outboxInterval = 5 * time.Second

func main() {
	// Чтение конфига
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Инициализация s3: зеркало улик и источник записанных кадров
	var (
		minioClient *s3.Client
		uploader    *s3.Uploader
		evidenceUp  evidence.Uploader
		buckets     source.BucketReader
		frames      api.FrameUploader
	)
	if cfg.Minio.Endpoint != "" {
		minioClient, err = s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Secure)
		if err != nil {
			logger.Fatal("failed to connect to MinIO", zap.Error(err))
		}
		for _, bucket := range []string{cfg.Minio.EvidenceBucket, cfg.Minio.FramesBucket} {
			if err := minioClient.EnsureBucketExists(ctx, bucket); err != nil {
				logger.Fatal("bucket error", zap.String("bucket", bucket), zap.Error(err))
			}
		}
		uploader = s3.NewUploader(minioClient, cfg.Minio.EvidenceBucket, logger.Named("uploader"))
		go uploader.Run(ctx)
		evidenceUp, buckets, frames = uploader, minioClient, minioClient
	}

	// Инициализация базы данных
	var (
		db        *database.Database
		persister engine.Persister
		reports   api.ReportStore
	)
	if cfg.Postgres.DSN != "" {
		db, err = database.New(ctx, cfg.Postgres.DSN, logger.Named("db"))
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		if err := db.Init(ctx); err != nil {
			logger.Fatal("failed to init schema", zap.Error(err))
		}
		persister, reports = db, db
	}

	recorder, err := evidence.NewRecorder(evidence.Options{
		Dir:      cfg.Engine.RecordingsDir,
		Format:   cfg.Engine.EvidenceFormat,
		Uploader: evidenceUp,
		Metrics:  m,
		Logger:   logger.Named("evidence"),
	})
	if err != nil {
		logger.Fatal("failed to create evidence recorder", zap.Error(err))
	}

	opener := source.NewOpener(source.OpenerOptions{
		Buckets:        buckets,
		RecordedFPS:    cfg.Engine.RecordedFPS,
		ConnectTimeout: cfg.Engine.ConnectTimeout,
		Backoff: source.Backoff{
			Retries: cfg.Engine.ReconnectRetries,
			Initial: cfg.Engine.ReconnectBackoff,
			Max:     cfg.Engine.ReconnectBackoffMax,
		},
		Metrics: m,
		Logger:  logger.Named("source"),
	})

	detector := detection.NewClient(cfg.Detection.Endpoint, cfg.Detection.Timeout, cfg.Engine.MinConfidence)

	manager := engine.NewManager(engine.Options{
		Engine:           cfg.Engine,
		DetectionTimeout: cfg.Detection.Timeout,
		Opener:           opener,
		Detector:         detector.Detect,
		Recorder:         recorder,
		Persister:        persister,
		Metrics:          m,
		Logger:           logger.Named("engine"),
	})

	// Kafka: команды, heartbeat'ы и outbox с отчётами
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, logger.Named("consumer"))
		if err != nil {
			logger.Fatal("failed to create Kafka consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.StartListening(ctx)

		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic, cfg.Kafka.ReportTopic)
		if err != nil {
			logger.Fatal("failed to create Kafka producer", zap.Error(err))
		}
		defer producer.Close()

		r := runner.New(manager, consumer, producer, cfg.Engine.HeartbeatInterval, logger.Named("runner"))
		go r.ListenAndRun(ctx)
		go r.SendHeartbeats(ctx)

		if db != nil {
			go outbox.NewDispatcher(db, producer, outboxInterval, logger.Named("outbox")).Run(ctx)
		}
	}

	// Горутина для очистки завершённых сессий
	go watchdog.New(manager, cfg.Engine.Retention, logger.Named("watchdog")).Start(ctx)

	handlers := api.NewHandlers(manager, reports, api.Uploads{
		Dir:      cfg.Engine.UploadsDir,
		FPS:      cfg.Engine.RecordedFPS,
		Uploader: frames,
		Bucket:   cfg.Minio.FramesBucket,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handlers, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting API server", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// отчёты по всем сессиям сохраняются до остановки фоновых воркеров
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown", zap.Error(err))
	}
	if uploader != nil {
		uploader.Close()
	}
	cancel()
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	config := zap.NewProductionConfig()
	if cfg.Log.Development {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
		config.Level = zap.NewAtomicLevelAt(level)
	}
	logger, _ := config.Build()
	return logger
}
