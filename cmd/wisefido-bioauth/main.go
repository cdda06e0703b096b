package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/buffer"
	"wisefido-bioauth/internal/common/database"
	logpkg "wisefido-bioauth/internal/common/logger"
	mqttcommon "wisefido-bioauth/internal/common/mqtt"
	rediscommon "wisefido-bioauth/internal/common/redis"
	"wisefido-bioauth/internal/config"
	"wisefido-bioauth/internal/consumer"
	"wisefido-bioauth/internal/enrollment"
	"wisefido-bioauth/internal/httpapi"
	"wisefido-bioauth/internal/matcher"
	"wisefido-bioauth/internal/publisher"
	"wisefido-bioauth/internal/repository"
	"wisefido-bioauth/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-bioauth")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-bioauth service",
		zap.String("version", "1.0.0"),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("topic_namespace", cfg.Ingest.TopicNamespace),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 读数窗口
	sampleBuffer := buffer.NewSampleBuffer(buffer.Options{
		HeartRateMin:      cfg.Ingest.HeartRateMin,
		HeartRateMax:      cfg.Ingest.HeartRateMax,
		BreathRateMin:     cfg.Ingest.BreathRateMin,
		BreathRateMax:     cfg.Ingest.BreathRateMax,
		MaxAge:            cfg.Ingest.WindowMaxAge,
		MaxCount:          cfg.Ingest.WindowMaxCount,
		MinCollectSamples: cfg.Enrollment.MinSamples,
	}, logger)

	// 档案仓库：默认内存，生产用 Postgres
	var profiles repository.ProfileRepository
	var db *sql.DB
	if cfg.Storage.Backend == "postgres" {
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		pgRepo := repository.NewPostgresProfileRepository(db)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure profile schema", zap.Error(err))
		}
		profiles = pgRepo
		logger.Info("Using Postgres profile repository")
	} else {
		profiles = repository.NewMemoryProfileRepository()
		logger.Info("Using in-memory profile repository")
	}

	// Redis：决策流 + 最新决策缓存
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// 决策发布：Redis Streams 必选，Webhook 可选
	targets := []publisher.DecisionPublisher{
		publisher.NewRedisPublisher(
			redisClient,
			cfg.Publisher.Stream,
			cfg.Publisher.LatestKeyPrefix,
			cfg.Publisher.LatestTTL,
			logger,
		),
	}
	if cfg.Publisher.WebhookURL != "" {
		targets = append(targets, publisher.NewWebhookNotifier(cfg.Publisher.WebhookURL, logger))
	}
	fanout := publisher.NewFanout(logger, targets...)

	// 核心服务
	enroller := enrollment.NewEnroller(sampleBuffer, profiles, enrollment.Options{
		DefaultDuration:       cfg.Enrollment.DefaultDuration,
		SingleSensorThreshold: cfg.Enrollment.SingleSensorThreshold,
		DualSensorThreshold:   cfg.Enrollment.DualSensorThreshold,
	}, logger)

	m := matcher.NewMatcher(sampleBuffer, profiles, matcher.Options{
		ZMax:              cfg.Matcher.ZMax,
		InRangeFloor:      cfg.Matcher.InRangeFloor,
		PresenceBoost:     cfg.Matcher.PresenceBoost,
		DualSensorBoost:   cfg.Matcher.DualSensorBoost,
		WearableTolerance: cfg.Matcher.WearableTolerance,
		StdDevEpsilon:     cfg.Matcher.StdDevEpsilon,
		RecentSampleCount: cfg.Matcher.RecentSampleCount,
	}, logger)

	authService := service.NewAuthService(profiles, enroller, m, fanout, logger)

	// MQTT 摄入
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, sampleBuffer, logger)

	go func() {
		if err := mqttConsumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start MQTT consumer", zap.Error(err))
		}
	}()

	// HTTP API
	handler := httpapi.NewBioAuthHandler(authService, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterBioAuthRoutes(handler)

	srv := service.NewServer(cfg.HTTP.Addr, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 等待中断信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server exited", zap.Error(err))
	}

	// 优雅关闭
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	_ = srv.Stop(shutdownCtx)
	if err := mqttConsumer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping MQTT consumer", zap.Error(err))
	}
	mqttClient.Disconnect()
	_ = redisClient.Close()
	if db != nil {
		_ = db.Close()
	}

	logger.Info("Service stopped")
}
