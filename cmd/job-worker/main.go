// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/pipeline"
	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/config"
	"storyboard-agent-api/internal/infrastructure/mediacache"
	"storyboard-agent-api/internal/infrastructure/messaging"
	"storyboard-agent-api/internal/infrastructure/persistence/postgres"
	"storyboard-agent-api/internal/infrastructure/persistence/redis"
	imageprovider "storyboard-agent-api/internal/infrastructure/provider/image"
	"storyboard-agent-api/internal/infrastructure/provider/llm"
	ttsprovider "storyboard-agent-api/internal/infrastructure/provider/tts"
	videoprovider "storyboard-agent-api/internal/infrastructure/provider/video"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	repo := postgres.NewAgentProjectRepository(pgClient)

	prompts := workflowprompt.NewRegistry()
	chatFactory := llm.NewEinoFactory(&cfg.Providers.LLM)
	providers := &port.Providers{
		Chat:  chatFactory,
		Image: imageprovider.NewClient(cfg.Providers.Image),
		Video: videoprovider.NewClient(cfg.Providers.Video),
		TTS:   ttsprovider.NewClient(cfg.Providers.TTS),
	}
	cache := mediacache.New(mediacache.Options{
		UploadsDir:      cfg.Pipeline.UploadsDir,
		UploadsPrefix:   cfg.Pipeline.UploadsPrefix,
		MaxImageBytes:   cfg.Pipeline.MaxImageBytes,
		MaxVideoBytes:   cfg.Pipeline.MaxVideoBytes,
		MaxAudioBytes:   cfg.Pipeline.MaxAudioBytes,
		DownloadTimeout: cfg.Pipeline.DownloadTimeout,
		ConnectTimeout:  cfg.Pipeline.ConnectTimeout,
	})
	dir := director.New(chatFactory, prompts, cfg.Providers.LLM.DefaultProvider)
	executor := pipeline.NewExecutor(repo, providers, cache, dir,
		cfg.Pipeline, cfg.Providers.Video, cfg.Providers.TTS)

	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamVideoPoll,
		Group:        messaging.ConsumerGroupVideoPoller,
		ConsumerName: consumerName(cfg.Messaging.ConsumerName),
	})

	consumer.RegisterHandler("video_poll", func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.VideoPollJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		ctx = logger.WithContext(ctx, logger.ProjectIDKey, payload.ProjectID)
		project, err := repo.GetByID(ctx, payload.ProjectID)
		if err != nil {
			return err
		}
		if project == nil {
			// 项目已删除，任务作废
			logger.Warn(ctx, "video poll job for missing project", "job_id", payload.JobID)
			return nil
		}

		result := executor.WaitForVideos(ctx, project, nil, nil)
		logger.Info(ctx, "video poll job finished",
			"job_id", payload.JobID,
			"total", result.Total,
			"failed", result.Failed,
		)
		return nil
	})

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("job-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	consumer.Stop()
}

func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
