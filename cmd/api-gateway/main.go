// Package main API Gateway 服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/operator"
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
	"storyboard-agent-api/internal/interfaces/http/handler"
	"storyboard-agent-api/internal/interfaces/http/router"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting api-gateway",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

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
	loadPromptOverrides(ctx, postgres.NewPromptTemplateStore(pgClient), prompts)

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
	op := operator.New(repo, executor)

	var producer *messaging.Producer
	if cfg.Messaging.Enabled {
		producer = messaging.NewProducer(redisClient.Redis(), cfg.Messaging.StreamMaxLen)
	}

	r := router.New(cfg, router.Handlers{
		Health:   handler.NewHealthHandler(pgClient, redisClient, Version),
		Project:  handler.NewProjectHandler(repo),
		Agent:    handler.NewAgentHandler(dir, op, repo),
		Pipeline: handler.NewPipelineHandler(executor, repo, producer),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

// loadPromptOverrides 用数据库里的模板覆盖嵌入默认值；读不到就用默认
func loadPromptOverrides(ctx context.Context, store *postgres.PromptTemplateStore, prompts *workflowprompt.Registry) {
	for _, name := range workflowprompt.TemplateNames() {
		text, err := store.Get(ctx, name)
		if err != nil {
			logger.Warn(ctx, "prompt override load failed", "template", name, "error", err)
			continue
		}
		prompts.SetOverride(name, text)
	}
}
