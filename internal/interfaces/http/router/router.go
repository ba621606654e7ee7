// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyboard-agent-api/internal/config"
	"storyboard-agent-api/internal/interfaces/http/handler"
	"storyboard-agent-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	Health   *handler.HealthHandler
	Project  *handler.ProjectHandler
	Agent    *handler.AgentHandler
	Pipeline *handler.PipelineHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
}

// New 创建新的路由器
func New(cfg *config.Config, handlers Handlers) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(middleware.CORSConfig{}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// 本地镜像的静态产物
	uploadsPrefix := r.cfg.Pipeline.UploadsPrefix
	if uploadsPrefix == "" {
		uploadsPrefix = "/api/uploads"
	}
	uploadsDir := r.cfg.Pipeline.UploadsDir
	if uploadsDir == "" {
		uploadsDir = "./uploads"
	}
	r.engine.Static(uploadsPrefix, uploadsDir)

	v1 := r.engine.Group("/v1")
	{
		projects := v1.Group("/projects")
		{
			projects.POST("/plan", r.handlers.Agent.Plan)
			projects.GET("", r.handlers.Project.List)
			projects.GET("/:id", r.handlers.Project.Get)
			projects.DELETE("/:id", r.handlers.Project.Delete)

			projects.POST("/:id/chat", r.handlers.Agent.Chat)
			projects.POST("/:id/operator/apply", r.handlers.Agent.ApplyEdit)
			projects.POST("/:id/doctor", r.handlers.Agent.Doctor)
			projects.POST("/:id/asset-completion", r.handlers.Agent.AssetCompletion)
			projects.POST("/:id/split-visuals", r.handlers.Agent.SplitVisuals)

			pl := projects.Group("/:id/pipeline")
			{
				pl.POST("/elements", r.handlers.Pipeline.Elements)
				pl.POST("/elements/stream", r.handlers.Pipeline.ElementsStream)
				pl.POST("/frames", r.handlers.Pipeline.Frames)
				pl.POST("/frames/stream", r.handlers.Pipeline.FramesStream)
				pl.POST("/videos", r.handlers.Pipeline.Videos)
				pl.POST("/videos/stream", r.handlers.Pipeline.VideosStream)
				pl.POST("/tts", r.handlers.Pipeline.TTS)
				pl.POST("/tts/stream", r.handlers.Pipeline.TTSStream)
				pl.POST("/cancel", r.handlers.Pipeline.Cancel)
			}

			projects.GET("/:id/timeline", r.handlers.Pipeline.Timeline)
			projects.POST("/:id/timeline/apply", r.handlers.Pipeline.ApplyTimeline)
			projects.POST("/:id/timeline/master", r.handlers.Pipeline.MasterAudio)
		}
	}
}
