package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/middleware"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/health"
)

// RouterDeps serve 模式路由依赖
type RouterDeps struct {
	Runner    *Runner
	Store     *JobStore
	Decoder   DecoderState
	Checkers  []*health.HealthChecker
	JWTSecret string

	Paths          Paths
	MaxUploadBytes int64
}

// NewRouter 注册全部路由；/api/v1/health 与 /metrics 不需要鉴权
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.BearerAuth(deps.JWTSecret, "/api/v1/health", "/metrics"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", HandleHealth(deps.Decoder, deps.Checkers...))

	// 提交与删除需要 transcribe 权限，查询只需登录
	canTranscribe := middleware.RequireScope(middleware.ScopeTranscribe)
	v1.POST("/transcriptions", canTranscribe, HandleSubmitTranscription(deps.Runner, deps.Paths))
	v1.POST("/uploads", canTranscribe, HandleUploadTranscription(deps.Runner, deps.Paths, deps.MaxUploadBytes))
	v1.GET("/transcriptions", HandleListTranscriptions(deps.Store))
	v1.GET("/transcriptions/:id", HandleGetTranscription(deps.Store))
	v1.GET("/transcriptions/:id/full", HandleGetFullTranscript(deps.Store))
	v1.GET("/transcriptions/:id/windows/:key", HandleGetWindowTranscript(deps.Store))
	v1.GET("/transcriptions/:id/metadata", HandleGetMetadata(deps.Store))
	v1.DELETE("/transcriptions/:id", canTranscribe, HandleDeleteTranscription(deps.Store))

	return r
}
