package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/health"
)

// DecoderState 当前解码器选择，degradation.Controller 实现该接口
type DecoderState interface {
	IsDegraded() bool
	CurrentName() string
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status          string                 `json:"status"`
	Decoder         string                 `json:"decoder,omitempty"`
	DecoderDegraded bool                   `json:"decoder_degraded"`
	Services        []health.ServiceStatus `json:"services"`
}

// HandleHealth 返回解码器与转写后端的健康状态
// GET /api/v1/health
func HandleHealth(decoder DecoderState, checkers ...*health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make([]health.ServiceStatus, 0, len(checkers)),
		}
		for _, hc := range checkers {
			st := hc.GetStatus()
			if !st.IsHealthy {
				resp.Status = "degraded"
			}
			resp.Services = append(resp.Services, st)
		}
		if decoder != nil {
			resp.Decoder = decoder.CurrentName()
			resp.DecoderDegraded = decoder.IsDegraded()
			if resp.DecoderDegraded {
				resp.Status = "degraded"
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
