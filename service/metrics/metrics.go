/*
 * @module service/metrics/metrics
 * @description Prometheus指标：阶段执行次数与耗时、活跃会话数、外部事件发布、HTTP请求
 * @architecture 分层架构 - 基础设施层
 * @documentReference DESIGN.md
 * @stateFlow 注册指标 -> 流水线与中间件上报 -> /metrics 暴露
 * @rules 标签取值只使用阶段名、状态与路由模板，避免高基数
 * @dependencies github.com/prometheus/client_golang
 * @refs service/pipeline/controller.go, api/routes.go
 */

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 服务指标集合
type Collector struct {
	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// NewCollector 创建并注册指标，reg 为 nil 时使用默认注册表
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_stage_total",
				Help: "Count of pipeline stage completions by outcome",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "survey_stage_duration_seconds",
				Help:    "Duration of pipeline stages including external calls",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "survey_active_sessions",
				Help: "Number of analysis sessions held in memory",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_http_requests_total",
				Help: "Count of HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}

	reg.MustRegister(c.stageTotal, c.stageDuration, c.activeSessions, c.httpRequests)
	return c
}

// ObserveStage 记录一次阶段结束
func (c *Collector) ObserveStage(stage, status string, elapsed time.Duration) {
	c.stageTotal.WithLabelValues(stage, status).Inc()
	if elapsed > 0 {
		c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// SetActiveSessions 更新活跃会话数
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// Middleware HTTP请求计数，路由取 chi 的路由模板
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
