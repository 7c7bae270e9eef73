/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活与就绪检查
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow HTTP请求处理流程
 * @rules 数据库为可选依赖，未配置时就绪检查仍返回 ready
 * @dependencies github.com/go-chi/render
 * @refs service/init.go
 */

package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// ServiceName 服务名称
const ServiceName = "survey-pipeline-service"

// Version 服务版本，构建时可通过 -ldflags 覆盖
var Version = "1.0.0"

// ReadinessProbe 就绪检查项
type ReadinessProbe interface {
	Ready() error
}

// HealthController 健康检查控制器
type HealthController struct {
	sessions func() int
	probes   map[string]ReadinessProbe
}

// NewHealthController 创建健康检查控制器实例，sessions 返回当前活动会话数
func NewHealthController(sessions func() int, probes map[string]ReadinessProbe) *HealthController {
	return &HealthController{sessions: sessions, probes: probes}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status         string            `json:"status" example:"ok"`
	Timestamp      time.Time         `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version        string            `json:"version" example:"1.0.0"`
	Service        string            `json:"service" example:"survey-pipeline-service"`
	ActiveSessions int               `json:"active_sessions"`
	Checks         map[string]string `json:"checks,omitempty"`
}

func (c *HealthController) response(status string) HealthResponse {
	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Service:   ServiceName,
	}
	if c.sessions != nil {
		resp.ActiveSessions = c.sessions()
	}
	return resp
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.response("ok"))
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查服务及已配置的外部依赖是否就绪
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	resp := c.response("ready")
	if len(c.probes) > 0 {
		resp.Checks = make(map[string]string, len(c.probes))
	}
	for name, probe := range c.probes {
		if err := probe.Ready(); err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ready" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
