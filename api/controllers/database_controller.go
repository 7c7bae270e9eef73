/*
 * @module api/controllers/database_controller
 * @description 持久化查询控制器：数据库状态、分析会话历史与阶段事件记录
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow HTTP请求 -> 存储查询 -> 响应返回
 * @rules 未配置数据库时状态接口返回未连接，历史接口返回前置条件错误
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render, github.com/spf13/cast
 * @refs service/database/store.go
 */

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/database"
	"survey-pipeline-service/service/models"
)

// HistoryStore 会话历史查询
type HistoryStore interface {
	Status(ctx context.Context) *database.Status
	ListSessions(ctx context.Context, page, size int, userName string) ([]models.AnalysisSessionRecord, int64, error)
	StageEvents(ctx context.Context, sessionID string) ([]models.StageEventRecord, error)
}

// DatabaseController 持久化查询控制器
type DatabaseController struct {
	store HistoryStore
}

// NewDatabaseController 创建控制器实例，store 为 nil 表示未配置数据库
func NewDatabaseController(store HistoryStore) *DatabaseController {
	return &DatabaseController{store: store}
}

func (c *DatabaseController) unavailable(w http.ResponseWriter, r *http.Request) bool {
	if c.store != nil {
		return false
	}
	render.Render(w, r, AppErrorResponse(apperr.Precondition("history", "未配置数据库，无历史记录")))
	return true
}

// GetStatus 数据库状态
// @Summary 数据库状态
// @Description 返回连接状态与各表记录数
// @Tags 系统
// @Produce json
// @Success 200 {object} APIResponse{data=database.Status}
// @Router /database/status [get]
func (c *DatabaseController) GetStatus(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		render.Render(w, r, SuccessResponse("未配置数据库", &database.Status{CheckedAt: time.Now()}))
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", c.store.Status(r.Context())))
}

// ListSessions 分析会话历史
// @Summary 分析会话历史
// @Tags 系统
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(20)
// @Param user_name query string false "分析师"
// @Success 200 {object} PaginatedResponse{data=[]models.AnalysisSessionRecord}
// @Router /analysis-history [get]
func (c *DatabaseController) ListSessions(w http.ResponseWriter, r *http.Request) {
	if c.unavailable(w, r) {
		return
	}
	q := r.URL.Query()
	page, size := database.NormalizePage(cast.ToInt(q.Get("page")), cast.ToInt(q.Get("size")))

	records, total, err := c.store.ListSessions(r.Context(), page, size, q.Get("user_name"))
	if err != nil {
		render.Render(w, r, AppErrorResponse(apperr.External("history", err)))
		return
	}
	render.Render(w, r, &PaginatedResponse{
		Status: 0,
		Msg:    "查询成功",
		Data:   records,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// StageEvents 会话阶段事件记录
// @Summary 会话阶段事件记录
// @Tags 系统
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=[]models.StageEventRecord}
// @Router /analysis-history/{id}/events [get]
func (c *DatabaseController) StageEvents(w http.ResponseWriter, r *http.Request) {
	if c.unavailable(w, r) {
		return
	}
	events, err := c.store.StageEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, AppErrorResponse(apperr.External("history", err)))
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", events))
}
