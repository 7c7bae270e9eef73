/*
 * @module api/controllers/event_controller
 * @description 阶段事件控制器，提供按会话订阅的SSE事件流与连接查询
 * @architecture RESTful API架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 建立连接 -> 推送当前会话状态 -> 持续推送阶段事件 -> 会话关闭或客户端断开
 * @rules 会话不存在时拒绝订阅；提示性进度事件只经由SSE推送
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render, github.com/google/uuid
 * @refs service/event/event_service.go
 */

package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"survey-pipeline-service/service/event"
	"survey-pipeline-service/service/pipeline"
)

// SessionLookup 查询会话当前状态
type SessionLookup interface {
	Snapshot(id string) (*pipeline.SessionView, error)
}

// EventController 事件控制器
type EventController struct {
	eventService *event.EventService
	sessions     SessionLookup
}

// NewEventController 创建事件控制器实例
func NewEventController(eventService *event.EventService, sessions SessionLookup) *EventController {
	return &EventController{eventService: eventService, sessions: sessions}
}

// HandleSSE 处理SSE连接
// @Summary 订阅会话阶段事件
// @Description 建立SSE连接，首条消息为会话当前状态，之后推送阶段开始、进度、完成与失败事件
// @Tags 事件
// @Param session_id path string true "会话ID"
// @Success 200 {string} string "SSE事件流"
// @Failure 404 {object} APIResponse{data=ErrorData}
// @Router /sse/{session_id} [get]
func (c *EventController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	view, err := c.sessions.Snapshot(sessionID)
	if err != nil {
		render.Render(w, r, AppErrorResponse(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	connectionID := uuid.New().String()
	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = forwarded
	}

	client := c.eventService.AddSSEConnection(sessionID, connectionID, clientIP)
	defer c.eventService.RemoveSSEConnection(sessionID, connectionID)

	flusher, _ := w.(http.Flusher)
	send := func(name string, v interface{}) {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, toJSON(v))
		if flusher != nil {
			flusher.Flush()
		}
	}

	send("connected", map[string]interface{}{
		"connection_id": connectionID,
		"session":       view,
		"timestamp":     time.Now().Format(time.RFC3339),
	})

	for {
		select {
		case ev := <-client.Channel:
			send("stage", ev)
		case <-client.Done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// GetSSEConnectionList 获取会话的SSE连接列表
// @Summary 获取SSE连接列表
// @Tags 事件
// @Produce json
// @Param session_id path string true "会话ID"
// @Success 200 {object} APIResponse{data=[]event.ConnectionInfo}
// @Router /sse/{session_id}/connections [get]
func (c *EventController) GetSSEConnectionList(w http.ResponseWriter, r *http.Request) {
	connections := c.eventService.GetSSEConnectionList(chi.URLParam(r, "session_id"))
	render.Render(w, r, SuccessResponse("获取SSE连接列表成功", connections))
}

func toJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}
