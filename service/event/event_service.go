/*
 * @module service/event_service
 * @description 阶段事件分发服务：按会话维护SSE连接，推送阶段状态与提示性进度，并记录终态事件
 * @architecture 事件驱动架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 阶段事件产生 -> 事件记录 -> 按会话分发 -> 客户端推送
 * @rules 推送不阻塞流水线：队列满时丢弃并记录日志；提示性进度不入库
 * @dependencies survey-pipeline-service/service/models
 * @refs service/pipeline/controller.go, api/controllers/event_controller.go
 */

package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"survey-pipeline-service/service/models"
)

// clientBuffer 每个连接的事件缓冲
const clientBuffer = 100

// Recorder 阶段事件持久化
type Recorder interface {
	RecordStageEvent(ctx context.Context, event models.StageEvent) error
}

// EventService 事件管理服务
type EventService struct {
	recorder    Recorder
	connections map[string]map[string]*SSEClient // sessionID -> connectionID -> client
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

// SSEClient SSE客户端连接
type SSEClient struct {
	ID          string
	SessionID   string
	ClientIP    string
	ConnectedAt time.Time
	Channel     chan models.StageEvent
	Done        chan struct{}
	closeOnce   sync.Once
}

func (c *SSEClient) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// ConnectionInfo 连接概要
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	SessionID    string    `json:"session_id"`
	ClientIP     string    `json:"client_ip"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// NewEventService 创建事件服务，recorder 可为 nil
func NewEventService(recorder Recorder) *EventService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &EventService{
		recorder:    recorder,
		connections: make(map[string]map[string]*SSEClient),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.startEventProcessor()
	return s
}

// === SSE连接管理 ===

// AddSSEConnection 添加SSE连接
func (s *EventService) AddSSEConnection(sessionID, connectionID, clientIP string) *SSEClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connections[sessionID] == nil {
		s.connections[sessionID] = make(map[string]*SSEClient)
	}

	client := &SSEClient{
		ID:          connectionID,
		SessionID:   sessionID,
		ClientIP:    clientIP,
		ConnectedAt: time.Now(),
		Channel:     make(chan models.StageEvent, clientBuffer),
		Done:        make(chan struct{}),
	}
	s.connections[sessionID][connectionID] = client

	slog.Info("SSE连接已建立", "session_id", sessionID, "connection_id", connectionID, "client_ip", clientIP)
	return client
}

// RemoveSSEConnection 移除SSE连接
func (s *EventService) RemoveSSEConnection(sessionID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, exists := s.connections[sessionID]
	if !exists {
		return
	}
	client, exists := conns[connectionID]
	if !exists {
		return
	}
	client.close()
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(s.connections, sessionID)
	}
	slog.Info("SSE连接已断开", "session_id", sessionID, "connection_id", connectionID)
}

// CloseSession 关闭会话的全部连接（会话删除或过期时调用）
func (s *EventService) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.connections[sessionID] {
		client.close()
	}
	delete(s.connections, sessionID)
}

// Publish 分发阶段事件
func (s *EventService) Publish(event models.StageEvent) {
	if s.recorder != nil && !event.Advisory {
		if err := s.recorder.RecordStageEvent(s.ctx, event); err != nil {
			slog.Warn("记录阶段事件失败", "session_id", event.SessionID, "stage", event.Stage, "error", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.connections[event.SessionID] {
		select {
		case client.Channel <- event:
		default:
			slog.Warn("事件队列已满，跳过发送", "session_id", event.SessionID, "connection_id", client.ID, "stage", event.Stage)
		}
	}
}

// ConnectionCount 会话当前连接数
func (s *EventService) ConnectionCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections[sessionID])
}

// GetSSEConnectionList 列出当前连接，sessionID 为空时返回全部
func (s *EventService) GetSSEConnectionList(sessionID string) []ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []ConnectionInfo
	for sid, conns := range s.connections {
		if sessionID != "" && sid != sessionID {
			continue
		}
		for _, c := range conns {
			list = append(list, ConnectionInfo{
				ConnectionID: c.ID,
				SessionID:    c.SessionID,
				ClientIP:     c.ClientIP,
				ConnectedAt:  c.ConnectedAt,
			})
		}
	}
	return list
}

// startEventProcessor 定期清理已断开的连接
func (s *EventService) startEventProcessor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupInactiveConnections()
		case <-s.ctx.Done():
			slog.Info("事件处理器已停止")
			return
		}
	}
}

// cleanupInactiveConnections 清理不活跃的连接
func (s *EventService) cleanupInactiveConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, conns := range s.connections {
		for connectionID, client := range conns {
			select {
			case <-client.Done:
				delete(conns, connectionID)
				slog.Debug("清理已断开的连接", "session_id", sessionID, "connection_id", connectionID)
			default:
			}
		}
		if len(conns) == 0 {
			delete(s.connections, sessionID)
		}
	}
}

// Stop 停止事件服务
func (s *EventService) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		for _, conns := range s.connections {
			for _, client := range conns {
				client.close()
			}
		}
		s.connections = make(map[string]map[string]*SSEClient)
		s.mu.Unlock()

		slog.Info("事件服务已停止")
	})
}
