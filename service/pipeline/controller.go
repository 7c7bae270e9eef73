/*
 * @module service/pipeline/controller
 * @description 流水线会话控制器：按顺序调度各阶段，维护会话状态、忙碌标志与提示性进度
 * @architecture 分层架构 - 服务编排层
 * @documentReference DESIGN.md
 * @stateFlow 上传 -> [翻译 -> 打标 -> 人工修改] -> 统计 -> 导出/入库
 * @rules
 *   - 同类外部调用在同一会话内同时只能有一个
 *   - 外部调用失败时阶段不前进，已有产物保持不变
 *   - reset 后返回的调用结果按 epoch 丢弃
 *   - 提示性进度与真实完成分离，调用结束时强制为100
 * @dependencies github.com/google/uuid, log/slog
 * @refs api/controllers/session_controller.go, service/init.go
 */

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/ingest"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/statistics"
)

// Translator 翻译阶段
type Translator interface {
	Translate(ctx context.Context, table *models.Table, openFields []string) (*models.TranslationResult, error)
}

// StandardLabeler 标准打标阶段
type StandardLabeler interface {
	Label(ctx context.Context, table *models.Table, openFields []string) (*models.StandardLabelSet, error)
}

// ReferenceMatcher 参考标签匹配阶段
type ReferenceMatcher interface {
	Match(ctx context.Context, table *models.Table, openFields []string, defs []models.TagDefinition) (*models.ReferenceLabelSet, error)
}

// Store 会话历史与修改审计的持久化
type Store interface {
	CreateSession(ctx context.Context, record *models.AnalysisSessionRecord) error
	UpdateSessionStage(ctx context.Context, id, stage, status string) error
	CloseSession(ctx context.Context, id string) error
	SaveModifications(ctx context.Context, sessionID string, strategy models.Strategy, mods []models.Modification) (string, error)
	SupersedeModifications(ctx context.Context, sessionID string, strategy models.Strategy) (int64, error)
	ImportLabeledResponses(ctx context.Context, sessionID string, records []models.LabeledResponseRecord) (int, error)
}

// Publisher 阶段事件发布
type Publisher interface {
	Publish(event models.StageEvent)
}

// Metrics 阶段指标
type Metrics interface {
	ObserveStage(stage, status string, elapsed time.Duration)
	SetActiveSessions(n int)
}

// Dependencies 控制器依赖
type Dependencies struct {
	Parser     *ingest.Parser
	Translator Translator
	Standard   StandardLabeler
	Reference  ReferenceMatcher
	Statistics *statistics.Engine
	Store      Store
	Publishers []Publisher
	Metrics    Metrics
	Progress   config.ProgressConfig
}

// Controller 会话控制器
type Controller struct {
	deps Dependencies

	mu       sync.RWMutex
	sessions map[string]*Session
	onClosed []func(sessionID string)

	now func() time.Time
}

// NewController 创建会话控制器
func NewController(deps Dependencies) *Controller {
	if deps.Statistics == nil {
		deps.Statistics = statistics.NewEngine()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Controller{
		deps:     deps,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(string, string, time.Duration) {}
func (nopMetrics) SetActiveSessions(int)                      {}

// AddPublisher 追加事件发布者
func (c *Controller) AddPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps.Publishers = append(c.deps.Publishers, p)
}

// OnClosed 注册会话关闭回调，删除与空闲过期都会触发
func (c *Controller) OnClosed(fn func(sessionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

func (c *Controller) session(id string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, apperr.NotFound("会话不存在: %s", id)
	}
	return s, nil
}

// Upload 解析上传文件、识别题型并创建会话；校验失败时不创建会话
func (c *Controller) Upload(ctx context.Context, filename string, content []byte, userName string) (*SessionView, error) {
	table, err := c.deps.Parser.Parse(filename, content)
	if err != nil {
		return nil, err
	}

	now := c.now()
	s := newSession(uuid.New().String(), filename, SessionContext{UserName: userName, CreatedAt: now}, table, now)
	if len(s.openFields()) == 0 {
		s.state.Message = "未检测到开放题，可直接进行统计分析"
	} else {
		s.state.Message = fmt.Sprintf("检测到%d个开放题，需先完成翻译", len(s.openFields()))
	}

	c.mu.Lock()
	c.sessions[s.ID] = s
	active := len(c.sessions)
	c.mu.Unlock()

	c.deps.Metrics.SetActiveSessions(active)
	c.deps.Metrics.ObserveStage(string(StageUpload), string(StatusDone), 0)

	if c.deps.Store != nil {
		record := &models.AnalysisSessionRecord{
			ID:          s.ID,
			Filename:    filename,
			UserName:    userName,
			RowCount:    table.RowCount(),
			ColumnCount: len(table.Columns),
			OpenFields:  len(s.openFields()),
			Stage:       string(StageUpload),
			Status:      string(StatusDone),
		}
		if err := c.deps.Store.CreateSession(ctx, record); err != nil {
			slog.Warn("保存会话记录失败", "session_id", s.ID, "error", err)
		}
	}

	slog.Info("上传解析完成", "session_id", s.ID, "filename", filename,
		"rows", table.RowCount(), "columns", len(table.Columns), "open_fields", len(s.openFields()))

	s.mu.Lock()
	ev := c.stageEvent(s, false)
	view := c.snapshot(s)
	s.mu.Unlock()
	c.publish(ev)
	return view, nil
}

// Snapshot 会话视图
func (c *Controller) Snapshot(id string) (*SessionView, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.snapshot(s), nil
}

// Reset 重新开始：清空会话全部产物，回到初始阶段；进行中的调用结果将被丢弃
func (c *Controller) Reset(id string) (*SessionView, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.clear()
	s.lastActive = c.now()
	ev := c.transition(s, Event{Type: EventReset}, false)
	view := c.snapshot(s)
	s.mu.Unlock()

	slog.Info("会话已重置", "session_id", id)
	c.publish(ev)
	return view, nil
}

// Close 关闭并删除会话
func (c *Controller) Close(ctx context.Context, id string) error {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	active := len(c.sessions)
	callbacks := append([]func(string){}, c.onClosed...)
	c.mu.Unlock()
	if !ok {
		return apperr.NotFound("会话不存在: %s", id)
	}

	s.mu.Lock()
	s.clear()
	s.mu.Unlock()

	c.deps.Metrics.SetActiveSessions(active)
	if c.deps.Store != nil {
		if err := c.deps.Store.CloseSession(ctx, id); err != nil {
			slog.Warn("更新会话关闭时间失败", "session_id", id, "error", err)
		}
	}
	for _, fn := range callbacks {
		fn(id)
	}
	slog.Info("会话已关闭", "session_id", id)
	return nil
}

// ExpireIdle 关闭空闲超过 ttl 且没有进行中调用的会话，返回被关闭的会话ID
func (c *Controller) ExpireIdle(ctx context.Context, ttl time.Duration) []string {
	cutoff := c.now().Add(-ttl)

	c.mu.RLock()
	var idle []string
	for id, s := range c.sessions {
		s.mu.Lock()
		if s.lastActive.Before(cutoff) && len(s.busyKinds()) == 0 {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	c.mu.RUnlock()

	for _, id := range idle {
		if err := c.Close(ctx, id); err != nil {
			slog.Warn("关闭空闲会话失败", "session_id", id, "error", err)
		}
	}
	return idle
}

// ActiveSessions 当前会话数
func (c *Controller) ActiveSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// call 一次进行中的阶段调用
type call struct {
	session  *Session
	epoch    uint64
	busy     string
	stage    Stage
	started  time.Time
	progress *advisoryProgress
}

// begin 检查会话与忙碌标志，标记阶段开始并启动提示性进度
func (c *Controller) begin(id, busy string, stage Stage, check func(s *Session) error) (*call, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.raw == nil {
		s.mu.Unlock()
		return nil, apperr.Precondition(string(stage), "请先上传数据")
	}
	if s.busy[busy] {
		s.mu.Unlock()
		return nil, apperr.Precondition(string(stage), "该阶段正在处理中，请等待完成")
	}
	if err := check(s); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.busy[busy] = true
	s.lastActive = c.now()
	cl := &call{session: s, epoch: s.epoch, busy: busy, stage: stage, started: c.now()}
	ev := c.transition(s, Event{Type: EventStarted, Stage: stage, Message: startMessage(stage)}, false)
	s.mu.Unlock()

	c.publish(ev)
	cl.progress = startAdvisoryProgress(c.deps.Progress, func(percent int) { c.advise(cl, percent) })
	return cl, nil
}

func (c *Controller) advise(cl *call, percent int) {
	s := cl.session
	s.mu.Lock()
	if s.epoch != cl.epoch {
		s.mu.Unlock()
		return
	}
	before := s.state.Progress
	s.state = Reduce(s.state, Event{Type: EventProgressed, Stage: cl.stage, Progress: percent})
	if s.state.Progress == before {
		s.mu.Unlock()
		return
	}
	ev := c.stageEvent(s, true)
	s.mu.Unlock()
	c.publish(ev)
}

// finish 结束调用：成功时在会话锁内应用结果，失败时记录错误且不改变已有产物
func (c *Controller) finish(cl *call, callErr error, apply func(s *Session) string) error {
	cl.progress.stop()

	if callErr != nil && apperr.KindOf(callErr) == apperr.KindInternal {
		callErr = apperr.External(string(cl.stage), callErr)
	}

	s := cl.session
	s.mu.Lock()
	if s.epoch != cl.epoch {
		s.mu.Unlock()
		slog.Info("会话已重置，丢弃过期的调用结果", "session_id", s.ID, "stage", cl.stage)
		return apperr.Precondition(string(cl.stage), "会话已重置，本次结果已丢弃")
	}

	s.busy[cl.busy] = false
	s.lastActive = c.now()

	var ev models.StageEvent
	if callErr != nil {
		ev = c.transition(s, Event{Type: EventFailed, Stage: cl.stage, Err: callErr, Message: callErr.Error()}, false)
	} else {
		msg := apply(s)
		ev = c.transition(s, Event{Type: EventSucceeded, Stage: cl.stage, Message: msg}, false)
	}
	s.mu.Unlock()

	elapsed := c.now().Sub(cl.started)
	c.deps.Metrics.ObserveStage(string(cl.stage), ev.Status, elapsed)
	c.publish(ev)
	c.persistStage(s.ID, ev)

	if callErr != nil {
		slog.Error("阶段执行失败", "session_id", s.ID, "stage", cl.stage, "error", callErr)
	} else {
		slog.Info("阶段执行完成", "session_id", s.ID, "stage", cl.stage, "elapsed", elapsed, "message", ev.Message)
	}
	return callErr
}

func (c *Controller) persistStage(id string, ev models.StageEvent) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.UpdateSessionStage(context.Background(), id, ev.Stage, ev.Status); err != nil {
		slog.Warn("更新会话阶段失败", "session_id", id, "error", err)
	}
}

// transition 调用方持有会话锁
func (c *Controller) transition(s *Session, e Event, advisory bool) models.StageEvent {
	s.state = Reduce(s.state, e)
	return c.stageEvent(s, advisory)
}

func (c *Controller) stageEvent(s *Session, advisory bool) models.StageEvent {
	return models.StageEvent{
		SessionID: s.ID,
		Stage:     string(s.state.Stage),
		Status:    string(s.state.Status),
		Progress:  s.state.Progress,
		Message:   s.state.Message,
		Advisory:  advisory,
		Epoch:     s.epoch,
		At:        c.now(),
	}
}

func (c *Controller) publish(ev models.StageEvent) {
	c.mu.RLock()
	publishers := c.deps.Publishers
	c.mu.RUnlock()
	for _, p := range publishers {
		p.Publish(ev)
	}
}

func startMessage(stage Stage) string {
	switch stage {
	case StageTranslation:
		return "正在翻译开放题..."
	case StageLabeling:
		return "正在生成标签..."
	case StageEditing:
		return "正在保存修改..."
	case StageStatistics:
		return "正在进行统计分析..."
	}
	return ""
}
