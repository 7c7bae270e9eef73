/*
 * @module service/cleanup/session_cleanup_service
 * @description 会话清理服务，定期关闭空闲会话并清理过期的阶段事件记录
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 定时触发 -> 关闭空闲会话 -> 通知订阅方 -> 清理事件记录 -> 记录结果
 * @rules 有进行中调用的会话不会被关闭；清理失败只记录日志，不影响下次调度
 * @dependencies github.com/robfig/cron/v3
 * @refs service/pipeline/controller.go, service/config
 */

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"survey-pipeline-service/service/config"
)

// SessionExpirer 可关闭空闲会话的控制器
type SessionExpirer interface {
	ExpireIdle(ctx context.Context, ttl time.Duration) []string
}

// EventPurger 可清理历史阶段事件的存储
type EventPurger interface {
	PurgeStageEvents(ctx context.Context, before time.Time) (int64, error)
}

// SessionCleanupService 会话清理服务
type SessionCleanupService struct {
	expirer SessionExpirer
	purger  EventPurger
	cfg     config.SessionConfig
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	now     func() time.Time
}

// NewSessionCleanupService 创建会话清理服务实例，purger 可为 nil
func NewSessionCleanupService(expirer SessionExpirer, purger EventPurger, cfg config.SessionConfig) *SessionCleanupService {
	ctx, cancel := context.WithCancel(context.Background())

	return &SessionCleanupService{
		expirer: expirer,
		purger:  purger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// RunOnce 执行一次清理，返回关闭的会话数与删除的事件记录数
func (s *SessionCleanupService) RunOnce(ctx context.Context) (int, int64) {
	startTime := time.Now()

	expired := s.expirer.ExpireIdle(ctx, s.cfg.IdleTTL)

	var purged int64
	if s.purger != nil && s.cfg.EventRetention > 0 {
		cutoff := s.now().Add(-s.cfg.EventRetention)
		n, err := s.purger.PurgeStageEvents(ctx, cutoff)
		if err != nil {
			slog.Error("清理阶段事件记录失败", "error", err)
		} else {
			purged = n
		}
	}

	if len(expired) > 0 || purged > 0 {
		slog.Info("会话清理完成",
			"expired_sessions", len(expired),
			"purged_events", purged,
			"duration_ms", time.Since(startTime).Milliseconds())
	}
	return len(expired), purged
}

// StartScheduledCleanup 启动定时清理任务
func (s *SessionCleanupService) StartScheduledCleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("会话清理调度器已经启动")
	}

	spec := s.cfg.SweepCron
	if spec == "" {
		spec = "0 * * * * *"
	}

	// Cron表达式：秒 分 时 日 月 周
	_, err := s.cron.AddFunc(spec, func() {
		s.RunOnce(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	s.cron.Start()
	s.started = true

	slog.Info("会话清理调度器启动成功", "cron", spec, "idle_ttl", s.cfg.IdleTTL)
	return nil
}

// StopScheduledCleanup 停止定时清理任务，等待正在执行的任务结束
func (s *SessionCleanupService) StopScheduledCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false

	slog.Info("会话清理调度器已停止")
}
