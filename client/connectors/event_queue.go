package connectors

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"survey-pipeline-service/service/models"
)

// queueSize 发布队列长度
const queueSize = 100

// eventQueue 异步发布队列：入队不阻塞，后台单协程按顺序投递
type eventQueue struct {
	name    string
	queue   chan models.StageEvent
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func newEventQueue(name string, deliver func(models.StageEvent) error) *eventQueue {
	q := &eventQueue{name: name, queue: make(chan models.StageEvent, queueSize)}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for event := range q.queue {
			if err := deliver(event); err != nil {
				q.failed.Add(1)
				slog.Error("发送阶段事件失败", "publisher", q.name, "session_id", event.SessionID, "stage", event.Stage, "error", err)
				continue
			}
			q.sent.Add(1)
		}
	}()
	return q
}

// push 提示性进度不外发；队列满或已关闭时丢弃
func (q *eventQueue) push(event models.StageEvent) {
	if event.Advisory {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.queue <- event:
	default:
		q.dropped.Add(1)
		slog.Warn("事件队列已满，跳过发送", "publisher", q.name, "session_id", event.SessionID, "stage", event.Stage)
	}
}

// drain 停止接收并等待队列投递完毕，返回是否为首次调用
func (q *eventQueue) drain() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	q.wg.Wait()
	return true
}

func (q *eventQueue) statistics() map[string]int64 {
	return map[string]int64{
		"sent":    q.sent.Load(),
		"dropped": q.dropped.Load(),
		"failed":  q.failed.Load(),
	}
}
