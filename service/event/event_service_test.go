package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/service/models"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []models.StageEvent
	err    error
}

func (r *memoryRecorder) RecordStageEvent(_ context.Context, e models.StageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func stageEvent(session, status string, progress int, advisory bool) models.StageEvent {
	return models.StageEvent{
		SessionID: session,
		Stage:     "translation",
		Status:    status,
		Progress:  progress,
		Advisory:  advisory,
		At:        time.Now(),
	}
}

func TestPublish_OnlyReachesSameSession(t *testing.T) {
	s := NewEventService(nil)
	defer s.Stop()

	a := s.AddSSEConnection("s1", "c1", "127.0.0.1")
	b := s.AddSSEConnection("s2", "c2", "127.0.0.1")

	s.Publish(stageEvent("s1", "running", 10, true))

	select {
	case got := <-a.Channel:
		assert.Equal(t, 10, got.Progress)
	default:
		t.Fatal("s1 的连接应该收到事件")
	}
	assert.Empty(t, b.Channel)
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	s := NewEventService(nil)
	defer s.Stop()

	c := s.AddSSEConnection("s1", "c1", "")
	for i := 0; i < clientBuffer+5; i++ {
		s.Publish(stageEvent("s1", "running", i%100, true))
	}
	assert.Len(t, c.Channel, clientBuffer)
}

func TestPublish_RecordsOnlyRealTransitions(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("db down")}
	s := NewEventService(rec)
	defer s.Stop()

	s.Publish(stageEvent("s1", "running", 0, false))
	s.Publish(stageEvent("s1", "running", 30, true))
	s.Publish(stageEvent("s1", "done", 100, false))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, "done", rec.events[1].Status)
}

func TestRemoveAndCloseSession(t *testing.T) {
	s := NewEventService(nil)
	defer s.Stop()

	c1 := s.AddSSEConnection("s1", "c1", "")
	c2 := s.AddSSEConnection("s1", "c2", "")
	assert.Equal(t, 2, s.ConnectionCount("s1"))

	s.RemoveSSEConnection("s1", "c1")
	assert.Equal(t, 1, s.ConnectionCount("s1"))
	_, open := <-c1.Done
	assert.False(t, open)

	s.CloseSession("s1")
	assert.Equal(t, 0, s.ConnectionCount("s1"))
	_, open = <-c2.Done
	assert.False(t, open)

	// 重复移除不应 panic
	s.RemoveSSEConnection("s1", "c2")
}

func TestGetSSEConnectionList(t *testing.T) {
	s := NewEventService(nil)
	defer s.Stop()

	s.AddSSEConnection("s1", "c1", "10.0.0.1")
	s.AddSSEConnection("s2", "c2", "10.0.0.2")

	assert.Len(t, s.GetSSEConnectionList(""), 2)
	list := s.GetSSEConnectionList("s2")
	require.Len(t, list, 1)
	assert.Equal(t, "10.0.0.2", list[0].ClientIP)
}

func TestStop_ClosesConnections(t *testing.T) {
	s := NewEventService(nil)
	c := s.AddSSEConnection("s1", "c1", "")

	s.Stop()
	s.Stop()

	_, open := <-c.Done
	assert.False(t, open)
	assert.Equal(t, 0, s.ConnectionCount("s1"))
}
