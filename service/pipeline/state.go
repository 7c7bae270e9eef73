/*
 * @module service/pipeline/state
 * @description 会话状态机：单一的 {stage, status, progress, error} 值，由显式的 Reduce 函数推进
 * @architecture 状态机模式
 * @documentReference DESIGN.md
 * @stateFlow idle -> running -> done | error；reset 回到初始阶段
 * @rules 进度只增不减；终态事件强制进度为100；不同阶段的过期事件被忽略
 * @dependencies service/apperr
 * @refs service/pipeline/controller.go
 */

package pipeline

import "survey-pipeline-service/service/apperr"

// Stage 流水线阶段
type Stage string

const (
	StageUpload      Stage = "upload"
	StageTranslation Stage = "translation"
	StageLabeling    Stage = "labeling"
	StageEditing     Stage = "editing"
	StageStatistics  Stage = "statistics"
)

// Status 阶段状态
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// ErrorDetail 阶段错误详情
type ErrorDetail struct {
	Kind     apperr.Kind `json:"kind"`
	Stage    string      `json:"stage,omitempty"`
	Messages []string    `json:"messages"`
}

// State 会话状态
type State struct {
	Stage    Stage        `json:"stage"`
	Status   Status       `json:"status"`
	Progress int          `json:"progress"`
	Message  string       `json:"message,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// InitialState 初始状态：等待上传
func InitialState() State {
	return State{Stage: StageUpload, Status: StatusIdle}
}

// EventType 状态事件类型
type EventType int

const (
	EventStarted EventType = iota
	EventProgressed
	EventSucceeded
	EventFailed
	EventReset
)

// Event 状态事件
type Event struct {
	Type     EventType
	Stage    Stage
	Progress int
	Message  string
	Err      error
}

// Reduce 根据事件计算新状态
func Reduce(s State, e Event) State {
	switch e.Type {
	case EventStarted:
		return State{Stage: e.Stage, Status: StatusRunning, Progress: 0, Message: e.Message}

	case EventProgressed:
		if s.Status != StatusRunning || s.Stage != e.Stage || e.Progress <= s.Progress {
			return s
		}
		s.Progress = e.Progress
		if e.Progress > 100 {
			s.Progress = 100
		}
		if e.Message != "" {
			s.Message = e.Message
		}
		return s

	case EventSucceeded:
		if s.Stage != e.Stage && s.Status == StatusRunning {
			return s
		}
		return State{Stage: e.Stage, Status: StatusDone, Progress: 100, Message: e.Message}

	case EventFailed:
		if s.Stage != e.Stage && s.Status == StatusRunning {
			return s
		}
		detail := &ErrorDetail{
			Kind:     apperr.KindOf(e.Err),
			Stage:    apperr.StageOf(e.Err),
			Messages: apperr.Messages(e.Err),
		}
		if detail.Stage == "" {
			detail.Stage = string(e.Stage)
		}
		return State{Stage: e.Stage, Status: StatusError, Progress: 100, Message: e.Message, Error: detail}

	case EventReset:
		return InitialState()
	}
	return s
}
