package models

import "time"

// StageEvent 阶段状态变更或进度提示，推送给 SSE 订阅者与外部消息通道
type StageEvent struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Advisory  bool      `json:"advisory"` // 本地计时器推进的提示性进度，不代表实际完成度
	Epoch     uint64    `json:"epoch"`
	At        time.Time `json:"at"`
}

// Terminal 是否为终态事件（完成或失败）
func (e StageEvent) Terminal() bool {
	return e.Status == "done" || e.Status == "error"
}
