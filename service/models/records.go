/*
 * @module service/models/records
 * @description 持久化模型：分析会话历史、人工修改审计、标签入库、阶段事件
 * @architecture 数据模型层 - GORM实体
 * @documentReference DESIGN.md
 * @stateFlow 会话创建 -> 阶段事件 -> 修改保存 -> 结果入库
 * @rules 修改记录只追加，重新打标时标记为已失效而不删除
 * @dependencies gorm.io/gorm, gorm.io/datatypes, github.com/google/uuid
 * @refs service/database
 */

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalysisSessionRecord 分析会话历史
type AnalysisSessionRecord struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Filename    string     `gorm:"not null" json:"filename"`
	UserName    string     `gorm:"index" json:"user_name"`
	RowCount    int        `json:"row_count"`
	ColumnCount int        `json:"column_count"`
	OpenFields  int        `json:"open_fields"`
	Stage       string     `gorm:"not null" json:"stage"`
	Status      string     `gorm:"not null" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

// TableName 表名
func (AnalysisSessionRecord) TableName() string { return "analysis_sessions" }

// ModificationRecord 已保存的人工修改审计记录
type ModificationRecord struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID   string         `gorm:"not null;index" json:"session_id"`
	Strategy    string         `gorm:"not null;index" json:"strategy"`
	SaveBatchID string         `gorm:"not null;index" json:"save_batch_id"`
	RowID       int            `gorm:"not null" json:"row_id"`
	Field       string         `gorm:"not null" json:"field"`
	TagType     string         `gorm:"not null" json:"tag_type"`
	Tags        datatypes.JSON `json:"tags"`
	Seq         int64          `json:"seq"`
	Superseded  bool           `gorm:"not null;default:false" json:"superseded"`
	CreatedBy   string         `gorm:"not null;default:'system'" json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName 表名
func (ModificationRecord) TableName() string { return "modification_records" }

// BeforeCreate 创建前钩子
func (m *ModificationRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedBy == "" {
		m.CreatedBy = "system"
	}
	return nil
}

// TagList 解析标签列表
func (m *ModificationRecord) TagList() []string {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	return tags
}

// LabeledResponseRecord 最终标签入库记录
type LabeledResponseRecord struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID   string         `gorm:"not null;index" json:"session_id"`
	Strategy    string         `gorm:"not null" json:"strategy"`
	RowID       int            `gorm:"not null" json:"row_id"`
	Field       string         `gorm:"not null" json:"field"`
	Original    string         `json:"original"`
	Translation string         `json:"translation"`
	Themes      datatypes.JSON `json:"themes"`
	Tags        datatypes.JSON `json:"tags"`
	References  datatypes.JSON `json:"references"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName 表名
func (LabeledResponseRecord) TableName() string { return "labeled_responses" }

// BeforeCreate 创建前钩子
func (l *LabeledResponseRecord) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// StageEventRecord 阶段状态变更事件
type StageEventRecord struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string    `gorm:"not null;index" json:"session_id"`
	Stage     string    `gorm:"not null" json:"stage"`
	Status    string    `gorm:"not null" json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (StageEventRecord) TableName() string { return "stage_events" }

// BeforeCreate 创建前钩子
func (s *StageEventRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// JSONList 将字符串列表编码为 JSON 列
func JSONList(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return datatypes.JSON(data)
}
