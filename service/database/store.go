/*
 * @module service/database/store
 * @description 流水线持久化：分析会话历史、人工修改审计轨迹、最终标签入库、阶段事件记录与数据库状态
 * @architecture 数据访问层 - 仓储实现
 * @documentReference DESIGN.md
 * @stateFlow 上传创建会话 -> 阶段状态更新 -> 保存修改 -> 重新打标归档 -> 标签入库 -> 会话关闭
 * @rules 修改记录只追加，重新打标时标记 superseded；标签入库整体替换该会话的旧记录
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/pipeline/controller.go, api/controllers/database_controller.go
 */

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"survey-pipeline-service/service/models"
)

const insertBatchSize = 200

// Store 基于GORM的流水线存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建存储实例
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateSession 记录新会话
func (s *Store) CreateSession(ctx context.Context, record *models.AnalysisSessionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("创建会话记录失败: %w", err)
	}
	return nil
}

// UpdateSessionStage 更新会话当前阶段
func (s *Store) UpdateSessionStage(ctx context.Context, id, stage, status string) error {
	result := s.db.WithContext(ctx).Model(&models.AnalysisSessionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stage":      stage,
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("更新会话阶段失败: %w", result.Error)
	}
	return nil
}

// CloseSession 标记会话关闭
func (s *Store) CloseSession(ctx context.Context, id string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.AnalysisSessionRecord{}).
		Where("id = ? AND closed_at IS NULL", id).
		Updates(map[string]interface{}{
			"status":     "closed",
			"closed_at":  now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("关闭会话记录失败: %w", result.Error)
	}
	return nil
}

// ListSessions 分页查询会话历史，按创建时间倒序
func (s *Store) ListSessions(ctx context.Context, page, size int, userName string) ([]models.AnalysisSessionRecord, int64, error) {
	page, size = NormalizePage(page, size)

	query := s.db.WithContext(ctx).Model(&models.AnalysisSessionRecord{})
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计会话历史失败: %w", err)
	}

	var records []models.AnalysisSessionRecord
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("查询会话历史失败: %w", err)
	}
	return records, total, nil
}

// SaveModifications 在一个事务内追加一批修改记录，返回批次ID
func (s *Store) SaveModifications(ctx context.Context, sessionID string, strategy models.Strategy, mods []models.Modification) (string, error) {
	batchID := uuid.New().String()
	records := make([]models.ModificationRecord, 0, len(mods))
	for _, m := range mods {
		if !m.Valid() {
			continue
		}
		createdAt := m.At
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		records = append(records, models.ModificationRecord{
			SessionID:   sessionID,
			Strategy:    string(strategy),
			SaveBatchID: batchID,
			RowID:       *m.RowID,
			Field:       m.Field,
			TagType:     string(m.TagType),
			Tags:        models.JSONList(m.Tags),
			Seq:         m.Seq,
			CreatedAt:   createdAt,
		})
	}
	if len(records) == 0 {
		return "", fmt.Errorf("没有有效的修改记录")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, insertBatchSize).Error
	})
	if err != nil {
		return "", fmt.Errorf("保存修改记录失败: %w", err)
	}
	return batchID, nil
}

// SupersedeModifications 将策略下仍有效的修改记录标记为已失效
func (s *Store) SupersedeModifications(ctx context.Context, sessionID string, strategy models.Strategy) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.ModificationRecord{}).
		Where("session_id = ? AND strategy = ? AND superseded = ?", sessionID, string(strategy), false).
		Update("superseded", true)
	if result.Error != nil {
		return 0, fmt.Errorf("归档修改记录失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ModificationHistory 查询修改审计轨迹，strategy 为空时返回全部策略
func (s *Store) ModificationHistory(ctx context.Context, sessionID string, strategy models.Strategy, includeSuperseded bool) ([]models.ModificationRecord, error) {
	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if strategy != "" {
		query = query.Where("strategy = ?", string(strategy))
	}
	if !includeSuperseded {
		query = query.Where("superseded = ?", false)
	}

	var records []models.ModificationRecord
	if err := query.Order("created_at ASC").Order("seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询修改记录失败: %w", err)
	}
	return records, nil
}

// ImportLabeledResponses 在事务内替换会话的标签入库记录
func (s *Store) ImportLabeledResponses(ctx context.Context, sessionID string, records []models.LabeledResponseRecord) (int, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.LabeledResponseRecord{}).Error; err != nil {
			return fmt.Errorf("清除旧标签记录失败: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			records[i].SessionID = sessionID
		}
		if err := tx.CreateInBatches(records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("写入标签记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// RecordStageEvent 记录阶段事件
func (s *Store) RecordStageEvent(ctx context.Context, event models.StageEvent) error {
	record := &models.StageEventRecord{
		SessionID: event.SessionID,
		Stage:     event.Stage,
		Status:    event.Status,
		Message:   event.Message,
		CreatedAt: event.At,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("保存阶段事件失败: %w", err)
	}
	return nil
}

// StageEvents 查询会话的阶段事件
func (s *Store) StageEvents(ctx context.Context, sessionID string) ([]models.StageEventRecord, error) {
	var records []models.StageEventRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询阶段事件失败: %w", err)
	}
	return records, nil
}

// PurgeStageEvents 删除早于 before 的阶段事件
func (s *Store) PurgeStageEvents(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.StageEventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除阶段事件失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ready 就绪检查
func (s *Store) Ready() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Status 数据库状态
type Status struct {
	Connected bool             `json:"connected"`
	Driver    string           `json:"driver"`
	Error     string           `json:"error,omitempty"`
	Tables    map[string]int64 `json:"tables,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Status 检查连接并统计各表行数
func (s *Store) Status(ctx context.Context) *Status {
	status := &Status{Driver: s.db.Dialector.Name(), CheckedAt: time.Now()}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true

	status.Tables = make(map[string]int64)
	for _, m := range []interface{ TableName() string }{
		&models.AnalysisSessionRecord{},
		&models.ModificationRecord{},
		&models.LabeledResponseRecord{},
		&models.StageEventRecord{},
	} {
		var count int64
		if err := s.db.WithContext(ctx).Model(m).Count(&count).Error; err != nil {
			status.Error = fmt.Sprintf("统计表 %s 失败: %v", m.TableName(), err)
			continue
		}
		status.Tables[m.TableName()] = count
	}
	return status
}

// NormalizePage 分页参数归一化，默认每页20条，最多100条
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
