/*
 * @module service/database/migrate
 * @description 数据库连接与迁移：按配置选择 PostgreSQL 或 SQLite，创建会话历史、修改审计、标签入库与阶段事件表
 * @architecture 数据访问层 - 迁移管理
 * @documentReference DESIGN.md
 * @stateFlow 应用启动时连接数据库并执行迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies survey-pipeline-service/service/models, gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs service/init.go, service/models/records.go
 */

package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/models"
)

// Open 按配置打开数据库连接
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	slog.Info("数据库连接成功", "driver", cfg.Driver)
	return db, nil
}

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&models.AnalysisSessionRecord{},
		&models.ModificationRecord{},
		&models.LabeledResponseRecord{},
		&models.StageEventRecord{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移...")

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	slog.Info("数据库迁移完成")
	return nil
}
