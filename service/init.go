/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移、外部AI客户端、事件发布与会话控制器的装配
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 加载配置 -> 连接数据库并迁移 -> 初始化限流与AI客户端 -> 初始化阶段服务 -> 启动清理调度
 * @rules 数据库、Redis、Kafka、MQTT 均为可选依赖：连接失败只降级并记录日志，不阻止服务启动
 * @dependencies gorm.io/gorm, github.com/prometheus/client_golang
 * @refs main.go, api/routes.go
 */

package service

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"survey-pipeline-service/client"
	"survey-pipeline-service/client/connectors"
	"survey-pipeline-service/service/cleanup"
	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/database"
	"survey-pipeline-service/service/event"
	"survey-pipeline-service/service/ingest"
	"survey-pipeline-service/service/labeling"
	"survey-pipeline-service/service/metrics"
	"survey-pipeline-service/service/pipeline"
	"survey-pipeline-service/service/rate_limiter"
	"survey-pipeline-service/service/statistics"
	"survey-pipeline-service/service/translation"
)

var (
	DB                    *gorm.DB
	GlobalConfig          *config.ApplicationConfig
	GlobalStore           *database.Store
	GlobalEventService    *event.EventService
	GlobalMetrics         *metrics.Collector
	GlobalRateLimiter     *rate_limiter.RedisRateLimiter
	GlobalController      *pipeline.Controller
	GlobalCleanupService  *cleanup.SessionCleanupService
	GlobalKafkaPublisher  *connectors.KafkaPublisher
	GlobalMQTTPublisher   *connectors.MQTTPublisher
	GlobalDatabaseEnabled bool
)

// Init 按配置初始化全部服务
func Init(cfg *config.ApplicationConfig) error {
	GlobalConfig = cfg

	initDatabase(cfg.Database)
	GlobalMetrics = metrics.NewCollector(nil)

	var recorder event.Recorder
	if GlobalStore != nil {
		recorder = GlobalStore
	}
	GlobalEventService = event.NewEventService(recorder)

	deps := pipeline.Dependencies{
		Parser:     ingest.NewParser(cfg.Upload),
		Statistics: statistics.NewEngine(),
		Publishers: []pipeline.Publisher{GlobalEventService},
		Metrics:    GlobalMetrics,
		Progress:   cfg.Progress,
	}
	if GlobalStore != nil {
		deps.Store = GlobalStore
	}

	completer := initCompleter(cfg)
	deps.Translator = translation.NewService(completer, cfg.AI.BatchSize)
	deps.Standard = labeling.NewStandardLabeler(completer, cfg.AI.BatchSize, cfg.AI.TopicCount)
	deps.Reference = labeling.NewReferenceMatcher(completer, cfg.AI.BatchSize)

	GlobalController = pipeline.NewController(deps)
	GlobalController.OnClosed(GlobalEventService.CloseSession)
	initPublishers(cfg.Events)

	GlobalCleanupService = cleanup.NewSessionCleanupService(GlobalController, purger(), cfg.Session)
	if err := GlobalCleanupService.StartScheduledCleanup(); err != nil {
		return fmt.Errorf("启动会话清理失败: %w", err)
	}

	slog.Info("服务初始化完成",
		"database", GlobalDatabaseEnabled,
		"ai_enabled", cfg.AI.Enabled,
		"rate_limit", GlobalRateLimiter != nil,
		"kafka", GlobalKafkaPublisher != nil,
		"mqtt", GlobalMQTTPublisher != nil)
	return nil
}

// initDatabase 初始化数据库连接并迁移，失败时以无持久化模式运行
func initDatabase(cfg config.DatabaseConfig) {
	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("数据库不可用，会话历史与修改审计将不会持久化", "error", err)
		return
	}
	if err := database.AutoMigrate(db); err != nil {
		slog.Error("数据库迁移失败，会话历史与修改审计将不会持久化", "error", err)
		return
	}
	DB = db
	GlobalStore = database.NewStore(db)
	GlobalDatabaseEnabled = true
}

// initCompleter AI 未启用时返回 nil：翻译原样保留，参考标签改用规则匹配，标准打标不可用
func initCompleter(cfg *config.ApplicationConfig) client.Completer {
	if !cfg.AI.Enabled {
		slog.Warn("AI服务未启用")
		return nil
	}

	var limiter client.Limiter
	if cfg.RateLimit.Enabled {
		rl, err := rate_limiter.NewRedisRateLimiter(cfg.RateLimit)
		if err != nil {
			slog.Error("Redis限流器初始化失败，外部调用不限流", "error", err)
		} else {
			GlobalRateLimiter = rl
			limiter = rl
		}
	}
	return client.NewChatClient(cfg.AI, limiter)
}

// initPublishers 按配置创建外部事件发布器
func initPublishers(cfg config.EventsConfig) {
	if len(cfg.KafkaBrokers) > 0 {
		p, err := connectors.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			slog.Error("Kafka事件发布器初始化失败", "error", err)
		} else {
			GlobalKafkaPublisher = p
			GlobalController.AddPublisher(p)
		}
	}

	if cfg.MQTTBroker != "" {
		p, err := connectors.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTTopic, cfg.MQTTClientID)
		if err != nil {
			slog.Error("MQTT事件发布器初始化失败", "error", err)
		} else {
			GlobalMQTTPublisher = p
			GlobalController.AddPublisher(p)
		}
	}
}

func purger() cleanup.EventPurger {
	if GlobalStore == nil {
		return nil
	}
	return GlobalStore
}

// Shutdown 停止后台任务并释放连接
func Shutdown() {
	if GlobalCleanupService != nil {
		GlobalCleanupService.StopScheduledCleanup()
	}
	if GlobalEventService != nil {
		GlobalEventService.Stop()
	}
	if GlobalKafkaPublisher != nil {
		if err := GlobalKafkaPublisher.Close(); err != nil {
			slog.Warn("关闭Kafka事件发布器失败", "error", err)
		}
	}
	if GlobalMQTTPublisher != nil {
		GlobalMQTTPublisher.Close()
	}
	if GlobalRateLimiter != nil {
		GlobalRateLimiter.Close()
	}
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	slog.Info("服务已停止")
}
