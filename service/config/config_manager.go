/*
 * @module service/config/config_manager
 * @description 配置加载：默认值 -> YAML配置文件 -> 环境变量，分层覆盖
 * @architecture 分层架构 - 基础设施层
 * @documentReference DESIGN.md
 * @stateFlow 默认值加载 -> 配置文件覆盖 -> 环境变量覆盖 -> 校验
 * @rules 环境变量使用 SURVEY_ 前缀，双下划线表示层级，例如 SURVEY_AI__BASE_URL
 * @dependencies github.com/knadh/koanf/v2
 * @refs service/init.go, main.go
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "SURVEY_"

// ConfigFileEnv 指定配置文件路径的环境变量
const ConfigFileEnv = "SURVEY_CONFIG"

// ApplicationConfig 应用配置
type ApplicationConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Upload    UploadConfig    `koanf:"upload"`
	AI        AIConfig        `koanf:"ai"`
	Session   SessionConfig   `koanf:"session"`
	Progress  ProgressConfig  `koanf:"progress"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Events    EventsConfig    `koanf:"events"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Port        int    `koanf:"port"`
	BaseContext string `koanf:"base_context"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // postgres | sqlite
	DSN    string `koanf:"dsn"`
}

// UploadConfig 上传配置
type UploadConfig struct {
	MaxBytes          int64    `koanf:"max_bytes"`
	AllowedExtensions []string `koanf:"allowed_extensions"`
}

// AIConfig 外部AI服务配置（OpenAI兼容接口）
type AIConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Model          string        `koanf:"model"`
	Timeout        time.Duration `koanf:"timeout"`
	BatchSize      int           `koanf:"batch_size"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	TopicCount     int           `koanf:"topic_count"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	IdleTTL        time.Duration `koanf:"idle_ttl"`
	SweepCron      string        `koanf:"sweep_cron"`
	EventRetention time.Duration `koanf:"event_retention"` // 阶段事件记录保留时长，0 表示不清理
}

// ProgressConfig 进度提示配置
type ProgressConfig struct {
	Interval time.Duration `koanf:"interval"`
	Step     int           `koanf:"step"`
	Cap      int           `koanf:"cap"`
}

// RateLimitConfig 外部调用限流配置
type RateLimitConfig struct {
	Enabled     bool          `koanf:"enabled"`
	RedisAddr   string        `koanf:"redis_addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	Window      time.Duration `koanf:"window"`
	MaxRequests int           `koanf:"max_requests"`
}

// EventsConfig 阶段事件外发配置
type EventsConfig struct {
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
	MQTTBroker   string   `koanf:"mqtt_broker"`
	MQTTTopic    string   `koanf:"mqtt_topic"`
	MQTTClientID string   `koanf:"mqtt_client_id"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `koanf:"level"`
}

// defaults 默认配置
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":               80,
		"server.base_context":       "",
		"database.driver":           "sqlite",
		"database.dsn":              "survey-pipeline.db",
		"upload.max_bytes":          16 << 20,
		"upload.allowed_extensions": []string{"csv", "xlsx", "txt"},
		"ai.enabled":                true,
		"ai.base_url":               "https://api.openai.com/v1",
		"ai.api_key":                "",
		"ai.model":                  "gpt-4o-mini",
		"ai.timeout":                "60s",
		"ai.batch_size":             50,
		"ai.max_retries":            3,
		"ai.retry_base_delay":       "1s",
		"ai.topic_count":            5,
		"session.idle_ttl":          "2h",
		"session.sweep_cron":        "0 * * * * *",
		"session.event_retention":   "720h",
		"progress.interval":         "500ms",
		"progress.step":             5,
		"progress.cap":              90,
		"rate_limit.enabled":        false,
		"rate_limit.redis_addr":     "localhost:6379",
		"rate_limit.password":       "",
		"rate_limit.db":             0,
		"rate_limit.window":         "1m",
		"rate_limit.max_requests":   60,
		"events.kafka_brokers":      []string{},
		"events.kafka_topic":        "survey-stage-events",
		"events.mqtt_broker":        "",
		"events.mqtt_topic":         "survey/stage-events",
		"events.mqtt_client_id":     "survey-pipeline-service",
		"log.level":                 "info",
	}
}

// Load 加载配置，path 为空时读取 SURVEY_CONFIG 指定的文件（可选）
func Load(path string) (*ApplicationConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("加载默认配置失败: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	var cfg ApplicationConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey SURVEY_AI__BASE_URL -> ai.base_url
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate 校验配置
func (c *ApplicationConfig) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("不支持的数据库驱动: %s", c.Database.Driver))
	}
	if c.Upload.MaxBytes <= 0 {
		problems = append(problems, "upload.max_bytes 必须大于0")
	}
	if c.AI.BatchSize <= 0 {
		problems = append(problems, "ai.batch_size 必须大于0")
	}
	if c.AI.MaxRetries < 0 {
		problems = append(problems, "ai.max_retries 不能为负数")
	}
	if c.AI.TopicCount <= 0 {
		problems = append(problems, "ai.topic_count 必须大于0")
	}
	if c.Progress.Interval <= 0 || c.Progress.Step <= 0 {
		problems = append(problems, "progress.interval 与 progress.step 必须大于0")
	}
	if c.Progress.Cap <= 0 || c.Progress.Cap >= 100 {
		problems = append(problems, "progress.cap 必须在 1-99 之间")
	}
	if c.Session.IdleTTL <= 0 {
		problems = append(problems, "session.idle_ttl 必须大于0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AllowsExtension 上传扩展名是否允许（不含点，大小写不敏感）
func (c UploadConfig) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}
