/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 基于Redis的外部AI调用限流，按阶段分别计数（翻译、打标共用一个窗口配置）
 * @architecture 工具层 - 提供分布式限流能力
 * @documentReference DESIGN.md
 * @stateFlow 构造限流Key -> Lua脚本原子计数 -> 判断是否超限
 * @rules 使用Redis INCR和EXPIRE实现固定窗口限流，多个服务实例共享同一计数
 * @dependencies github.com/go-redis/redis/v8
 * @refs client/ai_client.go, service/init.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"survey-pipeline-service/service/config"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed   bool   `json:"allowed"`   // 是否允许请求
	Limit     int    `json:"limit"`     // 限制数量
	Remaining int    `json:"remaining"` // 剩余数量
	ResetAt   int64  `json:"reset_at"`  // 重置时间（Unix时间戳）
	Key       string `json:"key"`       // 限流对象，例如 ai:translation
	Message   string `json:"message"`
}

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client      *redis.Client
	window      int // 秒
	maxRequests int
}

// 固定窗口计数，超限时不再递增
const limitScript = `
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	if current >= max_requests then
		local ttl = redis.call('TTL', key)
		if ttl == -1 then
			ttl = window
		end
		return {0, current, max_requests, ttl}
	end

	local new_count = redis.call('INCR', key)
	if new_count == 1 then
		redis.call('EXPIRE', key, window)
	end

	local ttl = redis.call('TTL', key)
	if ttl == -1 then
		ttl = window
	end

	return {1, new_count, max_requests, ttl}
`

// NewRedisRateLimiter 创建Redis限流器并测试连接
func NewRedisRateLimiter(cfg config.RateLimitConfig) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis连接失败: %w", err)
	}

	slog.Info("Redis限流器初始化成功", "redis_addr", cfg.RedisAddr, "window", cfg.Window, "max_requests", cfg.MaxRequests)
	return newRedisRateLimiter(client, cfg.Window, cfg.MaxRequests), nil
}

func newRedisRateLimiter(client *redis.Client, window time.Duration, maxRequests int) *RedisRateLimiter {
	seconds := int(window / time.Second)
	if seconds <= 0 {
		seconds = 60
	}
	if maxRequests <= 0 {
		maxRequests = 60
	}
	return &RedisRateLimiter{client: client, window: seconds, maxRequests: maxRequests}
}

// Allow 实现外部调用限流接口
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := r.Check(ctx, key)
	if err != nil {
		return false, err
	}
	if !result.Allowed {
		slog.Warn("外部调用被限流", "key", key, "limit", result.Limit, "reset_at", result.ResetAt)
	}
	return result.Allowed, nil
}

// Check 检查并计数一次调用
func (r *RedisRateLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	redisKey := r.buildRateLimitKey(key, time.Now())

	raw, err := r.client.Eval(ctx, limitScript, []string{redisKey}, r.maxRequests, r.window).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}

	results, ok := raw.([]interface{})
	if !ok || len(results) != 4 {
		return nil, fmt.Errorf("限流脚本返回格式异常: %v", raw)
	}
	allowed := results[0].(int64) == 1
	currentCount := int(results[1].(int64))
	maxRequests := int(results[2].(int64))
	ttl := int(results[3].(int64))

	remaining := maxRequests - currentCount
	if remaining < 0 {
		remaining = 0
	}

	message := "允许请求"
	if !allowed {
		message = fmt.Sprintf("%s 超过限流限制（%d次/%d秒）", key, maxRequests, r.window)
	}

	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     maxRequests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
		Key:       key,
		Message:   message,
	}, nil
}

// buildRateLimitKey 构造限流Key，按窗口编号分桶
func (r *RedisRateLimiter) buildRateLimitKey(key string, now time.Time) string {
	currentWindow := now.Unix() / int64(r.window)
	return fmt.Sprintf("rate_limit:%s:%d", key, currentWindow)
}

// Reset 重置当前窗口计数（仅用于测试或管理）
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.buildRateLimitKey(key, time.Now())).Err()
}

// Ready 就绪检查
func (r *RedisRateLimiter) Ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close 关闭Redis客户端
func (r *RedisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
