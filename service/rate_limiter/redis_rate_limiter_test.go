/*
 * @module service/rate_limiter/redis_rate_limiter_test
 * @description Redis限流器单元测试，需要本地Redis，不可用时跳过
 * @architecture 测试层
 * @documentReference DESIGN.md
 */

package rate_limiter

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis 连接测试用Redis，地址取 REDIS_ADDR
func setupTestRedis(t *testing.T, maxRequests int) *RedisRateLimiter {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis不可用，跳过: %v", err)
	}

	limiter := newRedisRateLimiter(client, time.Minute, maxRequests)
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestBuildRateLimitKey(t *testing.T) {
	limiter := newRedisRateLimiter(nil, 10*time.Second, 5)

	now := time.Unix(1000, 0)
	assert.Equal(t, "rate_limit:ai:translation:100", limiter.buildRateLimitKey("ai:translation", now))
	assert.Equal(t, "rate_limit:ai:translation:100", limiter.buildRateLimitKey("ai:translation", now.Add(9*time.Second)))
	assert.Equal(t, "rate_limit:ai:translation:101", limiter.buildRateLimitKey("ai:translation", now.Add(10*time.Second)))
}

func TestNewRedisRateLimiter_Defaults(t *testing.T) {
	limiter := newRedisRateLimiter(nil, 0, 0)
	assert.Equal(t, 60, limiter.window)
	assert.Equal(t, 60, limiter.maxRequests)
}

func TestAllow_RateLimited(t *testing.T) {
	limiter := setupTestRedis(t, 3)
	ctx := context.Background()
	key := "test:limited:" + time.Now().Format("150405.000000")
	require.NoError(t, limiter.Reset(ctx, key))

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, allowed, "第%d次请求应该被允许", i+1)
	}

	result, err := limiter.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 3, result.Limit)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	limiter := setupTestRedis(t, 1)
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")
	require.NoError(t, limiter.Reset(ctx, "ai:translation:"+suffix))
	require.NoError(t, limiter.Reset(ctx, "ai:labeling:"+suffix))

	allowed, err := limiter.Allow(ctx, "ai:translation:"+suffix)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "ai:labeling:"+suffix)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "ai:translation:"+suffix)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllow_Concurrent(t *testing.T) {
	limiter := setupTestRedis(t, 20)
	ctx := context.Background()
	key := "test:concurrent:" + time.Now().Format("150405.000000")
	require.NoError(t, limiter.Reset(ctx, key))

	var allowedCount int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.Allow(ctx, key); err == nil && ok {
				atomic.AddInt32(&allowedCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), allowedCount)
}
