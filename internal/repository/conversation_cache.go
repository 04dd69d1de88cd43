package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lawmate-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 快照缓存保留最近 200 条消息，7 天过期。
const (
	cacheSnapshotLimit = 200
	cacheTTL           = 7 * 24 * time.Hour
)

// ConversationCache 定义了会话消息快照的本地持久缓存。
// 缓存只是优化，不是可信数据源：读不到就回源，写失败只记日志。
type ConversationCache interface {
	Get(ctx context.Context, threadID string) ([]model.Message, error)
	Put(ctx context.Context, threadID string, messages []model.Message) error
	Evict(ctx context.Context, threadID string) error
}

type redisConversationCache struct {
	redisClient *redis.Client
}

// NewConversationCache 创建一个基于 Redis 的 ConversationCache 实例。
func NewConversationCache(redisClient *redis.Client) ConversationCache {
	return &redisConversationCache{redisClient: redisClient}
}

func cacheKey(threadID string) string {
	return fmt.Sprintf("thread:%s:messages", threadID)
}

// Get 从 Redis 读取某个线程的消息快照。缓存未命中返回 nil 切片而非错误。
func (c *redisConversationCache) Get(ctx context.Context, threadID string) ([]model.Message, error) {
	jsonData, err := c.redisClient.Get(ctx, cacheKey(threadID)).Result()
	if err == redis.Nil {
		return nil, nil // 尚无快照
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation snapshot: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation snapshot: %w", err)
	}
	return messages, nil
}

// Put 将某个线程的消息快照写入 Redis。
func (c *redisConversationCache) Put(ctx context.Context, threadID string, messages []model.Message) error {
	// 只保留最近的若干条
	if len(messages) > cacheSnapshotLimit {
		messages = messages[len(messages)-cacheSnapshotLimit:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation snapshot: %w", err)
	}
	if err := c.redisClient.Set(ctx, cacheKey(threadID), jsonData, cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation snapshot: %w", err)
	}
	return nil
}

// Evict 删除某个线程的缓存快照（线程删除时调用）。
func (c *redisConversationCache) Evict(ctx context.Context, threadID string) error {
	return c.redisClient.Del(ctx, cacheKey(threadID)).Err()
}
