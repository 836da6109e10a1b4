// Package storage 提供 IPN 去重与审计的持久化实现。
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// txnKeyPrefix 是交易去重键的前缀。
const txnKeyPrefix = "ipn:txn:"

// RedisStore 基于 Redis 实现交易号去重。
// PayPal 对未确认的通知会反复重发，同一交易号只允许产生一次会员变更。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig 是去重存储的连接配置。
type RedisConfig struct {
	// Addr 是 Redis 地址（host:port）
	Addr string
	// Password 是连接密码，无认证时留空
	Password string
	// DB 是逻辑库编号
	DB int
	// TTL 是去重标记的保留时长，零值时使用默认的 90 天
	TTL time.Duration
}

// NewRedisStore 创建去重存储并验证连通性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		// PayPal 的重发窗口远小于 90 天，过期后键自动清理
		ttl = 90 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// SeenTransaction 报告交易号是否已处理过。
func (s *RedisStore) SeenTransaction(ctx context.Context, txnID string) (bool, error) {
	n, err := s.client.Exists(ctx, txnKeyPrefix+txnID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkTransactionProcessed 记录交易号已处理。
// 标记在会员变更成功之后写入，失败的处理留给 PayPal 重试。
func (s *RedisStore) MarkTransactionProcessed(ctx context.Context, txnID string) error {
	if err := s.client.Set(ctx, txnKeyPrefix+txnID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
