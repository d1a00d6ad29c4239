package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ChainFlow-Gateway/internal/marketdata"
	"ChainFlow-Gateway/pkg/logger"
)

// Config 描述 Redis 缓存的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// QuoteCache 把询价结果缓存到 Redis，供多实例部署时共享。读写失败都
// 只记录日志并按缓存未命中处理，行情服务会退回直连提供方。
type QuoteCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewQuoteCache 创建 Redis 缓存实例并验证连通性。
func NewQuoteCache(cfg Config) (*QuoteCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &QuoteCache{client: client, ttl: ttl, log: logger.Named("redis_cache")}, nil
}

// Get 实现 marketdata.Cache。
func (c *QuoteCache) Get(ctx context.Context, key string) (*marketdata.Quote, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("读取缓存失败", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var quote marketdata.Quote
	if err := json.Unmarshal(raw, &quote); err != nil {
		c.log.Warn("缓存内容损坏", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return &quote, true
}

// Set 实现 marketdata.Cache。
func (c *QuoteCache) Set(ctx context.Context, key string, quote *marketdata.Quote) {
	if quote == nil {
		return
	}
	encoded, err := json.Marshal(quote)
	if err != nil {
		c.log.Warn("序列化缓存失败", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.log.Warn("写入缓存失败", slog.String("key", key), slog.Any("error", err))
	}
}

// Close 关闭 Redis 连接。
func (c *QuoteCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// 确认接口实现。
var _ marketdata.Cache = (*QuoteCache)(nil)
