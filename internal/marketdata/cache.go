package marketdata

import (
	"context"
	"sync"
	"time"
)

// Cache 抽象询价结果缓存。实现必须对并发访问安全。
type Cache interface {
	Get(ctx context.Context, key string) (*Quote, bool)
	Set(ctx context.Context, key string, quote *Quote)
}

// memoryEntry 保存缓存值及其过期时间。
type memoryEntry struct {
	quote     Quote
	expiresAt time.Time
}

// MemoryCache 是进程内的 TTL 缓存，容量有界，写满时随过期清理腾位。
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache 创建内存缓存。ttl 不为正时使用 30 秒，maxSize 不为正
// 时使用 256。
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 256
	}
	return &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get 返回未过期的缓存值。
func (c *MemoryCache) Get(_ context.Context, key string) (*Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	quote := entry.quote
	return &quote, true
}

// Set 写入缓存，容量不足时先剔除过期项，仍然不足则放弃写入。
func (c *MemoryCache) Set(_ context.Context, key string, quote *Quote) {
	if quote == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		now := c.now()
		for k, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			return
		}
	}
	c.entries[key] = memoryEntry{quote: *quote, expiresAt: c.now().Add(c.ttl)}
}

// 确认接口实现。
var _ Cache = (*MemoryCache)(nil)
