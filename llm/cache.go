package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

// ResponseCache 按请求 ID 保存已归一化的响应。
type ResponseCache interface {
	Get(ctx context.Context, requestID string) (*Response, error)
	Set(ctx context.Context, resp *Response) error
	Clear(ctx context.Context) error
}

// CacheConfig configures the cache.
type CacheConfig struct {
	LocalMaxSize int           `json:"local_max_size" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"local_ttl" yaml:"local_ttl"`
	RedisTTL     time.Duration `json:"redis_ttl" yaml:"redis_ttl"`
	EnableLocal  bool          `json:"enable_local" yaml:"enable_local"`
	EnableRedis  bool          `json:"enable_redis" yaml:"enable_redis"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		LocalMaxSize: 1000,
		LocalTTL:     30 * time.Minute,
		RedisTTL:     24 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
		KeyPrefix:    "taskflow:response:",
	}
}

// MultiLevelCache provides local LRU + Redis caching of responses.
type MultiLevelCache struct {
	local  *LRUCache
	redis  *redis.Client
	config *CacheConfig
	logger *zap.Logger
}

// NewMultiLevelCache creates a multi-level cache. rdb 为 nil 时只使用本地层。
func NewMultiLevelCache(rdb *redis.Client, config *CacheConfig, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "taskflow:response:"
	}

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	return &MultiLevelCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "response_cache")),
	}
}

// NewLocalCache creates a cache that only keeps responses in process memory.
func NewLocalCache(maxSize int, ttl time.Duration) *MultiLevelCache {
	return NewMultiLevelCache(nil, &CacheConfig{
		LocalMaxSize: maxSize,
		LocalTTL:     ttl,
		EnableLocal:  true,
	}, nil)
}

// Get retrieves from cache.
func (c *MultiLevelCache) Get(ctx context.Context, requestID string) (*Response, error) {
	if c.local != nil {
		if resp, ok := c.local.Get(requestID); ok {
			return resp, nil
		}
	}

	if c.useRedis() {
		data, err := c.redis.Get(ctx, c.redisKey(requestID)).Bytes()
		if err == nil {
			var resp Response
			if err := json.Unmarshal(data, &resp); err == nil {
				if c.local != nil {
					c.local.Set(requestID, &resp)
				}
				return &resp, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set stores in cache.
func (c *MultiLevelCache) Set(ctx context.Context, resp *Response) error {
	if resp == nil || resp.ID == "" {
		return nil
	}
	if c.local != nil {
		c.local.Set(resp.ID, resp)
	}

	if c.useRedis() {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, c.redisKey(resp.ID), data, c.config.RedisTTL).Err()
	}

	return nil
}

// Clear drops every cached response.
func (c *MultiLevelCache) Clear(ctx context.Context) error {
	if c.local != nil {
		c.local.Clear()
	}
	if !c.useRedis() {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *MultiLevelCache) useRedis() bool {
	return c.config.EnableRedis && c.redis != nil
}

func (c *MultiLevelCache) redisKey(key string) string {
	return c.config.KeyPrefix + key
}

// LRUCache is a simple LRU cache of responses.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
}

type lruNode struct {
	key       string
	resp      *Response
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

// NewLRUCache creates a new LRU cache. ttl <= 0 表示不过期。
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
	}
}

// Get retrieves from cache.
func (c *LRUCache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if !node.expiresAt.IsZero() && time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	return node.resp, true
}

// Set stores in cache.
func (c *LRUCache) Set(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.resp = resp
		node.expiresAt = c.expiry()
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		resp:      resp,
		expiresAt: c.expiry(),
	}
	c.items[key] = node
	c.addToHead(node)
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruNode)
	c.head, c.tail = nil, nil
}

func (c *LRUCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *LRUCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *LRUCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *LRUCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *LRUCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
