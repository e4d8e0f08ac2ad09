package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
)

// ErrClosed Manager 已关闭
var ErrClosed = errors.New("cache manager is closed")

// =============================================================================
// 💾 Redis 连接管理
// =============================================================================

// Manager 持有 Redis 连接，供响应缓存与健康检查共用
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Config Redis 连接配置
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 0 表示不做周期检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 建立连接并 PING 一次，失败直接返回错误
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)

	return m, nil
}

// Client 返回底层客户端
func (m *Manager) Client() *redis.Client {
	return m.redis
}

// ResponseCache 构造本地 LRU + Redis 两级响应缓存
func (m *Manager) ResponseCache(cfg *llm.CacheConfig) *llm.MultiLevelCache {
	if cfg == nil {
		cfg = llm.DefaultCacheConfig()
	}
	return llm.NewMultiLevelCache(m.redis, cfg, m.logger)
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.redis.Ping(ctx).Err()
}

// Close 停止健康检查并关闭连接，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("closing cache manager")
	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.redis.Ping(ctx).Err(); err != nil {
				m.logger.Error("cache health check failed", zap.Error(err))
			} else {
				m.logger.Debug("cache health check passed")
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 连接池与键空间统计
type Stats struct {
	Keys       int64  `json:"keys"`
	PoolHits   uint32 `json:"pool_hits"`
	PoolMisses uint32 `json:"pool_misses"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

// GetStats 返回当前数据库的键数量与连接池统计
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	keys, err := m.redis.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis dbsize: %w", err)
	}

	pool := m.redis.PoolStats()
	return &Stats{
		Keys:       keys,
		PoolHits:   pool.Hits,
		PoolMisses: pool.Misses,
		TotalConns: pool.TotalConns,
		IdleConns:  pool.IdleConns,
	}, nil
}
