package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/taskflow/config"
)

// ErrClosed 连接池已关闭
var ErrClosed = errors.New("database pool is closed")

// =============================================================================
// 🔌 打开连接
// =============================================================================

// Dialector 根据配置选择 gorm 方言。sqlite 使用纯 Go 实现，无需 CGO。
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		if dsn == "" {
			return nil, errors.New("sqlite requires a database file name")
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open 打开数据库并返回已配置连接池的 PoolManager
func Open(cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*PoolManager, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pool := PoolConfigFrom(cfg)
	if cfg.Driver == "sqlite" {
		// sqlite 只允许单写连接
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	return NewPoolManager(db, pool, logger, append([]Option{WithName(cfg.Driver)}, opts...)...)
}

// =============================================================================
// 🗄️ 连接池管理器
// =============================================================================

// StatsObserver 接收周期性的连接池统计
type StatsObserver interface {
	RecordDBConnections(database string, open, idle int)
}

// Option 配置 PoolManager
type Option func(*PoolManager)

// WithName 设置统计上报使用的数据库名
func WithName(name string) Option {
	return func(pm *PoolManager) { pm.name = name }
}

// WithStatsObserver 健康检查时同时上报连接数
func WithStatsObserver(o StatsObserver) Option {
	return func(pm *PoolManager) { pm.observer = o }
}

// PoolManager 持有 gorm 实例与底层 sql.DB
type PoolManager struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	config   PoolConfig
	name     string
	observer StatsObserver
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 0 表示不做周期检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        25,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// PoolConfigFrom 用应用配置覆盖默认值，零值字段保留默认
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return pc
}

// Validate 检查连接数配置
func (c PoolConfig) Validate() error {
	if c.MaxOpenConns <= 0 {
		return errors.New("max_open_conns must be positive")
	}
	if c.MaxIdleConns <= 0 {
		return errors.New("max_idle_conns must be positive")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns must not exceed max_open_conns")
	}
	return nil
}

// NewPoolManager 应用连接池参数，HealthCheckInterval > 0 时启动后台检查
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger, opts ...Option) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		name:   db.Dialector.Name(),
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pm)
	}

	if config.HealthCheckInterval > 0 {
		go pm.healthCheckLoop()
	} else {
		close(pm.done)
	}

	pm.logger.Info("database pool initialized",
		zap.String("database", pm.name),
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)
	return pm, nil
}

// DB 返回 gorm 实例
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Name 返回数据库名（驱动名）
func (pm *PoolManager) Name() string {
	return pm.name
}

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return ErrClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回 database/sql 原始统计
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 停止健康检查并关闭连接池，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.mu.Unlock()

	<-pm.done
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (pm *PoolManager) healthCheckLoop() {
	defer close(pm.done)

	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.checkOnce()
		}
	}
}

func (pm *PoolManager) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pm.sqlDB.PingContext(ctx); err != nil {
		pm.logger.Error("database health check failed", zap.Error(err))
		return
	}
	stats := pm.Stats()
	if pm.observer != nil {
		pm.observer.RecordDBConnections(pm.name, stats.OpenConnections, stats.Idle)
	}
	pm.logger.Debug("database health check passed",
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
	)
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolStats 连接池统计，供 /api/v1/stats 输出
type PoolStats struct {
	Database           string        `json:"database"`
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetStats 返回连接池统计
func (pm *PoolManager) GetStats() PoolStats {
	stats := pm.Stats()
	return PoolStats{
		Database:           pm.name,
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TransactionFunc 事务回调，返回错误时回滚
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在单个事务中执行 fn
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 可重试错误（死锁、序列化失败、连接中断、库锁定）按指数退避重试，
// 最多执行 maxAttempts 次
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, maxAttempts int, fn TransactionFunc) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		err := pm.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return err
		}
		if i == maxAttempts-1 {
			break
		}

		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(i)) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxAttempts, lastErr)
}

var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"connection reset",
	"connection refused",
	"broken pipe",
	"lock timeout",
	"lock wait timeout",
	"bad connection",
	"database is locked",
	"sqlite_busy",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
