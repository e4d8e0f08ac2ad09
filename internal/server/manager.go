package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// ErrClosed 服务器已关闭，不能再次启动
var ErrClosed = errors.New("server is closed")

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Manager 管理单个 http.Server 的监听、关闭与异步错误
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config 服务器配置
type Config struct {
	// Name 仅用于日志，如 "api" / "metrics"
	Name string `yaml:"name" json:"name"`

	Addr           string        `yaml:"addr" json:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`

	// MaxConnections 同时接受的连接上限，0 表示不限制
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// TLS 非 nil 时以 HTTPS 提供服务
	TLS *tls.Config `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewManager 创建服务器管理器，不会立即监听
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "http"
	}
	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
		TLSConfig:      config.TLS,
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", config.Name)),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 开始监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.listener != nil {
		return fmt.Errorf("server %s already started", m.config.Name)
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.config.MaxConnections)
	}
	if m.config.TLS != nil {
		ln = tls.NewListener(ln, m.config.TLS)
	}

	m.listener = ln
	m.logger.Info("starting server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.config.TLS != nil),
		zap.Int("max_connections", m.config.MaxConnections),
	)

	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭，最长等待 ShutdownTimeout。重复调用直接返回。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	m.logger.Info("shutting down server")
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("server shutdown failed", zap.Error(err))
		return err
	}
	m.listener = nil
	m.logger.Info("server stopped")
	return nil
}

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM、ctx 结束或服务异常退出，然后关闭服务器
func (m *Manager) WaitForShutdown(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		m.logger.Info("shutdown requested")
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors returns asynchronous serve errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning reports whether Shutdown has not been called.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
