package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow"
	"github.com/BaSui01/taskflow/api/handlers"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/server"
	"github.com/BaSui01/taskflow/internal/telemetry"
	"github.com/BaSui01/taskflow/internal/tlsutil"
)

// skipAuthPaths 探针与版本信息不需要认证
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Server 组合 API 服务与独立的 Metrics 服务
type Server struct {
	cfg    *config.Config
	app    *taskflow.App
	logger *zap.Logger
	otel   *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager
	events         *handlers.EventsHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器，app 由调用方组装
func NewServer(cfg *config.Config, app *taskflow.App, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{cfg: cfg, app: app, logger: logger, otel: otel}
}

// Start 启动调度循环、API 服务与 Metrics 服务，均不阻塞
func (s *Server) Start(ctx context.Context) error {
	if err := s.app.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	if err := s.startHTTPServer(handler); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.Bool("tls", s.cfg.Server.TLSEnabled()),
	)
	return nil
}

// Handler 构建带完整中间件链的 API 处理器
func (s *Server) Handler() (http.Handler, error) {
	mux := s.routes()

	auth, err := s.authChecks()
	if err != nil {
		return nil, err
	}

	rlCtx, cancel := context.WithCancel(context.Background())
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	s.rateLimiterCancel = cancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rlCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		Authenticate(skipAuthPaths, s.logger, auth...),
		MetricsMiddleware(s.app.Metrics),
	), nil
}

// authChecks API Key 与 JWT 都配置时任一凭据有效即可
func (s *Server) authChecks() ([]credentialCheck, error) {
	var checks []credentialCheck
	if len(s.cfg.Server.APIKeys) > 0 {
		checks = append(checks, APIKeyCheck(s.cfg.Server.APIKeys, s.cfg.Server.AllowQueryAPIKey))
	}
	if s.cfg.Server.JWT.Enabled() {
		check, err := JWTCheck(s.cfg.Server.JWT)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	if len(checks) == 0 {
		s.logger.Warn("no API keys or JWT configured, API is unauthenticated")
	}
	return checks, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	orch := s.app.Orchestrator

	health := handlers.NewHealthHandler(s.logger)
	if s.app.Cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.app.Cache.Ping))
	}
	if s.app.DB != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.app.DB.Ping))
	}
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	tasks := handlers.NewTaskHandler(orch, s.logger)
	mux.HandleFunc("POST /api/v1/tasks", tasks.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks", tasks.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", tasks.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", tasks.HandleCancel)

	agents := handlers.NewAgentHandler(orch, s.logger)
	mux.HandleFunc("GET /api/v1/agents", agents.HandleList)
	mux.HandleFunc("GET /api/v1/agents/{id}", agents.HandleGet)

	stats := handlers.NewStatsHandler(orch, s.app.Router, s.logger)
	mux.HandleFunc("GET /api/v1/stats", stats.HandleStats)

	pipelines := handlers.NewPipelineHandler(orch, s.logger)
	mux.HandleFunc("GET /api/v1/pipelines", pipelines.HandleList)
	mux.HandleFunc("GET /api/v1/pipelines/{id}", pipelines.HandleGet)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/execute", pipelines.HandleExecute)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/cancel", pipelines.HandleCancel)

	exec := handlers.NewExecuteHandler(orch, s.logger)
	mux.HandleFunc("POST /api/v1/fanout", exec.HandleFanOut)
	mux.HandleFunc("POST /api/v1/autonomous", exec.HandleAutonomous)

	// 注意不能把 nil *history.Store 直接赋给接口
	var store handlers.HistoryStore
	if s.app.History != nil {
		store = s.app.History
	}
	history := handlers.NewHistoryHandler(store, s.logger)
	mux.HandleFunc("GET /api/v1/history", history.HandleList)
	mux.HandleFunc("GET /api/v1/history/{id}", history.HandleGet)

	s.events = handlers.NewEventsHandler(s.app.Bus, s.logger,
		handlers.WithOriginPatterns(originPatterns(s.cfg.Server.CORSAllowedOrigins)...))
	mux.HandleFunc("GET /api/v1/events", s.events.HandleEvents)

	return mux
}

// originPatterns websocket 的 OriginPatterns 只匹配 host 部分
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

func (s *Server) startHTTPServer(handler http.Handler) error {
	cfg := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConnections:  s.cfg.Server.MaxConnections,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	if s.cfg.Server.TLSEnabled() {
		tlsCfg, err := tlsutil.ServerConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
		if err != nil {
			return err
		}
		cfg.TLS = tlsCfg
	}

	s.httpManager = server.NewManager(handler, cfg, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown 阻塞到收到信号或 API 服务异常退出，然后关闭全部组件
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(ctx)
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Shutdown(shutdownCtx)
}

// Shutdown 先停止接收请求，再排空调度器，最后刷出遥测数据
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil && s.httpManager.IsRunning() {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if err := s.app.Shutdown(ctx); err != nil {
		s.logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
