package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/taskflow/api/handlers"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 透传或生成 X-Request-ID，并写入 context
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// SecurityHeaders 通用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := types.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if sub, ok := types.Subject(r.Context()); ok {
				fields = append(fields, zap.String("subject", sub))
			}
			if rw.StatusCode >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// CORS 跨域中间件。未配置来源时不设置任何 CORS 头，预检请求返回 403。
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, allowed := originSet[origin]
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter 基于客户端 IP 的令牌桶限流。rps <= 0 时不限流。
// 空闲超过 3 分钟的 visitor 由后台 goroutine 清理，ctx 结束时退出。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = int(rps)
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				logger.Debug("rate limited", zap.String("ip", ip))
				w.Header().Set("Retry-After", "1")
				handlers.WriteError(w, types.NewError(types.ErrRateLimit, "too many requests").
					WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 认证
// =============================================================================

var errUnauthenticated = errors.New("missing credentials")

// credentialCheck 校验请求凭据，成功时返回携带身份信息的 context
type credentialCheck func(r *http.Request) (context.Context, error)

// Authenticate 依次尝试各凭据校验，任一通过即放行。skipPaths 不需要认证。
func Authenticate(skipPaths []string, logger *zap.Logger, checks ...credentialCheck) Middleware {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if len(checks) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			var lastErr error
			for _, check := range checks {
				ctx, err := check(r)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				if lastErr == nil || !errors.Is(err, errUnauthenticated) {
					lastErr = err
				}
			}
			logger.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(lastErr))
			msg := "invalid or missing credentials"
			if !errors.Is(lastErr, errUnauthenticated) {
				msg = "invalid or expired credentials"
			}
			handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, msg, nil)
		})
	}
}

// APIKeyCheck 校验 X-API-Key 头（allowQuery 时也接受 ?api_key=）
func APIKeyCheck(validKeys []string, allowQuery bool) credentialCheck {
	keys := make([][]byte, 0, len(validKeys))
	for _, k := range validKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return func(r *http.Request) (context.Context, error) {
		key := r.Header.Get("X-API-Key")
		if key == "" && allowQuery {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			return nil, errUnauthenticated
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
				return types.WithSubject(r.Context(), "api-key:"+fingerprint(key)), nil
			}
		}
		return nil, errors.New("unknown api key")
	}
}

// fingerprint 日志中只出现 key 的前缀
func fingerprint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// JWTCheck 校验 Authorization: Bearer 令牌，支持 HS256 与 RS256。
// sub 写入 types.WithSubject，roles 写入 types.WithRoles。
func JWTCheck(cfg config.JWTConfig) (credentialCheck, error) {
	var rsaKey *rsa.PublicKey
	if cfg.PublicKey != "" {
		block, _ := pem.Decode([]byte(cfg.PublicKey))
		if block == nil {
			return nil, errors.New("jwt: public key is not PEM encoded")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwt: parse public key: %w", err)
		}
		k, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("jwt: public key is not RSA")
		}
		rsaKey = k
	}
	secret := []byte(cfg.Secret)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	keyFunc := func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(secret) == 0 {
				return nil, errors.New("HMAC secret not configured")
			}
			return secret, nil
		case "RS256":
			if rsaKey == nil {
				return nil, errors.New("RSA public key not configured")
			}
			return rsaKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
	}

	return func(r *http.Request) (context.Context, error) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return nil, errUnauthenticated
		}
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, keyFunc); err != nil {
			return nil, err
		}

		ctx := r.Context()
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			ctx = types.WithSubject(ctx, sub)
		}
		if raw, ok := claims["roles"].([]any); ok {
			roles := make([]string, 0, len(raw))
			for _, v := range raw {
				if s, ok := v.(string); ok {
					roles = append(roles, s)
				}
			}
			if len(roles) > 0 {
				ctx = types.WithRoles(ctx, roles)
			}
		}
		return ctx, nil
	}, nil
}

// =============================================================================
// 指标与追踪
// =============================================================================

// routeLabel 优先使用 ServeMux 匹配到的路由模式，避免路径参数撑爆指标基数
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	return "unmatched"
}

// MetricsMiddleware 记录 HTTP 请求耗时、状态与大小。
// r.Pattern 由 mux 写入它收到的 *http.Request，所以该中间件必须紧贴 mux。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &sizeWriter{ResponseWriter: handlers.NewResponseWriter(w)}
			next.ServeHTTP(rw, r)

			reqSize := r.ContentLength
			if reqSize < 0 {
				reqSize = 0
			}
			collector.RecordHTTPRequest(r.Method, routeLabel(r), rw.status(), time.Since(start), reqSize, rw.bytes)
		})
	}
}

type sizeWriter struct {
	*handlers.ResponseWriter
	bytes int64
}

func (w *sizeWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *sizeWriter) status() int { return w.StatusCode }

// Unwrap 供 WebSocket 升级取得底层连接
func (w *sizeWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace context
func OTelTracing() Middleware {
	tracer := otel.Tracer("taskflow/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			if r.Pattern != "" {
				span.SetName(r.Method + " " + routeLabel(r))
			}
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}
