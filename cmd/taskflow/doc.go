// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 TaskFlow 服务端程序入口。

# 子命令

	taskflow serve --config config.yaml   # 启动 API 与 Metrics 服务
	taskflow pipelines --config config.yaml
	taskflow health --addr http://localhost:8080
	taskflow version

# 中间件链

请求依次经过 Recovery、RequestID、OTelTracing、SecurityHeaders、
RequestLogger、CORS、RateLimiter、Authenticate、MetricsMiddleware，
最后到达按方法与路径注册的 http.ServeMux。

Authenticate 接受 X-API-Key 或 Bearer JWT（HS256 / RS256），两者都配置时
任一有效即放行。JWT 的 sub 与 roles 声明写入请求 context。

# 关闭顺序

收到 SIGINT/SIGTERM 后先关闭 API 服务，再排空调度器并关闭缓存与数据库，
随后关闭 Metrics 服务并刷出遥测数据。
*/
package main
