// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP 服务器生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，MaxConnections 通过
netutil.LimitListener 限制并发连接，Config.TLS 非空时以 HTTPS 提供服务。
Shutdown 在 ShutdownTimeout 内排空请求，WaitForShutdown 响应
SIGINT/SIGTERM 或 context 取消。API 服务与 metrics 服务各用一个 Manager。
*/
package server
