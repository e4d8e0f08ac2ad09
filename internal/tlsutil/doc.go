// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 集中管理 TLS 配置：provider 出站 HTTP 客户端使用 TLS 1.2+
// 与 AEAD 密码套件，HTTP 服务端可通过 ServerConfig 加载证书启用 HTTPS。
package tlsutil
