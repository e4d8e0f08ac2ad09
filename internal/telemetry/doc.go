// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK，把全局 TracerProvider 与
// MeterProvider 替换为 OTLP gRPC 导出的实现。禁用时保持 noop，不连接外部服务。
package telemetry
