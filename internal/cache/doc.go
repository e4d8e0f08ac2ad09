// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
包 cache 管理 Redis 连接。

Manager 在创建时 PING 一次，失败即返回错误；之后可按配置周期检查连接。
ResponseCache 基于同一个客户端构造 llm.MultiLevelCache，
Router 用它按请求 ID 缓存归一化后的响应。GetStats 返回键数量与连接池统计，
供就绪检查展示。
*/
package cache
