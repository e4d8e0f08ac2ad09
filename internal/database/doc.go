// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开任务归档使用的关系数据库。

Open 根据 config.DatabaseConfig 选择 postgres、mysql 或纯 Go sqlite 方言，
并交给 PoolManager 管理连接池参数、周期健康检查与事务重试。
健康检查通过 StatsObserver 上报连接数，metrics.Collector 满足该接口。
*/
package database
