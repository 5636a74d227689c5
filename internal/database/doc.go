// Copyright (c) FlowPilot Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，为 SQL 状态存储
统一 postgres、mysql、sqlite 三种驱动的打开方式与事务重试。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数
    与连接最大生命周期。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 驱动选择：Dialector/Open 按驱动名构建方言，sqlite 使用纯 Go 实现。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 借助 backoff 指数退避重试瞬时错误。
*/
package database
