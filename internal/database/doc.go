// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供运行归档的 SQL 存储：GORM 连接池管理与运行仓库。

# 概述

运行结束时，crew 把指标快照、委派树与工作者快照交给 RunRepository，
它在一个事务里写入 runs 与 run_workers 两张表。SQLite 通过
glebarez/sqlite（纯 Go，无需 cgo），另支持 PostgreSQL 与 MySQL。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Stats、Close；
    后台健康检查把连接数写入 Prometheus。
  - RunRepository：实现 crew.ArtifactSink，提供 Migrate、SaveRun、
    LoadRun、ListRuns、DeleteRun。
  - RunRecord / RunWorkerRecord：归档表模型。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 在死锁、
序列化失败、SQLite 忙等可重试错误上做指数退避。
*/
package database
