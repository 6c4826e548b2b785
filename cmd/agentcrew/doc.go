// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 AgentCrew 的命令行入口。

# 概述

cmd/agentcrew 不连接任何模型服务。它围绕治理层提供离线工具：
校验花名册、用本地回显引擎彩排一次完整运行、迁移运行归档表、
以及从数据库或 Redis 读回归档的运行。

# 子命令

  - validate  加载配置与花名册，检查关联图一致性，可打印每个工作者的指令
  - rehearse  按时间预算驱动发起者发言并轮流委派，写出产物并发布到归档端
  - migrate   用 GORM AutoMigrate 创建 runs 与 run_workers 表
  - inspect   按运行 ID 读取归档，输出摘要或 JSON
  - version   输出 ldflags 注入的 Version、BuildTime、GitCommit

# 可观测性

日志使用 zap，按 log 配置构建。rehearse 在 metrics.enabled 时创建独立的
Prometheus 注册表，--metrics-addr 可在彩排期间暴露 /metrics；
telemetry.enabled 时通过 OTLP 导出追踪与指标。
*/
package main
