// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的运行指标镜像，覆盖
Worker、引擎调用、预算超限、归档与数据库几个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。NewCollector 注册到默认 Registry；
NewCollectorWithRegistry 可指定独立的 Registerer，便于测试隔离。
所有指标按 namespace 隔离。

# 主要能力

  - Worker 指标：回复数、Token 数（按 agent），工具调用（按 group/status），委派总数。
  - 引擎调用指标：按最终结果计数、耗时 Histogram（包含重试）、限流重试次数。
  - 运行级指标：预算超限（按 kind）、运行耗时（按 status）。
  - 归档指标：按 sink/status 的写入计数，快照缓存命中与未命中。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
