// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 提供单次运行的执行指标聚合。

# 概述

[ExecutionTracker] 在运行开始时创建，累加每个 Worker 的回复数与 Token 数、
每个工具函数的调用/成功/失败次数（按 [InferToolGroup] 汇总为固定的工具组）、
委派次数以及四个超限标志。CompleteExecution 冻结耗时与结果，
此后的记录一律忽略。

# 工具组

按以下优先级做子串匹配，首个命中即为分组：
github、git、docker、aws、notion、file、memory、delegation、orchestration，
都不命中时归入 other。

# 持久化

Save 以临时文件加重命名的方式一次性写出完整快照，
未触及的计数均为零值或空集合。可选的 [WithCollector] 会把计数同步镜像到
Prometheus。
*/
package observability
