// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 crew 把治理层的各个部件串成一次完整的运行。

# 概述

Crew 持有工作者注册表、外部引擎、重试器、时间预算调度器、委派树和
运行指标。它本身不生成任何对话内容，只负责对引擎调用和工作者之间的
委派做记账与约束。

# 主要能力

  - Act：经重试器调用引擎，只记录最终结果，再把回复交给时间预算调度器打标签。
  - Delegate：校验同事关系与最大委派深度，用委派树包住子任务。
  - Finish：冻结指标，并发写出 metrics.json、delegation_tree.txt、
    workers.json，并推送到配置的归档端（数据库、Redis）。

# 与其他包协同

引擎通过 Engine 接口注入；归档端实现 ArtifactSink，
internal/database 与 internal/cache 各提供一个实现。
*/
package crew
