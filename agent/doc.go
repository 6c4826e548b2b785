// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 agent 提供角色模板、工作者实例以及它们之间的关联图。

# 概述

[Role] 是不可变的行为模板（名称、基础指令、描述、版本、工具组）。
[Worker] 是 Role 的可变实例，名称固定为 "{role_name}_{worker_id}"，
持有一份有界优先级记忆，并通过有向 [Associate] 边与其他 Worker 相连。

# 关联图

[Registry] 拥有全部 Worker，并保证正向边与反向引用始终双向一致：

  - SetAssociate / Connect：仅在不存在同名边时添加，反向引用幂等补齐
  - Disconnect：同时删除正向边与反向引用
  - Destroy：先按自身边清理目标的反向引用，再全表扫描清除残留引用
  - Clone：新编号、按值复制关联边，且永远不是发起者

编号由 Registry 持有的 [IDCounter] 分配，不存在进程级全局状态。

# 快照

[WorkerDump] 是 Worker 的可序列化形式，[Registry.RestoreAll]
可以从一组快照重建 Worker 与关联边。[Roster] 支持从 YAML 声明团队。
*/
package agent
