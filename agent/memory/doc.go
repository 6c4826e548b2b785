// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 提供工作者的有界优先级记忆。

# 概述

每个 Worker 持有一个 [Memory]，只保留优先级最高的 K 条笔记
（默认 K = 20）。这是经典的 Top-K 选择问题：内部使用二叉最小堆，
插入与淘汰为 O(log K)，判定新条目能否进入为 O(1)。

# 核心类型

  - [Memory]：有界优先级记忆，提供 Store / All / Clear / Count / Min
  - [Entry]：记忆条目，包含内容与优先级
  - [Outcome]：写入结果（Stored / Evicted / Rejected）

# 写入规则

  - 空白内容直接返回校验错误
  - 内容去除首尾空白后截断到 [MaxContentLength] 个字符
  - 未满时总是接受；已满时仅当优先级严格大于当前最小值才接受，
    并恰好淘汰一个最小条目，否则拒绝且不做任何修改
*/
package memory
