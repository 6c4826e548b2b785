// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 delegation 记录 Worker 之间嵌套的任务委派。

# 概述

[Tracker] 维护一个进行中的委派栈（谁在等待谁）以及一片只增不删的
委派森林。StartDelegation 在栈顶之下挂一个待定节点；
CompleteDelegation / FailDelegation 自顶向下找到最近的同名待定节点，
写入终态后弹出；EndDelegation 只在名称与栈顶一致时弹出。

# 乱序完成

若完成的不是栈顶节点，位于其上的待定节点会以
[OrphanedResult] 标记为失败并一并弹出，栈中不会留下悬空节点。

# 渲染

Render 使用制表符连接线输出缩进树，状态符号为 ⏳ / ✅ / ❌，
名称与任务中的换行会被转义为字面量 \n、\r，任务摘要截断到 50 个字符。
*/
package delegation
