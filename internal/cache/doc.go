// 版权所有 2024 AgentCrew Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供运行归档的 Redis 端。

# 概述

Manager 封装 go-redis 客户端，负责连接、健康检查、键前缀与优雅关闭；
RunArchive 在其上实现 crew.ArtifactSink，运行结束时把产物写入 Redis，
供其他进程在过期前快速读取。

# 键布局

  - {prefix}run:{id}:metrics：指标快照 JSON
  - {prefix}run:{id}:tree：委派树文本（仅当存在委派）
  - {prefix}run:{id}:workers：哈希，字段为工作者名，值为快照 JSON

三者在一个 MULTI/EXEC 事务里写入并共享过期时间。

# 错误语义

未命中返回 ErrCacheMiss（IsCacheMiss 判断），关闭后返回 ErrClosed。
命中与未命中计入 Prometheus。
*/
package cache
