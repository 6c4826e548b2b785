// Copyright (c) AgentCrew Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentCrew 治理层的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、internal
等上层模块提供统一的错误码与消息契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系：校验错误、限流、截止时间、查找失败
  - Message           — 发往外部对话引擎的消息（Content 可为空）

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewValidationError / NewRateLimitError / NewDeadlineError / NewNotFoundError
*/
package types
