// Package config 提供 AgentCrew 的配置管理功能。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 AGENTCREW）。
// 覆盖运行参数、记忆容量、重试策略、存储、指标、日志与遥测。
package config
