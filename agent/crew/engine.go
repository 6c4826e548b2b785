package crew

import (
	"context"

	"github.com/BaSui01/agentcrew/types"
)

// Engine 外部对话引擎。治理层只关心调用结果，不关心内容如何生成。
// 限流错误请用 retry.WrapRateLimit 包装或返回 RATE_LIMIT 错误码，其余错误不会重试。
type Engine interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// EngineFunc 函数适配器
type EngineFunc func(ctx context.Context, req Request) (*Reply, error)

// Generate 实现 Engine
func (f EngineFunc) Generate(ctx context.Context, req Request) (*Reply, error) {
	return f(ctx, req)
}

// Request 一次引擎调用的输入
type Request struct {
	Worker       string          `json:"worker"`
	Instructions string          `json:"instructions"`
	Messages     []types.Message `json:"messages"`
}

// Reply 引擎回复。Content 可以是 string、types.Message、*types.Message、
// map[string]any 或 nil；Tokens 为 0 时由分词器估算。
type Reply struct {
	Content   any        `json:"content"`
	Tokens    int        `json:"tokens,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall 回复中执行过的一次工具调用
type ToolCall struct {
	Function string `json:"function"`
	Success  bool   `json:"success"`
}
