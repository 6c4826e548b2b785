// =============================================================================
// 🤖 MockEngine - 外部对话引擎模拟实现
// =============================================================================
// 按脚本依次返回回复或错误，记录每次调用
//
// 使用方法:
//
//	engine := mocks.NewMockEngine().
//	    WithReplies("hello", "world").
//	    WithErrorAt(0, retry.WrapRateLimit(errors.New("429")))
//	c, _ := crew.New(cfg, reg, engine, logger)
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcrew/agent/crew"
)

// =============================================================================
// 🎯 MockEngine 结构
// =============================================================================

// MockEngine 是 crew.Engine 的模拟实现
type MockEngine struct {
	mu sync.Mutex

	// 脚本
	replies []*crew.Reply
	errs    map[int]error

	// 默认回复（脚本用完后）
	fallback *crew.Reply

	// 行为控制
	delay        time.Duration
	generateFunc func(ctx context.Context, req crew.Request) (*crew.Reply, error)

	// 调用记录
	calls []crew.Request
}

// =============================================================================
// 🔧 构造函数和 Builder 方法
// =============================================================================

// NewMockEngine 创建新的 MockEngine
func NewMockEngine() *MockEngine {
	return &MockEngine{
		errs:     make(map[int]error),
		fallback: &crew.Reply{Content: "Mock response"},
	}
}

// WithReplies 追加按顺序返回的文本回复
func (m *MockEngine) WithReplies(contents ...string) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.replies = append(m.replies, &crew.Reply{Content: c})
	}
	return m
}

// WithReply 追加一条完整回复
func (m *MockEngine) WithReply(reply *crew.Reply) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply)
	return m
}

// WithErrorAt 第 n 次调用（从 0 开始）返回错误
func (m *MockEngine) WithErrorAt(n int, err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[n] = err
	return m
}

// WithFallback 设置脚本耗尽后的回复
func (m *MockEngine) WithFallback(reply *crew.Reply) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = reply
	return m
}

// WithDelay 每次调用前等待 d，ctx 结束时提前返回
func (m *MockEngine) WithDelay(d time.Duration) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGenerateFunc 设置自定义 Generate 函数，优先于脚本
func (m *MockEngine) WithGenerateFunc(fn func(ctx context.Context, req crew.Request) (*crew.Reply, error)) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// =============================================================================
// 🔌 Engine 接口实现
// =============================================================================

// Generate 实现 crew.Engine
func (m *MockEngine) Generate(ctx context.Context, req crew.Request) (*crew.Reply, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	delay := m.delay
	fn := m.generateFunc
	err := m.errs[n]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) > 0 {
		reply := m.replies[0]
		m.replies = m.replies[1:]
		return reply, nil
	}
	return m.fallback, nil
}

// =============================================================================
// 🔍 调用记录
// =============================================================================

// CallCount 返回调用次数
func (m *MockEngine) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回全部调用请求的副本
func (m *MockEngine) Calls() []crew.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crew.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall 返回最后一次调用
func (m *MockEngine) LastCall() (crew.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return crew.Request{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
