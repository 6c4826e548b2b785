package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentcrew/agent/crew"
)

// MockSink 是 crew.ArtifactSink 的模拟实现，保存收到的产物
type MockSink struct {
	mu        sync.Mutex
	name      string
	err       error
	published []*crew.Artifacts
}

// NewMockSink 创建新的 MockSink
func NewMockSink(name string) *MockSink {
	return &MockSink{name: name}
}

// WithError 设置 PublishRun 返回的错误
func (s *MockSink) WithError(err error) *MockSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Name 实现 crew.ArtifactSink
func (s *MockSink) Name() string { return s.name }

// PublishRun 实现 crew.ArtifactSink
func (s *MockSink) PublishRun(_ context.Context, a *crew.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, a)
	return s.err
}

// Published 返回收到的产物
func (s *MockSink) Published() []*crew.Artifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*crew.Artifacts, len(s.published))
	copy(out, s.published)
	return out
}
