package delegation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcrew/internal/fsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status 委派节点状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Glyph 渲染时使用的状态符号
func (s Status) Glyph() string {
	switch s {
	case StatusCompleted:
		return "✅"
	case StatusFailed:
		return "❌"
	default:
		return "⏳"
	}
}

const (
	// TaskSummaryLength 渲染时任务摘要的最大字符数
	TaskSummaryLength = 50

	// OrphanedResult 被强制关闭的上层节点的结果
	OrphanedResult = "orphaned: parent delegation closed"
)

// Node 一次委派
type Node struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	AgentName string    `json:"agent_name"`
	Task      string    `json:"task_description"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Children  []*Node   `json:"children,omitempty"`

	parent *Node
}

// Parent 父节点，根节点为 nil
func (n *Node) Parent() *Node { return n.parent }

// Summary 节点计数
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Tracker 记录进行中的委派栈以及完整的委派森林。
// 调用方应先结束子委派再结束父委派；乱序完成时，
// 栈中位于目标之上的待定节点会被标记为失败并弹出。
type Tracker struct {
	mu        sync.RWMutex
	roots     []*Node
	stack     []*Node
	rootAgent string
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker 创建委派追踪器
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger: logger.With(zap.String("component", "delegation_tracker")),
		now:    time.Now,
	}
}

// StartDelegation 压入一个待定节点并返回其 ID
func (t *Tracker) StartDelegation(from, to, task string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootAgent == "" {
		t.rootAgent = from
	}

	node := &Node{
		ID:        uuid.NewString(),
		From:      from,
		AgentName: to,
		Task:      task,
		Status:    StatusPending,
		Timestamp: t.now(),
	}

	if len(t.stack) == 0 {
		t.roots = append(t.roots, node)
	} else {
		top := t.stack[len(t.stack)-1]
		node.parent = top
		top.Children = append(top.Children, node)
	}
	t.stack = append(t.stack, node)

	t.logger.Debug("delegation started",
		zap.String("from", from), zap.String("to", to), zap.Int("depth", len(t.stack)))
	return node.ID
}

// CompleteDelegation 将 name 最近的待定节点标记为完成
func (t *Tracker) CompleteDelegation(name, result string) bool {
	return t.finish(name, StatusCompleted, result)
}

// FailDelegation 将 name 最近的待定节点标记为失败
func (t *Tracker) FailDelegation(name string, err error) bool {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return t.finish(name, StatusFailed, msg)
}

func (t *Tracker) finish(name string, status Status, result string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := len(t.stack) - 1; i >= 0; i-- {
		if n := t.stack[i]; n.AgentName == name && n.Status == StatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.logger.Warn("no pending delegation to close", zap.String("agent", name), zap.String("status", string(status)))
		return false
	}

	for i := len(t.stack) - 1; i > idx; i-- {
		orphan := t.stack[i]
		if orphan.Status == StatusPending {
			orphan.Status = StatusFailed
			orphan.Result = OrphanedResult
			t.logger.Warn("force-closing orphaned delegation",
				zap.String("agent", orphan.AgentName), zap.String("parent", name))
		}
	}

	node := t.stack[idx]
	node.Status = status
	node.Result = result
	t.stack = t.stack[:idx]
	return true
}

// EndDelegation 仅当栈顶为 name 时弹出，否则记录警告
func (t *Tracker) EndDelegation(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.stack) == 0 {
		t.logger.Warn("end delegation on empty stack", zap.String("agent", name))
		return false
	}
	top := t.stack[len(t.stack)-1]
	if top.AgentName != name {
		t.logger.Warn("end delegation does not match top of stack",
			zap.String("agent", name), zap.String("top", top.AgentName))
		return false
	}
	t.stack = t.stack[:len(t.stack)-1]
	return true
}

// HasDelegations 是否记录过委派
func (t *Tracker) HasDelegations() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roots) > 0
}

// RootAgent 首个发起委派的 Worker
func (t *Tracker) RootAgent() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootAgent
}

// Depth 当前进行中的委派层数
func (t *Tracker) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stack)
}

// Current 栈顶节点的 Worker 名称
func (t *Tracker) Current() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.stack) == 0 {
		return "", false
	}
	return t.stack[len(t.stack)-1].AgentName, true
}

// Roots 返回森林的根节点（只读使用）
func (t *Tracker) Roots() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, len(t.roots))
	copy(out, t.roots)
	return out
}

// Summary 递归统计全部节点
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Summary
	var walk func(n *Node)
	walk = func(n *Node) {
		s.Total++
		switch n.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range t.roots {
		walk(r)
	}
	return s
}

// Render 以树形文本展示委派森林
func (t *Tracker) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.roots) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(escape(t.rootAgent))
	b.WriteString("\n")
	for i, r := range t.roots {
		renderNode(&b, r, "", i == len(t.roots)-1)
	}
	return b.String()
}

func renderNode(b *strings.Builder, n *Node, prefix string, last bool) {
	connector, childPrefix := "├── ", "│   "
	if last {
		connector, childPrefix = "└── ", "    "
	}
	fmt.Fprintf(b, "%s%s%s %s: %s\n", prefix, connector, n.Status.Glyph(), escape(n.AgentName), summarize(n.Task))
	for i, c := range n.Children {
		renderNode(b, c, prefix+childPrefix, i == len(n.Children)-1)
	}
}

// WriteFile 仅在存在委派时写出树形文本
func (t *Tracker) WriteFile(path string) (bool, error) {
	if !t.HasDelegations() {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(path, []byte(t.Render()), 0o644); err != nil {
		return false, fmt.Errorf("write delegation tree: %w", err)
	}
	return true, nil
}

var escaper = strings.NewReplacer("\n", `\n`, "\r", `\r`)

func escape(s string) string {
	return escaper.Replace(s)
}

// summarize 转义换行后截断到 TaskSummaryLength 个字符
func summarize(task string) string {
	runes := []rune(escape(strings.TrimSpace(task)))
	if len(runes) <= TaskSummaryLength {
		return string(runes)
	}
	return string(runes[:TaskSummaryLength]) + "..."
}
