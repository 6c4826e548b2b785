package memory

import (
	"container/heap"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/agentcrew/types"
)

const (
	// DefaultMaxSize 默认保留条目数
	DefaultMaxSize = 20

	// MaxContentLength 单条内容的最大字符数，超出部分静默截断
	MaxContentLength = 1000
)

// Entry 记忆条目
type Entry struct {
	Content  string `json:"content" yaml:"content"`
	Priority int    `json:"priority" yaml:"priority"`
}

// Outcome 写入结果
type Outcome int

const (
	// Rejected 已满且优先级不高于当前最小值，存储未变化
	Rejected Outcome = iota
	// Stored 未满，直接写入
	Stored
	// Evicted 已满，写入并淘汰了一个最小条目
	Evicted
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Evicted:
		return "evicted"
	default:
		return "rejected"
	}
}

// Accepted 是否写入成功
func (o Outcome) Accepted() bool {
	return o != Rejected
}

// entryHeap 按优先级排列的最小堆
type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Priority < h[j].Priority }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Memory 有界优先级记忆
type Memory struct {
	mu      sync.RWMutex
	maxSize int
	entries entryHeap
}

// New 创建有界记忆，maxSize <= 0 时使用 DefaultMaxSize
func New(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Memory{
		maxSize: maxSize,
		entries: make(entryHeap, 0, maxSize),
	}
}

// MaxSize 返回容量
func (m *Memory) MaxSize() int {
	return m.maxSize
}

// Store 写入一条记忆
func (m *Memory) Store(content string, priority int) (Outcome, error) {
	content = normalize(content)
	if content == "" {
		return Rejected, types.NewValidationError("memory content must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := Entry{Content: content, Priority: priority}

	if m.entries.Len() < m.maxSize {
		heap.Push(&m.entries, entry)
		return Stored, nil
	}

	// 已满：仅当严格大于当前最小值时替换堆顶
	if priority <= m.entries[0].Priority {
		return Rejected, nil
	}
	m.entries[0] = entry
	heap.Fix(&m.entries, 0)
	return Evicted, nil
}

// All 返回全部条目，按优先级降序
func (m *Memory) All() []Entry {
	m.mu.RLock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Min 返回当前最小优先级条目
func (m *Memory) Min() (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[0], true
}

// Count 返回条目数
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear 清空记忆
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}

// normalize 去除首尾空白并按字符截断
func normalize(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > MaxContentLength {
		content = string(runes[:MaxContentLength])
	}
	return content
}
