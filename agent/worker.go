package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentcrew/agent/memory"
)

// RelationshipColleague SetAssociate 使用的默认关系标签
const RelationshipColleague = "colleague"

// Associate 有向关联边：源 Worker → Name
type Associate struct {
	Name         string `json:"name" yaml:"name"`
	Relationship string `json:"relationship" yaml:"relationship"`
}

// Runtime 构造后挂载的运行时配置，不影响结构有效性
type Runtime struct {
	WorkDir     string
	Credentials any
	TestMode    bool
}

// WorkerOptions 创建 Worker 的选项
type WorkerOptions struct {
	// ID 显式指定编号；0 表示按角色自动分配
	ID int
	// Initiator 是否为发起者
	Initiator bool
}

// Worker Role 的可变实例，参与关联图
type Worker struct {
	mu sync.RWMutex

	role      *Role
	id        int
	initiator bool

	associates     []Associate
	associatedFrom []string
	memory         *memory.Memory

	registry    *Registry
	runtime     Runtime
	initialized bool

	workerAgent     any
	executorAgent   any
	toolsRegistered bool
}

func newWorker(role *Role, id int, initiator bool, memorySize int) *Worker {
	return &Worker{
		role:      role,
		id:        id,
		initiator: initiator,
		memory:    memory.New(memorySize),
	}
}

// WorkerName 由角色名与编号组成全局唯一名称
func WorkerName(roleName string, id int) string {
	return fmt.Sprintf("%s_%d", roleName, id)
}

func (w *Worker) Name() string           { return WorkerName(w.role.Name(), w.id) }
func (w *Worker) ID() int                { return w.id }
func (w *Worker) Role() *Role            { return w.role }
func (w *Worker) IsInitiator() bool      { return w.initiator }
func (w *Worker) Memory() *memory.Memory { return w.memory }

// Associates 返回关联边副本
func (w *Worker) Associates() []Associate {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Associate, len(w.associates))
	copy(out, w.associates)
	return out
}

// AssociatedFrom 返回指向本 Worker 的名称列表副本
func (w *Worker) AssociatedFrom() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.associatedFrom))
	copy(out, w.associatedFrom)
	return out
}

// HasAssociate 是否存在指向 name 的边
func (w *Worker) HasAssociate(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexOfAssociateLocked(name) >= 0
}

// Remember 写入一条记忆
func (w *Worker) Remember(content string, priority int) (memory.Outcome, error) {
	return w.memory.Store(content, priority)
}

// Init 挂载运行时配置
func (w *Worker) Init(rt Runtime) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runtime = rt
	w.initialized = true
}

// Runtime 返回运行时配置，以及是否已 Init
func (w *Worker) Runtime() (Runtime, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runtime, w.initialized
}

// Registry 返回所属注册表，销毁后为 nil
func (w *Worker) Registry() *Registry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.registry
}

// BindAgents 绑定外部引擎创建的对话代理与执行代理句柄
func (w *Worker) BindAgents(workerAgent, executorAgent any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workerAgent = workerAgent
	w.executorAgent = executorAgent
}

// MarkToolsRegistered 标记工具已注册到外部引擎
func (w *Worker) MarkToolsRegistered() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.toolsRegistered = true
}

// Instructions 组合系统指令：角色前言、基础指令、关联者、记忆
func (w *Worker) Instructions() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a professional %s.", w.role.Name())
	b.WriteString("\n\n")
	b.WriteString(w.role.BaseInstructions())

	if associates := w.Associates(); len(associates) > 0 {
		b.WriteString("\n\n## Associates\n")
		for _, a := range associates {
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Relationship)
		}
	}

	if entries := w.memory.All(); len(entries) > 0 {
		b.WriteString("\n\n## Memories\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e.Content)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// indexOfAssociateLocked 调用方需持有 w.mu
func (w *Worker) indexOfAssociateLocked(name string) int {
	for i, a := range w.associates {
		if a.Name == name {
			return i
		}
	}
	return -1
}
