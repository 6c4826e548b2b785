package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentcrew/agent/memory"
	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
)

// IDCounter 按角色名分配 Worker 编号，并发安全
type IDCounter struct {
	mu   sync.Mutex
	last map[string]int
}

// NewIDCounter 创建编号计数器
func NewIDCounter() *IDCounter {
	return &IDCounter{last: make(map[string]int)}
}

// Next 返回角色的下一个编号（从 1 开始）
func (c *IDCounter) Next(roleName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[roleName]++
	return c.last[roleName]
}

// Observe 确保后续自动编号大于 id
func (c *IDCounter) Observe(roleName string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id > c.last[roleName] {
		c.last[roleName] = id
	}
}

// CloneOptions Clone 的可选参数
type CloneOptions struct {
	// ID 显式编号；0 表示自动分配
	ID int
	// Role 替换角色；nil 表示沿用源 Worker 的角色
	Role *Role
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithMemorySize 设置新 Worker 的记忆容量
func WithMemorySize(n int) RegistryOption {
	return func(r *Registry) { r.memorySize = n }
}

// WithIDCounter 共享外部计数器
func WithIDCounter(c *IDCounter) RegistryOption {
	return func(r *Registry) { r.ids = c }
}

// Registry 持有 Worker 并维护关联图的双向一致性
type Registry struct {
	mu         sync.RWMutex
	workers    map[string]*Worker
	order      []string
	ids        *IDCounter
	memorySize int
	logger     *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		workers:    make(map[string]*Worker),
		ids:        NewIDCounter(),
		memorySize: memory.DefaultMaxSize,
		logger:     logger.With(zap.String("component", "worker_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWorker 实例化 Role 并注册
func (r *Registry) NewWorker(role *Role, opts WorkerOptions) (*Worker, error) {
	if role == nil {
		return nil, types.NewValidationError("role must not be nil")
	}
	if opts.ID < 0 {
		return nil, types.NewValidationError("worker_id must be positive, got %d", opts.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(role, opts.ID, opts.Initiator)
}

func (r *Registry) addLocked(role *Role, id int, initiator bool) (*Worker, error) {
	if id == 0 {
		// 跳过已被显式占用的编号
		for {
			id = r.ids.Next(role.Name())
			if _, taken := r.workers[WorkerName(role.Name(), id)]; !taken {
				break
			}
		}
	} else {
		r.ids.Observe(role.Name(), id)
	}

	name := WorkerName(role.Name(), id)
	if _, exists := r.workers[name]; exists {
		return nil, types.NewError(types.ErrDuplicateName, fmt.Sprintf("worker %q already registered", name)).
			WithCause(ErrDuplicateWorker)
	}

	w := newWorker(role, id, initiator, r.memorySize)
	w.registry = r
	r.workers[name] = w
	r.order = append(r.order, name)

	r.logger.Debug("worker registered", zap.String("worker", name), zap.Bool("initiator", initiator))
	return w, nil
}

// Get 按名称查找 Worker
func (r *Registry) Get(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Workers 按注册顺序返回全部 Worker
func (r *Registry) Workers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.workers[name])
	}
	return out
}

// Len 已注册数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Initiator 返回首个发起者
func (r *Registry) Initiator() (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if w := r.workers[name]; w.initiator {
			return w, true
		}
	}
	return nil, false
}

// SetAssociate 从 from 到 to 添加 colleague 边
func (r *Registry) SetAssociate(from, to string) error {
	return r.Connect(from, to, RelationshipColleague)
}

// Connect 添加带关系标签的边。
// 已存在指向 to 的边时保留原标签；反向引用总是补齐。
func (r *Registry) Connect(from, to, relationship string) error {
	if from == to {
		return types.NewValidationError("worker %q cannot associate with itself", from).WithCause(ErrSelfAssociate)
	}
	if relationship == "" {
		relationship = RelationshipColleague
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := r.lookupLocked(from)
	if err != nil {
		return err
	}
	dst, err := r.lookupLocked(to)
	if err != nil {
		return err
	}
	if added := addEdge(src, dst, relationship); added {
		r.logger.Debug("associate edge added",
			zap.String("from", from), zap.String("to", to), zap.String("relationship", relationship))
	}
	return nil
}

// Disconnect 删除 from → to 的边及其反向引用
func (r *Registry) Disconnect(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := r.lookupLocked(from)
	if err != nil {
		return err
	}
	dst, ok := r.workers[to]
	if !ok {
		r.logger.Warn("disconnect target not found, dropping forward edge only",
			zap.String("from", from), zap.String("to", to))
		src.mu.Lock()
		src.associates = removeAssociate(src.associates, to)
		src.mu.Unlock()
		return nil
	}
	removeEdge(src, dst)
	return nil
}

// Destroy 拆除指向该 Worker 的全部正向边和反向引用后移除。
// 查找失败只记录警告，不中断拆除。
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.lookupLocked(name)
	if err != nil {
		return err
	}

	w.mu.Lock()
	own := w.associates
	w.associates = nil
	w.mu.Unlock()

	for _, a := range own {
		target, ok := r.workers[a.Name]
		if !ok {
			r.logger.Warn("associate target not found during destroy",
				zap.String("worker", name), zap.String("associate", a.Name))
			continue
		}
		target.mu.Lock()
		target.associatedFrom = removeString(target.associatedFrom, name)
		target.mu.Unlock()
	}

	// 全表扫描：清掉其他 Worker 中残留的引用
	for other, ow := range r.workers {
		if other == name {
			continue
		}
		ow.mu.Lock()
		ow.associatedFrom = removeString(ow.associatedFrom, name)
		ow.associates = removeAssociate(ow.associates, name)
		ow.mu.Unlock()
	}

	w.mu.Lock()
	w.associatedFrom = nil
	w.registry = nil
	w.mu.Unlock()

	delete(r.workers, name)
	r.order = removeString(r.order, name)

	r.logger.Debug("worker destroyed", zap.String("worker", name))
	return nil
}

// Clone 复制 Worker：新编号，关联边按值复制，永不为发起者。
// 记忆不复制。
func (r *Registry) Clone(name string, opts CloneOptions) (*Worker, error) {
	if opts.ID < 0 {
		return nil, types.NewValidationError("worker_id must be positive, got %d", opts.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := r.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	role := opts.Role
	if role == nil {
		role = src.role
	}

	clone, err := r.addLocked(role, opts.ID, false)
	if err != nil {
		return nil, err
	}

	for _, a := range src.Associates() {
		if a.Name == clone.Name() {
			continue
		}
		target, ok := r.workers[a.Name]
		if !ok {
			r.logger.Warn("associate target not found during clone",
				zap.String("worker", name), zap.String("associate", a.Name))
			continue
		}
		addEdge(clone, target, a.Relationship)
	}
	return clone, nil
}

// CheckConsistency 校验每条正向边都有对应的反向引用，反之亦然
func (r *Registry) CheckConsistency() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w := r.workers[name]
		for _, a := range w.Associates() {
			target, ok := r.workers[a.Name]
			if !ok {
				return fmt.Errorf("%w: %s -> %s: target not registered", ErrGraphInconsistent, name, a.Name)
			}
			if !containsString(target.AssociatedFrom(), name) {
				return fmt.Errorf("%w: %s -> %s: missing back-reference", ErrGraphInconsistent, name, a.Name)
			}
		}
		for _, from := range w.AssociatedFrom() {
			source, ok := r.workers[from]
			if !ok {
				return fmt.Errorf("%w: %s <- %s: source not registered", ErrGraphInconsistent, name, from)
			}
			if !source.HasAssociate(name) {
				return fmt.Errorf("%w: %s <- %s: missing forward edge", ErrGraphInconsistent, name, from)
			}
		}
	}
	return nil
}

func (r *Registry) lookupLocked(name string) (*Worker, error) {
	w, ok := r.workers[name]
	if !ok {
		r.logger.Warn("worker not found", zap.String("worker", name))
		return nil, types.NewNotFoundError("worker %q not found", name).WithCause(ErrWorkerNotFound)
	}
	return w, nil
}

// =============================================================================
// 🔗 关联边操作（调用方持有 Registry.mu）
// =============================================================================

// addEdge 仅在不存在指向 dst 的边时添加，反向引用幂等补齐
func addEdge(src, dst *Worker, relationship string) bool {
	srcName := src.Name()

	src.mu.Lock()
	added := false
	if src.indexOfAssociateLocked(dst.Name()) < 0 {
		src.associates = append(src.associates, Associate{Name: dst.Name(), Relationship: relationship})
		added = true
	}
	src.mu.Unlock()

	dst.mu.Lock()
	if !containsString(dst.associatedFrom, srcName) {
		dst.associatedFrom = append(dst.associatedFrom, srcName)
	}
	dst.mu.Unlock()
	return added
}

func removeEdge(src, dst *Worker) {
	src.mu.Lock()
	src.associates = removeAssociate(src.associates, dst.Name())
	src.mu.Unlock()

	dst.mu.Lock()
	dst.associatedFrom = removeString(dst.associatedFrom, src.Name())
	dst.mu.Unlock()
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func removeAssociate(list []Associate, name string) []Associate {
	out := list[:0]
	for _, a := range list {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
