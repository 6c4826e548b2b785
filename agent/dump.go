package agent

import (
	"github.com/BaSui01/agentcrew/agent/memory"
	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
)

// WorkerDump Worker 的可序列化快照，供外部写盘
type WorkerDump struct {
	WorkerName       string         `json:"worker_name"`
	WorkerID         int            `json:"worker_id"`
	IsInitiator      bool           `json:"is_initiator"`
	Role             RoleSpec       `json:"role"`
	Associates       []Associate    `json:"associates"`
	Memories         []memory.Entry `json:"memories"`
	MemoryCount      int            `json:"memory_count"`
	HasWorkerAgent   bool           `json:"has_worker_agent"`
	HasExecutorAgent bool           `json:"has_executor_agent"`
	ToolsRegistered  bool           `json:"tools_registered"`
}

// Dump 导出 Worker 快照
func (w *Worker) Dump() WorkerDump {
	memories := w.memory.All()

	w.mu.RLock()
	defer w.mu.RUnlock()

	associates := make([]Associate, len(w.associates))
	copy(associates, w.associates)

	return WorkerDump{
		WorkerName:       WorkerName(w.role.Name(), w.id),
		WorkerID:         w.id,
		IsInitiator:      w.initiator,
		Role:             w.role.Spec(),
		Associates:       associates,
		Memories:         memories,
		MemoryCount:      len(memories),
		HasWorkerAgent:   w.workerAgent != nil,
		HasExecutorAgent: w.executorAgent != nil,
		ToolsRegistered:  w.toolsRegistered,
	}
}

// DumpAll 按注册顺序导出全部 Worker
func (r *Registry) DumpAll() []WorkerDump {
	workers := r.Workers()
	out := make([]WorkerDump, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Dump())
	}
	return out
}

// Restore 从快照重建单个 Worker。
// 关联目标尚未注册时跳过该边并记录警告。
func (r *Registry) Restore(d WorkerDump) (*Worker, error) {
	w, err := r.restoreWorker(d)
	if err != nil {
		return nil, err
	}
	r.restoreEdges(w, d.Associates)
	return w, nil
}

// RestoreAll 先创建全部 Worker，再恢复关联边
func (r *Registry) RestoreAll(dumps []WorkerDump) ([]*Worker, error) {
	workers := make([]*Worker, 0, len(dumps))
	for _, d := range dumps {
		w, err := r.restoreWorker(d)
		if err != nil {
			return workers, err
		}
		workers = append(workers, w)
	}
	for i, w := range workers {
		r.restoreEdges(w, dumps[i].Associates)
	}
	return workers, nil
}

func (r *Registry) restoreWorker(d WorkerDump) (*Worker, error) {
	if d.WorkerID < 1 {
		return nil, types.NewValidationError("dump %q: worker_id must be positive, got %d", d.WorkerName, d.WorkerID)
	}
	role, err := NewRole(d.Role)
	if err != nil {
		return nil, err
	}
	w, err := r.NewWorker(role, WorkerOptions{ID: d.WorkerID, Initiator: d.IsInitiator})
	if err != nil {
		return nil, err
	}
	for _, m := range d.Memories {
		if _, err := w.Remember(m.Content, m.Priority); err != nil {
			r.logger.Warn("skipping memory entry during restore",
				zap.String("worker", w.Name()), zap.Error(err))
		}
	}
	if d.ToolsRegistered {
		w.MarkToolsRegistered()
	}
	return w, nil
}

func (r *Registry) restoreEdges(w *Worker, associates []Associate) {
	for _, a := range associates {
		if err := r.Connect(w.Name(), a.Name, a.Relationship); err != nil {
			r.logger.Warn("skipping associate during restore",
				zap.String("worker", w.Name()), zap.String("associate", a.Name), zap.Error(err))
		}
	}
}
