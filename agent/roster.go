package agent

import (
	"fmt"
	"os"

	"github.com/BaSui01/agentcrew/agent/memory"
	"github.com/BaSui01/agentcrew/types"
	"gopkg.in/yaml.v3"
)

// Roster 声明式团队定义：角色、Worker 与关联边
type Roster struct {
	Roles   []RoleSpec     `yaml:"roles" json:"roles"`
	Workers []RosterWorker `yaml:"workers" json:"workers"`
}

// RosterWorker 花名册中的单个 Worker
type RosterWorker struct {
	Role       string      `yaml:"role" json:"role"`
	ID         int         `yaml:"id,omitempty" json:"id,omitempty"`
	Initiator  bool        `yaml:"initiator,omitempty" json:"initiator,omitempty"`
	Associates []Associate `yaml:"associates,omitempty" json:"associates,omitempty"`
	Memories   []memory.Entry `yaml:"memories,omitempty" json:"memories,omitempty"`
}

// LoadRoster 从 YAML 文件读取花名册
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ParseRoster 解析 YAML 花名册
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, types.NewValidationError("parse roster: %v", err).WithCause(err)
	}
	if len(r.Roles) == 0 {
		return nil, types.NewValidationError("roster declares no roles")
	}
	if len(r.Workers) == 0 {
		return nil, types.NewValidationError("roster declares no workers")
	}
	return &r, nil
}

// Build 将花名册实例化到注册表。
// 先创建全部 Worker，再连接关联边，因此边可以引用后声明的 Worker。
func (ro *Roster) Build(reg *Registry) ([]*Worker, error) {
	roles := make(map[string]*Role, len(ro.Roles))
	for _, spec := range ro.Roles {
		role, err := NewRole(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := roles[role.Name()]; dup {
			return nil, types.NewError(types.ErrDuplicateName, fmt.Sprintf("role %q declared twice", role.Name()))
		}
		roles[role.Name()] = role
	}

	workers := make([]*Worker, 0, len(ro.Workers))
	for _, rw := range ro.Workers {
		role, ok := roles[rw.Role]
		if !ok {
			return nil, types.NewValidationError("worker references unknown role %q", rw.Role)
		}
		w, err := reg.NewWorker(role, WorkerOptions{ID: rw.ID, Initiator: rw.Initiator})
		if err != nil {
			return nil, err
		}
		for _, m := range rw.Memories {
			if _, err := w.Remember(m.Content, m.Priority); err != nil {
				return nil, err
			}
		}
		workers = append(workers, w)
	}

	for i, rw := range ro.Workers {
		for _, a := range rw.Associates {
			if err := reg.Connect(workers[i].Name(), a.Name, a.Relationship); err != nil {
				return nil, err
			}
		}
	}
	return workers, nil
}
