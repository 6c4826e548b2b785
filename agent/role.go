package agent

import (
	"strings"

	"github.com/BaSui01/agentcrew/types"
)

// UniversalSuffix 在构造 Role 时追加到基础指令末尾（只追加一次）
const UniversalSuffix = "\n\nWork only within your role, keep your associates informed, and report results plainly."

// RoleSpec 创建 Role 的输入
type RoleSpec struct {
	RoleName         string   `json:"role_name" yaml:"role_name"`
	BaseInstructions string   `json:"base_instructions" yaml:"base_instructions"`
	Description      string   `json:"description" yaml:"description"`
	RoleVersion      int      `json:"role_version" yaml:"role_version"`
	ToolGroupNames   []string `json:"tool_group_names" yaml:"tool_group_names"`
}

// Role 不可变的行为模板，Worker 由其实例化
type Role struct {
	roleName         string
	baseInstructions string
	description      string
	roleVersion      int
	toolGroupNames   []string
}

// NewRole 校验输入并创建 Role
func NewRole(spec RoleSpec) (*Role, error) {
	name := strings.TrimSpace(spec.RoleName)
	if name == "" {
		return nil, types.NewValidationError("role_name must not be empty")
	}
	if strings.TrimSpace(spec.BaseInstructions) == "" {
		return nil, types.NewValidationError("role %q: base_instructions must not be empty", name)
	}
	if strings.TrimSpace(spec.Description) == "" {
		return nil, types.NewValidationError("role %q: description must not be empty", name)
	}
	if spec.RoleVersion < 1 {
		return nil, types.NewValidationError("role %q: role_version must be >= 1, got %d", name, spec.RoleVersion)
	}

	groups := make([]string, 0, len(spec.ToolGroupNames))
	for _, g := range spec.ToolGroupNames {
		g = strings.TrimSpace(g)
		if g == "" {
			return nil, types.NewValidationError("role %q: tool group names must not be empty", name)
		}
		if !containsString(groups, g) {
			groups = append(groups, g)
		}
	}

	instructions := spec.BaseInstructions
	if !strings.HasSuffix(instructions, UniversalSuffix) {
		instructions += UniversalSuffix
	}

	return &Role{
		roleName:         name,
		baseInstructions: instructions,
		description:      strings.TrimSpace(spec.Description),
		roleVersion:      spec.RoleVersion,
		toolGroupNames:   groups,
	}, nil
}

func (r *Role) Name() string             { return r.roleName }
func (r *Role) BaseInstructions() string { return r.baseInstructions }
func (r *Role) Description() string      { return r.description }
func (r *Role) Version() int             { return r.roleVersion }

// ToolGroupNames 返回工具组名称副本
func (r *Role) ToolGroupNames() []string {
	out := make([]string, len(r.toolGroupNames))
	copy(out, r.toolGroupNames)
	return out
}

// AddToolGroup 追加工具组，已存在时为空操作
func (r *Role) AddToolGroup(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.NewValidationError("role %q: tool group name must not be empty", r.roleName)
	}
	if !containsString(r.toolGroupNames, name) {
		r.toolGroupNames = append(r.toolGroupNames, name)
	}
	return nil
}

// Clone 深拷贝 Role；newName 非空时重命名
func (r *Role) Clone(newName string) *Role {
	clone := *r
	clone.toolGroupNames = r.ToolGroupNames()
	if n := strings.TrimSpace(newName); n != "" {
		clone.roleName = n
	}
	return &clone
}

// Spec 导出 Role 的可序列化形式
func (r *Role) Spec() RoleSpec {
	return RoleSpec{
		RoleName:         r.roleName,
		BaseInstructions: r.baseInstructions,
		Description:      r.description,
		RoleVersion:      r.roleVersion,
		ToolGroupNames:   r.ToolGroupNames(),
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
