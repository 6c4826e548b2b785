// Package fixtures 提供测试用的花名册与注册表样例。
package fixtures

import (
	"testing"

	"github.com/BaSui01/agentcrew/agent"
	"go.uber.org/zap"
)

// SampleRosterYAML 三个工作者：发起者 manager_1 与两个同事
const SampleRosterYAML = `
roles:
  - role_name: manager
    base_instructions: "Coordinate the team."
    description: "Plans and delegates."
    role_version: 1
  - role_name: coder
    base_instructions: "Write code."
    description: "Implements tasks."
    role_version: 1
    tool_group_names: [file, shell]
  - role_name: reviewer
    base_instructions: "Review changes."
    description: "Reviews changes."
    role_version: 2
workers:
  - role: manager
    id: 1
    initiator: true
    associates:
      - name: coder_1
        relationship: colleague
      - name: reviewer_1
        relationship: lead
    memories:
      - content: "project uses Go"
        priority: 5
  - role: coder
    id: 1
    associates:
      - name: reviewer_1
        relationship: colleague
  - role: reviewer
    id: 1
`

// SampleRoster 解析 SampleRosterYAML
func SampleRoster(t *testing.T) *agent.Roster {
	t.Helper()
	r, err := agent.ParseRoster([]byte(SampleRosterYAML))
	if err != nil {
		t.Fatalf("parse sample roster: %v", err)
	}
	return r
}

// SampleRegistry 按 SampleRosterYAML 构建注册表
func SampleRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry(zap.NewNop())
	if _, err := SampleRoster(t).Build(reg); err != nil {
		t.Fatalf("build sample registry: %v", err)
	}
	return reg
}
