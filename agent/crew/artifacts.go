package crew

import (
	"context"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/agent/delegation"
	"github.com/BaSui01/agentcrew/agent/observability"
)

// 产物文件名
const (
	MetricsFile        = "metrics.json"
	DelegationTreeFile = "delegation_tree.txt"
	WorkersFile        = "workers.json"
)

// Artifacts 一次运行结束时产出的全部记录
type Artifacts struct {
	RunID          string                 `json:"run_id"`
	Metrics        observability.Snapshot `json:"metrics"`
	DelegationTree string                 `json:"delegation_tree,omitempty"`
	Delegations    delegation.Summary     `json:"delegations"`
	Workers        []agent.WorkerDump     `json:"workers"`
}

// ArtifactSink 运行产物的归档端
type ArtifactSink interface {
	Name() string
	PublishRun(ctx context.Context, a *Artifacts) error
}
