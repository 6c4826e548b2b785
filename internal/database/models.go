package database

import (
	"time"
)

// RunRecord 一次运行的归档行
type RunRecord struct {
	ID                     string    `gorm:"primaryKey;size:64" json:"id"`
	Model                  string    `gorm:"size:128;index" json:"model"`
	AgentsMode             string    `gorm:"size:64" json:"agents_mode"`
	Prompt                 string    `gorm:"type:text" json:"prompt"`
	Success                bool      `gorm:"index" json:"success"`
	ErrorMessage           string    `gorm:"type:text" json:"error_message,omitempty"`
	ExecutionTimeSeconds   float64   `json:"execution_time_seconds"`
	TotalTokens            int       `json:"total_tokens"`
	TotalAgentResponses    int       `json:"total_agent_responses"`
	TotalToolCalls         int       `json:"total_tool_calls"`
	TotalDelegations       int       `json:"total_delegations"`
	TimeLimitReached       bool      `json:"time_limit_reached"`
	DelegationLimitReached bool      `json:"delegation_limit_reached"`
	Snapshot               string    `gorm:"type:text" json:"snapshot"`
	DelegationTree         string    `gorm:"type:text" json:"delegation_tree,omitempty"`
	CreatedAt              time.Time `gorm:"index" json:"created_at"`

	Workers []RunWorkerRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"workers,omitempty"`
}

// TableName 表名
func (RunRecord) TableName() string { return "runs" }

// RunWorkerRecord 运行结束时某个工作者的快照
type RunWorkerRecord struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RunID       string `gorm:"size:64;uniqueIndex:idx_run_worker" json:"run_id"`
	WorkerName  string `gorm:"size:128;uniqueIndex:idx_run_worker" json:"worker_name"`
	Role        string `gorm:"size:128" json:"role"`
	IsInitiator bool   `json:"is_initiator"`
	MemoryCount int    `json:"memory_count"`
	Dump        string `gorm:"type:text" json:"dump"`
}

// TableName 表名
func (RunWorkerRecord) TableName() string { return "run_workers" }

// AllModels 需要迁移的全部模型
func AllModels() []any {
	return []any{&RunRecord{}, &RunWorkerRecord{}}
}
