package observability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcrew/internal/fsutil"
	"github.com/BaSui01/agentcrew/internal/metrics"
	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
)

// 工具组，按匹配优先级排列（部分名称同时包含多个子串）
var toolGroupOrder = []string{
	"github", "git", "docker", "aws", "notion", "file", "memory", "delegation", "orchestration",
}

// ToolGroupOther 未匹配任何分组的工具
const ToolGroupOther = "other"

// InferToolGroup 按子串匹配推断工具组
func InferToolGroup(function string) string {
	name := strings.ToLower(function)
	for _, g := range toolGroupOrder {
		if strings.Contains(name, g) {
			return g
		}
	}
	return ToolGroupOther
}

// RunInfo 写入快照的运行描述
type RunInfo struct {
	Model      string
	AgentsMode string
	Prompt     string
}

// AgentMetrics 单个 Worker 的统计
type AgentMetrics struct {
	Name                string         `json:"name"`
	ResponseCount       int            `json:"response_count"`
	TotalTokens         int            `json:"total_tokens"`
	ToolCalls           int            `json:"tool_calls"`
	ToolsUsed           map[string]int `json:"tools_used"`
	DelegationsSent     int            `json:"delegations_sent"`
	DelegationsReceived int            `json:"delegations_received"`
}

// ToolCallMetrics 单个工具函数的统计
type ToolCallMetrics struct {
	Group     string `json:"group"`
	Calls     int    `json:"calls"`
	Successes int    `json:"successes"`
	Errors    int    `json:"errors"`
}

// ToolGroupMetrics 工具组汇总
type ToolGroupMetrics struct {
	Calls     int      `json:"calls"`
	Successes int      `json:"successes"`
	Errors    int      `json:"errors"`
	Functions []string `json:"functions"`
}

// Snapshot 运行结束时写盘的完整结构
type Snapshot struct {
	Timestamp                           string                      `json:"timestamp"`
	Model                               string                      `json:"model"`
	AgentsMode                          string                      `json:"agents_mode"`
	Prompt                              string                      `json:"prompt"`
	Agents                              []AgentMetrics              `json:"agents"`
	ToolGroups                          map[string]ToolGroupMetrics `json:"tool_groups"`
	ToolFunctions                       map[string]ToolCallMetrics  `json:"tool_functions"`
	TotalTokens                         int                         `json:"total_tokens"`
	TotalAgentResponses                 int                         `json:"total_agent_responses"`
	TotalToolCalls                      int                         `json:"total_tool_calls"`
	TotalDelegations                    int                         `json:"total_delegations"`
	Success                             bool                        `json:"success"`
	ErrorMessage                        *string                     `json:"error_message,omitempty"`
	ExecutionTimeSeconds                *float64                    `json:"execution_time_seconds,omitempty"`
	InitiatorChatCutShort               bool                        `json:"initiator_chat_cut_short"`
	DelegationLimitReached              bool                        `json:"delegation_limit_reached"`
	DelegationChatMaxRoundsReachedCount int                         `json:"delegation_chat_max_rounds_reached_count"`
	TimeLimitPromptsReached             bool                        `json:"time_limit_prompts_reached"`
}

// TrackerOption ExecutionTracker 选项
type TrackerOption func(*ExecutionTracker)

// WithCollector 将计数同步镜像到 Prometheus
func WithCollector(c *metrics.Collector) TrackerOption {
	return func(t *ExecutionTracker) { t.collector = c }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) TrackerOption {
	return func(t *ExecutionTracker) { t.now = now }
}

// ExecutionTracker 单次运行的指标累加器。
// CompleteExecution 之后快照冻结，后续记录被忽略。
type ExecutionTracker struct {
	mu sync.Mutex

	info      RunInfo
	startedAt time.Time

	agents     map[string]*AgentMetrics
	agentOrder []string
	functions  map[string]*ToolCallMetrics

	totalDelegations       int
	initiatorCutShort      bool
	delegationLimitReached bool
	maxRoundsReached       int
	timeLimitReached       bool

	completed  bool
	success    bool
	errMessage *string
	elapsed    *float64
	finishedAt time.Time

	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutionTracker 在运行开始时创建
func NewExecutionTracker(info RunInfo, logger *zap.Logger, opts ...TrackerOption) *ExecutionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ExecutionTracker{
		info:      info,
		agents:    make(map[string]*AgentMetrics),
		functions: make(map[string]*ToolCallMetrics),
		logger:    logger.With(zap.String("component", "execution_tracker")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startedAt = t.now()
	return t
}

// agentLocked 调用方需持有 t.mu
func (t *ExecutionTracker) agentLocked(name string) *AgentMetrics {
	a, ok := t.agents[name]
	if !ok {
		a = &AgentMetrics{Name: name, ToolsUsed: make(map[string]int)}
		t.agents[name] = a
		t.agentOrder = append(t.agentOrder, name)
	}
	return a
}

// frozenLocked 调用方需持有 t.mu
func (t *ExecutionTracker) frozenLocked(op string) bool {
	if t.completed {
		t.logger.Debug("ignoring record after completion", zap.String("op", op))
	}
	return t.completed
}

// RecordAgentResponse 记录一次被接受的回复
func (t *ExecutionTracker) RecordAgentResponse(agent string, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozenLocked("agent_response") {
		return
	}
	if tokens < 0 {
		tokens = 0
	}
	a := t.agentLocked(agent)
	a.ResponseCount++
	a.TotalTokens += tokens

	if t.collector != nil {
		t.collector.RecordAgentResponse(agent, tokens)
	}
}

// RecordToolCall 记录一次工具调用
func (t *ExecutionTracker) RecordToolCall(agent, function string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozenLocked("tool_call") {
		return
	}

	group := InferToolGroup(function)
	fn, ok := t.functions[function]
	if !ok {
		fn = &ToolCallMetrics{Group: group}
		t.functions[function] = fn
	}
	fn.Calls++
	if success {
		fn.Successes++
	} else {
		fn.Errors++
	}

	a := t.agentLocked(agent)
	a.ToolCalls++
	a.ToolsUsed[function]++

	if t.collector != nil {
		t.collector.RecordToolCall(group, success)
	}
}

// RecordDelegation 记录一次委派
func (t *ExecutionTracker) RecordDelegation(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozenLocked("delegation") {
		return
	}
	t.totalDelegations++
	t.agentLocked(from).DelegationsSent++
	t.agentLocked(to).DelegationsReceived++

	if t.collector != nil {
		t.collector.RecordDelegation()
	}
}

// MarkInitiatorChatCutShort 发起者对话被提前截断
func (t *ExecutionTracker) MarkInitiatorChatCutShort() {
	t.setFlag("initiator_cut_short", &t.initiatorCutShort)
}

// MarkDelegationLimitReached 达到最大委派深度
func (t *ExecutionTracker) MarkDelegationLimitReached() {
	t.setFlag("delegation_limit", &t.delegationLimitReached)
}

// IncDelegationChatMaxRoundsReached 委派对话达到最大轮数
func (t *ExecutionTracker) IncDelegationChatMaxRoundsReached() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozenLocked("delegation_max_rounds") {
		return
	}
	t.maxRoundsReached++
	if t.collector != nil {
		t.collector.RecordOverrun("delegation_max_rounds")
	}
}

// MarkTimeLimitReached 时间预算超限；运行结束后返回错误
func (t *ExecutionTracker) MarkTimeLimitReached() error {
	t.mu.Lock()
	completed := t.completed
	t.mu.Unlock()
	if completed {
		return types.NewError(types.ErrRunCompleted, "execution already completed")
	}
	t.setFlag("time_limit", &t.timeLimitReached)
	return nil
}

func (t *ExecutionTracker) setFlag(kind string, flag *bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozenLocked(kind) {
		return
	}
	if !*flag && t.collector != nil {
		t.collector.RecordOverrun(kind)
	}
	*flag = true
}

// CompleteExecution 冻结耗时与结果。重复调用无效。
func (t *ExecutionTracker) CompleteExecution(success bool, errMessage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		t.logger.Warn("execution already completed")
		return
	}

	t.completed = true
	t.success = success
	if errMessage != "" {
		msg := errMessage
		t.errMessage = &msg
	}
	t.finishedAt = t.now()
	elapsed := t.finishedAt.Sub(t.startedAt).Seconds()
	t.elapsed = &elapsed

	if t.collector != nil {
		t.collector.RecordRun(success, t.finishedAt.Sub(t.startedAt))
	}
	t.logger.Info("execution completed",
		zap.Bool("success", success),
		zap.Float64("execution_time_seconds", elapsed),
	)
}

// Completed 是否已结束
func (t *ExecutionTracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Snapshot 生成可序列化快照；未触及的计数均为零值
func (t *ExecutionTracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.finishedAt
	if ts.IsZero() {
		ts = t.now()
	}

	s := Snapshot{
		Timestamp:                           ts.UTC().Format(time.RFC3339),
		Model:                               t.info.Model,
		AgentsMode:                          t.info.AgentsMode,
		Prompt:                              t.info.Prompt,
		Agents:                              make([]AgentMetrics, 0, len(t.agentOrder)),
		ToolGroups:                          make(map[string]ToolGroupMetrics),
		ToolFunctions:                       make(map[string]ToolCallMetrics, len(t.functions)),
		TotalDelegations:                    t.totalDelegations,
		Success:                             t.success,
		ErrorMessage:                        t.errMessage,
		ExecutionTimeSeconds:                t.elapsed,
		InitiatorChatCutShort:               t.initiatorCutShort,
		DelegationLimitReached:              t.delegationLimitReached,
		DelegationChatMaxRoundsReachedCount: t.maxRoundsReached,
		TimeLimitPromptsReached:             t.timeLimitReached,
	}

	for _, name := range t.agentOrder {
		a := *t.agents[name]
		a.ToolsUsed = make(map[string]int, len(t.agents[name].ToolsUsed))
		for k, v := range t.agents[name].ToolsUsed {
			a.ToolsUsed[k] = v
		}
		s.Agents = append(s.Agents, a)
		s.TotalTokens += a.TotalTokens
		s.TotalAgentResponses += a.ResponseCount
	}

	for name, fn := range t.functions {
		s.ToolFunctions[name] = *fn
		s.TotalToolCalls += fn.Calls

		g := s.ToolGroups[fn.Group]
		g.Calls += fn.Calls
		g.Successes += fn.Successes
		g.Errors += fn.Errors
		g.Functions = append(g.Functions, name)
		s.ToolGroups[fn.Group] = g
	}
	for name, g := range s.ToolGroups {
		sort.Strings(g.Functions)
		s.ToolGroups[name] = g
	}

	return s
}

// Save 将快照以单次原子写入保存到 path
func (t *ExecutionTracker) Save(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("save metrics snapshot: %w", err)
	}
	t.logger.Debug("metrics snapshot saved", zap.String("path", path))
	return nil
}
