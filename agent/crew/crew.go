package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/agent/budget"
	"github.com/BaSui01/agentcrew/agent/delegation"
	"github.com/BaSui01/agentcrew/agent/observability"
	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/internal/fsutil"
	"github.com/BaSui01/agentcrew/internal/metrics"
	"github.com/BaSui01/agentcrew/internal/telemetry"
	"github.com/BaSui01/agentcrew/llm/retry"
	"github.com/BaSui01/agentcrew/llm/tokenizer"
	"github.com/BaSui01/agentcrew/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/BaSui01/agentcrew/agent/crew"

// 引擎调用的最终状态标签
const (
	StatusOK               = "ok"
	StatusRateLimited      = "rate_limited"
	StatusDeadlineExceeded = "deadline_exceeded"
	StatusError            = "error"
)

// ErrMaxRoundsReached 委派对话用尽轮数时由子任务返回
var ErrMaxRoundsReached = errors.New("delegation chat reached max rounds")

// Option Crew 选项
type Option func(*Crew)

// WithRetryer 替换默认重试器
func WithRetryer(r retry.Retryer) Option {
	return func(c *Crew) { c.retryer = r }
}

// WithTokenizer 替换按模型选择的分词器
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(c *Crew) { c.tokenizer = t }
}

// WithCollector 把计数镜像到 Prometheus
func WithCollector(col *metrics.Collector) Option {
	return func(c *Crew) { c.collector = col }
}

// WithInstruments 把引擎调用与委派记到 OTel 指标
func WithInstruments(ri *telemetry.RunInstruments) Option {
	return func(c *Crew) { c.instruments = ri }
}

// WithSinks 追加运行归档端
func WithSinks(sinks ...ArtifactSink) Option {
	return func(c *Crew) { c.sinks = append(c.sinks, sinks...) }
}

// WithRunID 指定运行 ID，默认随机 UUID
func WithRunID(id string) Option {
	return func(c *Crew) { c.runID = id }
}

// Turn 一次被接受的工作者回复
type Turn struct {
	Worker    string          `json:"worker"`
	Content   any             `json:"content"`
	Decision  budget.Decision `json:"decision"`
	Tokens    int             `json:"tokens"`
	Terminate bool            `json:"terminate"`
}

// Crew 一次运行的治理上下文
type Crew struct {
	cfg         config.RunConfig
	registry    *agent.Registry
	engine      Engine
	retryer     retry.Retryer
	tokenizer   tokenizer.Tokenizer
	governor    *budget.Governor
	tracker     *delegation.Tracker
	metrics     *observability.ExecutionTracker
	collector   *metrics.Collector
	instruments *telemetry.RunInstruments
	sinks       []ArtifactSink
	runID       string
	logger      *zap.Logger
}

// New 组装一次运行。工作者在此完成运行时初始化。
func New(cfg *config.Config, reg *agent.Registry, engine Engine, logger *zap.Logger, opts ...Option) (*Crew, error) {
	if cfg == nil {
		return nil, types.NewValidationError("config is required")
	}
	if reg == nil {
		return nil, types.NewValidationError("registry is required")
	}
	if engine == nil {
		return nil, types.NewValidationError("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Crew{
		cfg:      cfg.Run,
		registry: reg,
		engine:   engine,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.logger = logger.With(zap.String("component", "crew"), zap.String("run_id", c.runID))

	trackerOpts := []observability.TrackerOption{}
	if c.collector != nil {
		trackerOpts = append(trackerOpts, observability.WithCollector(c.collector))
	}
	c.metrics = observability.NewExecutionTracker(observability.RunInfo{
		Model:      cfg.Run.Model,
		AgentsMode: cfg.Run.AgentsMode,
		Prompt:     cfg.Run.Prompt,
	}, logger, trackerOpts...)
	c.tracker = delegation.NewTracker(logger)

	gov, err := budget.NewGovernor(cfg.Run.MaxTimePrompts, c.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("create governor: %w", err)
	}
	c.governor = gov

	if c.tokenizer == nil {
		c.tokenizer = tokenizer.ForModel(cfg.Run.Model, logger)
	}
	if c.retryer == nil {
		policy := retry.PolicyFromConfig(cfg.Retry)
		if c.collector != nil {
			col := c.collector
			policy.OnRetry = func(int, error, time.Duration) { col.RecordRetry() }
		}
		var retryOpts []retry.Option
		if l := retry.LimiterFromConfig(cfg.Retry); l != nil {
			retryOpts = append(retryOpts, retry.WithLimiter(l))
		}
		c.retryer = retry.NewBackoffRetryer(policy, logger, retryOpts...)
	}

	rt := agent.Runtime{WorkDir: cfg.Run.WorkDir, TestMode: cfg.Run.TestMode}
	for _, w := range reg.Workers() {
		w.Init(rt)
	}

	c.logger.Info("crew ready",
		zap.Int("workers", reg.Len()),
		zap.Int("max_time_prompts", cfg.Run.MaxTimePrompts),
		zap.Int("max_delegation_depth", cfg.Run.MaxDelegationDepth),
		zap.String("tokenizer", c.tokenizer.Name()),
	)
	return c, nil
}

// =============================================================================
// 🤖 引擎调用
// =============================================================================

// Act 让工作者回复一次。引擎调用经过重试器，只有最终成功的回复
// 才计入指标并交给时间预算调度器。失败时不留下任何计数。
func (c *Crew) Act(ctx context.Context, workerName string, messages []types.Message) (*Turn, error) {
	if c.metrics.Completed() {
		return nil, types.NewError(types.ErrRunCompleted, "run already finished")
	}
	w, ok := c.registry.Get(workerName)
	if !ok {
		return nil, types.NewNotFoundError("worker %q not found", workerName).WithCause(agent.ErrWorkerNotFound)
	}

	ctx = types.WithWorker(types.WithRunID(ctx, c.runID), workerName)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "crew.act",
		trace.WithAttributes(attribute.String("crew.worker", workerName)))
	defer span.End()

	req := Request{Worker: workerName, Instructions: w.Instructions(), Messages: messages}
	start := time.Now()
	reply, err := retry.DoWithResultTyped(c.retryer, ctx, func(ctx context.Context) (*Reply, error) {
		return c.engine.Generate(ctx, req)
	})
	elapsed := time.Since(start)

	status := callStatus(err)
	if c.collector != nil {
		c.collector.RecordEngineCall(status, elapsed)
	}
	c.instruments.RecordEngineCall(ctx, workerName, status, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		c.logger.Warn("engine call failed",
			zap.String("worker", workerName),
			zap.String("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	if reply == nil {
		reply = &Reply{}
	}

	tokens := reply.Tokens
	if tokens <= 0 {
		n, terr := tokenizer.CountContent(c.tokenizer, reply.Content)
		if terr != nil {
			c.logger.Debug("token count failed", zap.Error(terr))
		}
		tokens = n
	}

	c.metrics.RecordAgentResponse(workerName, tokens)
	for _, tc := range reply.ToolCalls {
		c.metrics.RecordToolCall(workerName, tc.Function, tc.Success)
	}

	content, decision := c.governor.Next(reply.Content)
	turn := &Turn{
		Worker:    workerName,
		Content:   content,
		Decision:  decision,
		Tokens:    tokens,
		Terminate: decision.Terminate(),
	}
	if turn.Terminate && w.IsInitiator() {
		c.metrics.MarkInitiatorChatCutShort()
	}

	span.SetAttributes(
		attribute.String("crew.budget_state", decision.State.String()),
		attribute.Int("crew.tokens", tokens),
	)
	return turn, nil
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case retry.IsDeadlineExceeded(err):
		return StatusDeadlineExceeded
	case retry.IsRateLimitError(err):
		return StatusRateLimited
	default:
		return StatusError
	}
}

// =============================================================================
// 🌳 委派
// =============================================================================

// Delegate 由 from 把任务交给同事 to，并用 run 执行子对话。
// 只能委派给已关联的同事；达到最大委派深度时拒绝并置位标志。
func (c *Crew) Delegate(ctx context.Context, from, to, task string, run func(ctx context.Context) (string, error)) (string, error) {
	if c.metrics.Completed() {
		return "", types.NewError(types.ErrRunCompleted, "run already finished")
	}
	src, ok := c.registry.Get(from)
	if !ok {
		return "", types.NewNotFoundError("worker %q not found", from).WithCause(agent.ErrWorkerNotFound)
	}
	if _, ok := c.registry.Get(to); !ok {
		return "", types.NewNotFoundError("worker %q not found", to).WithCause(agent.ErrWorkerNotFound)
	}
	if !src.HasAssociate(to) {
		return "", types.NewError(types.ErrNotAssociated,
			fmt.Sprintf("%s has no associate %s", from, to))
	}
	if limit := c.cfg.MaxDelegationDepth; limit > 0 && c.tracker.Depth() >= limit {
		c.metrics.MarkDelegationLimitReached()
		c.logger.Warn("delegation depth limit reached",
			zap.String("from", from),
			zap.String("to", to),
			zap.Int("max_depth", limit),
		)
		return "", types.NewError(types.ErrDelegationLimit,
			fmt.Sprintf("delegation depth limit %d reached", limit))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "crew.delegate",
		trace.WithAttributes(
			attribute.String("crew.from", from),
			attribute.String("crew.to", to),
		))
	defer span.End()

	id := c.tracker.StartDelegation(from, to, task)
	c.metrics.RecordDelegation(from, to)
	span.SetAttributes(attribute.String("crew.delegation_id", id))

	result, err := run(types.WithDelegationID(types.WithRunID(ctx, c.runID), id))
	if err != nil {
		if errors.Is(err, ErrMaxRoundsReached) {
			c.metrics.IncDelegationChatMaxRoundsReached()
		}
		c.tracker.FailDelegation(to, err)
		c.instruments.RecordDelegation(ctx, from, to, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	c.tracker.CompleteDelegation(to, result)
	c.instruments.RecordDelegation(ctx, from, to, true)
	return result, nil
}

// =============================================================================
// 📦 运行结束
// =============================================================================

// Finish 冻结指标并写出产物。归档端失败只记日志，不影响返回值。
func (c *Crew) Finish(ctx context.Context, success bool, runErr error) (*Artifacts, error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	c.metrics.CompleteExecution(success, errMsg)

	a := &Artifacts{
		RunID:       c.runID,
		Metrics:     c.metrics.Snapshot(),
		Delegations: c.tracker.Summary(),
		Workers:     c.registry.DumpAll(),
	}
	if c.tracker.HasDelegations() {
		a.DelegationTree = c.tracker.Render()
	}

	var g errgroup.Group
	if c.cfg.OutputDir != "" {
		dir := filepath.Join(c.cfg.OutputDir, c.runID)
		g.Go(func() error {
			return c.metrics.Save(filepath.Join(dir, MetricsFile))
		})
		g.Go(func() error {
			_, err := c.tracker.WriteFile(filepath.Join(dir, DelegationTreeFile))
			return err
		})
		g.Go(func() error {
			data, err := json.MarshalIndent(a.Workers, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal workers: %w", err)
			}
			if err := fsutil.WriteFileAtomic(filepath.Join(dir, WorkersFile), data, 0o644); err != nil {
				return fmt.Errorf("save workers: %w", err)
			}
			return nil
		})
	}
	for _, sink := range c.sinks {
		g.Go(func() error {
			err := sink.PublishRun(ctx, a)
			if c.collector != nil {
				c.collector.RecordArchiveWrite(sink.Name(), err)
			}
			if err != nil {
				c.logger.Warn("archive sink failed", zap.String("sink", sink.Name()), zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return a, fmt.Errorf("write run artifacts: %w", err)
	}
	c.logger.Info("run finished",
		zap.Bool("success", success),
		zap.Int("delegations", a.Delegations.Total),
		zap.Int("total_tokens", a.Metrics.TotalTokens),
	)
	return a, nil
}

// =============================================================================
// 🔍 访问器
// =============================================================================

// RunID 运行 ID
func (c *Crew) RunID() string { return c.runID }

// Registry 工作者注册表
func (c *Crew) Registry() *agent.Registry { return c.registry }

// Tracker 委派树
func (c *Crew) Tracker() *delegation.Tracker { return c.tracker }

// Metrics 运行指标
func (c *Crew) Metrics() *observability.ExecutionTracker { return c.metrics }

// Governor 时间预算调度器
func (c *Crew) Governor() *budget.Governor { return c.governor }
