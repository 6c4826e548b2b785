package crew_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentcrew/agent/budget"
	"github.com/BaSui01/agentcrew/agent/crew"
	"github.com/BaSui01/agentcrew/agent/observability"
	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/internal/metrics"
	"github.com/BaSui01/agentcrew/llm/retry"
	"github.com/BaSui01/agentcrew/llm/tokenizer"
	"github.com/BaSui01/agentcrew/testutil"
	"github.com/BaSui01/agentcrew/testutil/fixtures"
	"github.com/BaSui01/agentcrew/testutil/mocks"
	"github.com/BaSui01/agentcrew/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCrew(t *testing.T, cfg *config.Config, engine crew.Engine, opts ...crew.Option) *crew.Crew {
	t.Helper()
	opts = append([]crew.Option{
		crew.WithRunID("run-test"),
		crew.WithTokenizer(tokenizer.NewEstimatorTokenizer("test-model")),
	}, opts...)
	c, err := crew.New(cfg, fixtures.SampleRegistry(t), engine, zap.NewNop(), opts...)
	require.NoError(t, err)
	return c
}

func agentMetrics(s observability.Snapshot, name string) (observability.AgentMetrics, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return observability.AgentMetrics{}, false
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

// --- New ---

func TestNew_Validation(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	reg := fixtures.SampleRegistry(t)
	engine := mocks.NewMockEngine()

	_, err := crew.New(nil, reg, engine, nil)
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	_, err = crew.New(cfg, nil, engine, nil)
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	_, err = crew.New(cfg, reg, nil, nil)
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	cfg.Run.MaxTimePrompts = 0
	_, err = crew.New(cfg, reg, engine, nil)
	testutil.AssertErrorCode(t, err, types.ErrValidation)
}

func TestNew_InitializesWorkers(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Run.WorkDir = "/tmp/work"
	c := newTestCrew(t, cfg, mocks.NewMockEngine())

	for _, w := range c.Registry().Workers() {
		rt, ok := w.Runtime()
		require.True(t, ok, w.Name())
		assert.Equal(t, "/tmp/work", rt.WorkDir)
		assert.True(t, rt.TestMode)
	}
	assert.Equal(t, "run-test", c.RunID())
}

// --- Act ---

func TestCrew_Act_AnnotatesAndRecords(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Run.MaxTimePrompts = 2
	engine := mocks.NewMockEngine().
		WithReply(&crew.Reply{Content: "hello", Tokens: 7, ToolCalls: []crew.ToolCall{
			{Function: "docker_run", Success: true},
			{Function: "read_file", Success: false},
		}})
	c := newTestCrew(t, cfg, engine)
	ctx := testutil.TestContext(t)

	turn, err := c.Act(ctx, "coder_1", []types.Message{types.NewMessage(types.RoleUser, "go")})
	require.NoError(t, err)
	assert.Equal(t, "(time: 1 of 2)\nhello", turn.Content)
	assert.Equal(t, budget.InBudget, turn.Decision.State)
	assert.Equal(t, 7, turn.Tokens)
	assert.False(t, turn.Terminate)

	req, ok := engine.LastCall()
	require.True(t, ok)
	assert.Equal(t, "coder_1", req.Worker)
	assert.True(t, strings.HasPrefix(req.Instructions, "You are a professional coder."))
	require.Len(t, req.Messages, 1)

	snap := c.Metrics().Snapshot()
	assert.Equal(t, 1, snap.TotalAgentResponses)
	assert.Equal(t, 7, snap.TotalTokens)
	assert.Equal(t, 2, snap.TotalToolCalls)
	a, ok := agentMetrics(snap, "coder_1")
	require.True(t, ok)
	assert.Equal(t, 1, a.ToolsUsed["docker_run"])
	assert.Equal(t, 1, snap.ToolFunctions["read_file"].Errors)
}

func TestCrew_Act_TokenFallback(t *testing.T) {
	engine := mocks.NewMockEngine().WithReplies("some words for the estimator")
	c := newTestCrew(t, testutil.NewTestConfig(t), engine)

	turn, err := c.Act(testutil.TestContext(t), "coder_1", nil)
	require.NoError(t, err)
	assert.Greater(t, turn.Tokens, 0)
	assert.Equal(t, turn.Tokens, c.Metrics().Snapshot().TotalTokens)
}

func TestCrew_Act_RetriesRateLimitOnly(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.NewCollectorWithRegistry("crew_test", reg, zap.NewNop())
	engine := mocks.NewMockEngine().
		WithErrorAt(0, retry.WrapRateLimit(errors.New("429 too many requests"))).
		WithReplies("after retry")
	c := newTestCrew(t, testutil.NewTestConfig(t), engine, crew.WithCollector(col))

	turn, err := c.Act(testutil.TestContext(t), "coder_1", nil)
	require.NoError(t, err)
	assert.Equal(t, "(time: 1 of 10)\nafter retry", turn.Content)
	assert.Equal(t, 2, engine.CallCount())

	// 只记录最终结果
	assert.Equal(t, 1, c.Metrics().Snapshot().TotalAgentResponses)
	assert.Equal(t, 1, c.Governor().Count())
	assert.Equal(t, float64(1), counterValue(t, reg, "crew_test_engine_retries_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "crew_test_engine_calls_total"))
}

func TestCrew_Act_FailureLeavesNoCounts(t *testing.T) {
	boom := errors.New("upstream exploded")
	engine := mocks.NewMockEngine().WithErrorAt(0, boom)
	c := newTestCrew(t, testutil.NewTestConfig(t), engine)

	_, err := c.Act(testutil.TestContext(t), "coder_1", nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, engine.CallCount())
	assert.Equal(t, 0, c.Metrics().Snapshot().TotalAgentResponses)
	assert.Equal(t, 0, c.Governor().Count())
}

func TestCrew_Act_DeadlineExceeded(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Retry.Timeout = 20 * time.Millisecond
	engine := mocks.NewMockEngine().WithDelay(200 * time.Millisecond)
	c := newTestCrew(t, cfg, engine)

	_, err := c.Act(testutil.TestContext(t), "coder_1", nil)
	testutil.AssertErrorCode(t, err, types.ErrDeadlineExceeded)
	assert.False(t, retry.IsRateLimitError(err))
	assert.Equal(t, 0, c.Metrics().Snapshot().TotalAgentResponses)
}

func TestCrew_Act_InitiatorExhaustion(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Run.MaxTimePrompts = 1
	c := newTestCrew(t, cfg, mocks.NewMockEngine().WithReplies("one", "two"))
	ctx := testutil.TestContext(t)

	turn, err := c.Act(ctx, "manager_1", nil)
	require.NoError(t, err)
	assert.Equal(t, budget.Overtime, turn.Decision.State)
	assert.Equal(t, "(overtime: 1 of hard limit 2)\none", turn.Content)

	turn, err = c.Act(ctx, "manager_1", nil)
	require.NoError(t, err)
	assert.True(t, turn.Terminate)
	assert.Equal(t, "(overtime: 2 of hard limit 2)\n"+budget.TerminationToken, turn.Content)

	snap := c.Metrics().Snapshot()
	assert.True(t, snap.TimeLimitPromptsReached)
	assert.True(t, snap.InitiatorChatCutShort)
	assert.True(t, c.Governor().Flagged())
}

func TestCrew_Act_NonInitiatorExhaustionDoesNotCutShort(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Run.MaxTimePrompts = 1
	c := newTestCrew(t, cfg, mocks.NewMockEngine())
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		_, err := c.Act(ctx, "coder_1", nil)
		require.NoError(t, err)
	}
	assert.False(t, c.Metrics().Snapshot().InitiatorChatCutShort)
}

func TestCrew_Act_UnknownWorker(t *testing.T) {
	c := newTestCrew(t, testutil.NewTestConfig(t), mocks.NewMockEngine())
	_, err := c.Act(testutil.TestContext(t), "ghost_1", nil)
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

// --- Delegate ---

func TestCrew_Delegate_Tree(t *testing.T) {
	c := newTestCrew(t, testutil.NewTestConfig(t), mocks.NewMockEngine())
	ctx := testutil.TestContext(t)

	out, err := c.Delegate(ctx, "manager_1", "coder_1", "implement the parser", func(ctx context.Context) (string, error) {
		return c.Delegate(ctx, "coder_1", "reviewer_1", "review the parser", func(context.Context) (string, error) {
			return "lgtm", nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "lgtm", out)

	tree := c.Tracker().Render()
	assert.Contains(t, tree, "manager_1\n")
	assert.Contains(t, tree, "✅ coder_1: implement the parser")
	assert.Contains(t, tree, "✅ reviewer_1: review the parser")

	snap := c.Metrics().Snapshot()
	assert.Equal(t, 2, snap.TotalDelegations)
	m, _ := agentMetrics(snap, "manager_1")
	assert.Equal(t, 1, m.DelegationsSent)
	r, _ := agentMetrics(snap, "reviewer_1")
	assert.Equal(t, 1, r.DelegationsReceived)
}

func TestCrew_Delegate_PropagatesRunContext(t *testing.T) {
	type seen struct{ runID, worker, delegationID string }
	var got seen
	engine := mocks.NewMockEngine().WithGenerateFunc(func(ctx context.Context, req crew.Request) (*crew.Reply, error) {
		got.runID, _ = types.RunID(ctx)
		got.worker, _ = types.Worker(ctx)
		got.delegationID, _ = types.DelegationID(ctx)
		return &crew.Reply{Content: "done"}, nil
	})
	c := newTestCrew(t, testutil.NewTestConfig(t), engine)
	ctx := testutil.TestContext(t)

	_, err := c.Delegate(ctx, "manager_1", "coder_1", "task", func(ctx context.Context) (string, error) {
		turn, err := c.Act(ctx, "coder_1", nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(turn.Content), nil
	})
	require.NoError(t, err)

	assert.Equal(t, "run-test", got.runID)
	assert.Equal(t, "coder_1", got.worker)
	nodes := c.Tracker().Roots()
	require.Len(t, nodes, 1)
	assert.Equal(t, nodes[0].ID, got.delegationID)
}

func TestCrew_Delegate_RequiresAssociate(t *testing.T) {
	c := newTestCrew(t, testutil.NewTestConfig(t), mocks.NewMockEngine())
	called := false
	_, err := c.Delegate(testutil.TestContext(t), "reviewer_1", "manager_1", "task", func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	testutil.AssertErrorCode(t, err, types.ErrNotAssociated)
	assert.False(t, called)
	assert.False(t, c.Tracker().HasDelegations())
}

func TestCrew_Delegate_DepthLimit(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Run.MaxDelegationDepth = 1
	c := newTestCrew(t, cfg, mocks.NewMockEngine())

	var innerErr error
	_, err := c.Delegate(testutil.TestContext(t), "manager_1", "coder_1", "task", func(ctx context.Context) (string, error) {
		_, innerErr = c.Delegate(ctx, "coder_1", "reviewer_1", "nested", func(context.Context) (string, error) {
			return "unreachable", nil
		})
		return "done alone", nil
	})
	require.NoError(t, err)
	testutil.AssertErrorCode(t, innerErr, types.ErrDelegationLimit)
	assert.True(t, c.Metrics().Snapshot().DelegationLimitReached)
	assert.Equal(t, 1, c.Tracker().Summary().Total)
}

func TestCrew_Delegate_FailureAndMaxRounds(t *testing.T) {
	c := newTestCrew(t, testutil.NewTestConfig(t), mocks.NewMockEngine())
	ctx := testutil.TestContext(t)

	_, err := c.Delegate(ctx, "manager_1", "coder_1", "long chat", func(context.Context) (string, error) {
		return "", crew.ErrMaxRoundsReached
	})
	require.ErrorIs(t, err, crew.ErrMaxRoundsReached)

	sum := c.Tracker().Summary()
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Pending)
	assert.Equal(t, 1, c.Metrics().Snapshot().DelegationChatMaxRoundsReachedCount)
	assert.Contains(t, c.Tracker().Render(), "❌ coder_1: long chat")
}

// --- Finish ---

func TestCrew_Finish_WritesArtifacts(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	ok := mocks.NewMockSink("ok")
	broken := mocks.NewMockSink("broken").WithError(errors.New("archive down"))
	c := newTestCrew(t, cfg, mocks.NewMockEngine(), crew.WithSinks(ok, broken))
	ctx := testutil.TestContext(t)

	_, err := c.Act(ctx, "manager_1", nil)
	require.NoError(t, err)
	_, err = c.Delegate(ctx, "manager_1", "coder_1", "task", func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	a, err := c.Finish(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-test", a.RunID)
	assert.True(t, a.Metrics.Success)
	assert.NotNil(t, a.Metrics.ExecutionTimeSeconds)
	assert.Equal(t, 1, a.Delegations.Completed)
	assert.Len(t, a.Workers, 3)
	assert.NotEmpty(t, a.DelegationTree)

	dir := filepath.Join(cfg.Run.OutputDir, "run-test")
	data, err := os.ReadFile(filepath.Join(dir, crew.MetricsFile))
	require.NoError(t, err)
	var snap observability.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.TotalAgentResponses)

	tree, err := os.ReadFile(filepath.Join(dir, crew.DelegationTreeFile))
	require.NoError(t, err)
	assert.Equal(t, a.DelegationTree, string(tree))
	assert.FileExists(t, filepath.Join(dir, crew.WorkersFile))

	assert.Len(t, ok.Published(), 1)
	assert.Len(t, broken.Published(), 1)

	_, err = c.Act(ctx, "manager_1", nil)
	testutil.AssertErrorCode(t, err, types.ErrRunCompleted)
}

func TestCrew_Finish_NoDelegationsSkipsTree(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	c := newTestCrew(t, cfg, mocks.NewMockEngine())

	a, err := c.Finish(testutil.TestContext(t), false, errors.New("engine unavailable"))
	require.NoError(t, err)
	require.NotNil(t, a.Metrics.ErrorMessage)
	assert.Equal(t, "engine unavailable", *a.Metrics.ErrorMessage)
	assert.Empty(t, a.DelegationTree)

	dir := filepath.Join(cfg.Run.OutputDir, "run-test")
	assert.FileExists(t, filepath.Join(dir, crew.MetricsFile))
	assert.NoFileExists(t, filepath.Join(dir, crew.DelegationTreeFile))
}
