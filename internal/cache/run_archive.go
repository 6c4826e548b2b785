package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/agent/crew"
	"github.com/BaSui01/agentcrew/agent/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SinkName 归档端名称
const SinkName = "redis"

// 运行归档键（不含前缀）
func metricsKey(runID string) string { return "run:" + runID + ":metrics" }
func treeKey(runID string) string    { return "run:" + runID + ":tree" }
func workersKey(runID string) string { return "run:" + runID + ":workers" }

// RunArchive 把运行产物写入 Redis，实现 crew.ArtifactSink。
// 快照与委派树为字符串键，工作者快照为以工作者名为字段的哈希，三者同一过期时间。
type RunArchive struct {
	m      *Manager
	logger *zap.Logger
}

var _ crew.ArtifactSink = (*RunArchive)(nil)

// NewRunArchive 创建运行归档
func NewRunArchive(m *Manager, logger *zap.Logger) *RunArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunArchive{m: m, logger: logger.With(zap.String("component", "run_cache"))}
}

// Name 实现 crew.ArtifactSink
func (a *RunArchive) Name() string { return SinkName }

// PublishRun 在一个 MULTI/EXEC 事务里写入全部键
func (a *RunArchive) PublishRun(ctx context.Context, art *crew.Artifacts) error {
	if art == nil || art.RunID == "" {
		return fmt.Errorf("run artifacts without run id")
	}
	snap, err := json.Marshal(art.Metrics)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	fields := make(map[string]any, len(art.Workers))
	for _, d := range art.Workers {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal worker %s: %w", d.WorkerName, err)
		}
		fields[d.WorkerName] = string(data)
	}

	ttl := a.m.config.DefaultTTL
	mk := a.m.FullKey(metricsKey(art.RunID))
	tk := a.m.FullKey(treeKey(art.RunID))
	wk := a.m.FullKey(workersKey(art.RunID))

	err = a.m.client(func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, mk, snap, ttl)
			if art.DelegationTree != "" {
				p.Set(ctx, tk, art.DelegationTree, ttl)
			} else {
				p.Del(ctx, tk)
			}
			p.Del(ctx, wk)
			if len(fields) > 0 {
				p.HSet(ctx, wk, fields)
				p.Expire(ctx, wk, ttl)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("publish run %s: %w", art.RunID, err)
	}

	a.logger.Debug("run cached", zap.String("run_id", art.RunID), zap.Int("workers", len(fields)))
	return nil
}

// LoadSnapshot 读取运行指标快照；未缓存时返回 ErrCacheMiss
func (a *RunArchive) LoadSnapshot(ctx context.Context, runID string) (*observability.Snapshot, error) {
	var s observability.Snapshot
	if err := a.m.GetJSON(ctx, metricsKey(runID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadTree 读取委派树文本；该运行没有委派或未缓存时返回 ErrCacheMiss
func (a *RunArchive) LoadTree(ctx context.Context, runID string) (string, error) {
	return a.m.Get(ctx, treeKey(runID))
}

// LoadWorker 读取单个工作者快照
func (a *RunArchive) LoadWorker(ctx context.Context, runID, workerName string) (*agent.WorkerDump, error) {
	var raw string
	err := a.m.client(func(c *redis.Client) error {
		var err error
		raw, err = c.HGet(ctx, a.m.FullKey(workersKey(runID)), workerName).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		a.m.recordMiss("hash")
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load worker %s of run %s: %w", workerName, runID, err)
	}
	a.m.recordHit("hash")

	var d agent.WorkerDump
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode worker %s of run %s: %w", workerName, runID, err)
	}
	return &d, nil
}

// LoadWorkers 读取全部工作者快照，以工作者名为键
func (a *RunArchive) LoadWorkers(ctx context.Context, runID string) (map[string]agent.WorkerDump, error) {
	var raw map[string]string
	err := a.m.client(func(c *redis.Client) error {
		var err error
		raw, err = c.HGetAll(ctx, a.m.FullKey(workersKey(runID))).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load workers of run %s: %w", runID, err)
	}
	if len(raw) == 0 {
		a.m.recordMiss("hash")
		return nil, ErrCacheMiss
	}
	a.m.recordHit("hash")

	out := make(map[string]agent.WorkerDump, len(raw))
	for name, v := range raw {
		var d agent.WorkerDump
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("decode worker %s of run %s: %w", name, runID, err)
		}
		out[name] = d
	}
	return out, nil
}

// Forget 删除一次运行的全部键
func (a *RunArchive) Forget(ctx context.Context, runID string) error {
	return a.m.Delete(ctx, metricsKey(runID), treeKey(runID), workersKey(runID))
}
