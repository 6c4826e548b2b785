package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/agent/crew"
	"github.com/BaSui01/agentcrew/agent/observability"
	"github.com/BaSui01/agentcrew/internal/metrics"
	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SinkName 归档端名称
const SinkName = "database"

// 写入事务遇到死锁等可重试错误时的最大尝试次数
const saveAttempts = 3

// RunRepository 运行归档仓库，实现 crew.ArtifactSink
type RunRepository struct {
	pool      *PoolManager
	collector *metrics.Collector
	logger    *zap.Logger
}

var _ crew.ArtifactSink = (*RunRepository)(nil)

// NewRunRepository 创建运行归档仓库；collector 可为 nil
func NewRunRepository(pool *PoolManager, collector *metrics.Collector, logger *zap.Logger) *RunRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRepository{
		pool:      pool,
		collector: collector,
		logger:    logger.With(zap.String("component", "run_repository")),
	}
}

// Migrate 创建或更新归档表
func (r *RunRepository) Migrate(ctx context.Context) error {
	defer r.observe("migrate", time.Now())
	if err := r.pool.DB().WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("migrate run archive: %w", err)
	}
	r.logger.Info("run archive schema ready")
	return nil
}

// Name 实现 crew.ArtifactSink
func (r *RunRepository) Name() string { return SinkName }

// PublishRun 实现 crew.ArtifactSink
func (r *RunRepository) PublishRun(ctx context.Context, a *crew.Artifacts) error {
	return r.SaveRun(ctx, a)
}

// SaveRun 在一个事务里写入运行行与全部工作者行。同一运行重复写入会覆盖旧记录。
func (r *RunRepository) SaveRun(ctx context.Context, a *crew.Artifacts) error {
	if a == nil || a.RunID == "" {
		return types.NewValidationError("run artifacts without run id")
	}
	defer r.observe("save_run", time.Now())

	run, err := toRunRecord(a)
	if err != nil {
		return err
	}
	workers, err := toWorkerRecords(a)
	if err != nil {
		return err
	}

	err = r.pool.WithTransactionRetry(ctx, saveAttempts, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit("Workers").Create(run).Error; err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		if err := tx.Where("run_id = ?", a.RunID).Delete(&RunWorkerRecord{}).Error; err != nil {
			return fmt.Errorf("clear run workers: %w", err)
		}
		if len(workers) == 0 {
			return nil
		}
		rows := append([]RunWorkerRecord(nil), workers...)
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert run workers: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("run archived",
		zap.String("run_id", a.RunID),
		zap.Int("workers", len(workers)),
	)
	return nil
}

// LoadRun 读取运行行及其工作者行
func (r *RunRepository) LoadRun(ctx context.Context, runID string) (*RunRecord, error) {
	defer r.observe("load_run", time.Now())

	var run RunRecord
	err := r.pool.DB().WithContext(ctx).
		Preload("Workers", func(db *gorm.DB) *gorm.DB { return db.Order("worker_name") }).
		First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("run %q not archived", runID).WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns 按时间倒序列出最近的运行，不含工作者行
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	defer r.observe("list_runs", time.Now())
	if limit <= 0 {
		limit = 20
	}

	var runs []RunRecord
	if err := r.pool.DB().WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun 删除运行及其工作者行；不存在时返回 false
func (r *RunRepository) DeleteRun(ctx context.Context, runID string) (bool, error) {
	defer r.observe("delete_run", time.Now())

	var deleted int64
	err := r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&RunWorkerRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&RunRecord{}, "id = ?", runID)
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete run %s: %w", runID, err)
	}
	return deleted > 0, nil
}

// DecodeSnapshot 解码归档的指标快照
func (rec *RunRecord) DecodeSnapshot() (observability.Snapshot, error) {
	var s observability.Snapshot
	if err := json.Unmarshal([]byte(rec.Snapshot), &s); err != nil {
		return s, fmt.Errorf("decode snapshot of run %s: %w", rec.ID, err)
	}
	return s, nil
}

// DecodeDumps 解码归档的工作者快照，顺序与 Workers 一致
func (rec *RunRecord) DecodeDumps() ([]agent.WorkerDump, error) {
	dumps := make([]agent.WorkerDump, 0, len(rec.Workers))
	for _, w := range rec.Workers {
		var d agent.WorkerDump
		if err := json.Unmarshal([]byte(w.Dump), &d); err != nil {
			return nil, fmt.Errorf("decode worker %s of run %s: %w", w.WorkerName, rec.ID, err)
		}
		dumps = append(dumps, d)
	}
	return dumps, nil
}

func (r *RunRepository) observe(op string, start time.Time) {
	if r.collector != nil {
		r.collector.RecordDBQuery(r.pool.name, op, time.Since(start))
	}
}

// =============================================================================
// 🔄 转换
// =============================================================================

func toRunRecord(a *crew.Artifacts) (*RunRecord, error) {
	snap, err := json.Marshal(a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	m := a.Metrics
	rec := &RunRecord{
		ID:                     a.RunID,
		Model:                  m.Model,
		AgentsMode:             m.AgentsMode,
		Prompt:                 m.Prompt,
		Success:                m.Success,
		TotalTokens:            m.TotalTokens,
		TotalAgentResponses:    m.TotalAgentResponses,
		TotalToolCalls:         m.TotalToolCalls,
		TotalDelegations:       m.TotalDelegations,
		TimeLimitReached:       m.TimeLimitPromptsReached,
		DelegationLimitReached: m.DelegationLimitReached,
		Snapshot:               string(snap),
		DelegationTree:         a.DelegationTree,
		CreatedAt:              time.Now().UTC(),
	}
	if m.ErrorMessage != nil {
		rec.ErrorMessage = *m.ErrorMessage
	}
	if m.ExecutionTimeSeconds != nil {
		rec.ExecutionTimeSeconds = *m.ExecutionTimeSeconds
	}
	return rec, nil
}

func toWorkerRecords(a *crew.Artifacts) ([]RunWorkerRecord, error) {
	out := make([]RunWorkerRecord, 0, len(a.Workers))
	for _, d := range a.Workers {
		data, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal worker %s: %w", d.WorkerName, err)
		}
		out = append(out, RunWorkerRecord{
			RunID:       a.RunID,
			WorkerName:  d.WorkerName,
			Role:        d.Role.RoleName,
			IsInitiator: d.IsInitiator,
			MemoryCount: d.MemoryCount,
			Dump:        string(data),
		})
	}
	return out, nil
}
