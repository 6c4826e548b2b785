// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// Worker 指标
	agentResponsesTotal *prometheus.CounterVec
	agentTokensTotal    *prometheus.CounterVec
	toolCallsTotal      *prometheus.CounterVec
	delegationsTotal    prometheus.Counter

	// 引擎调用指标
	engineCallsTotal   *prometheus.CounterVec
	engineCallDuration prometheus.Histogram
	retriesTotal       prometheus.Counter

	// 运行级指标
	overrunsTotal *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// 归档指标
	archiveWritesTotal *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Worker 指标
	c.agentResponsesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_responses_total",
			Help:      "Total number of accepted worker responses",
		},
		[]string{"agent"},
	)

	c.agentTokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_total",
			Help:      "Total number of tokens in worker responses",
		},
		[]string{"agent"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool group",
		},
		[]string{"group", "status"},
	)

	c.delegationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of delegations between workers",
		},
	)

	// 引擎调用指标
	c.engineCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Total number of governed engine calls by final outcome",
		},
		[]string{"status"}, // ok, rate_limited, deadline_exceeded, error
	)

	c.engineCallDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Governed engine call duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	c.retriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_retries_total",
			Help:      "Total number of rate-limit retries",
		},
	)

	// 运行级指标
	c.overrunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Total number of budget overruns by kind",
		},
		[]string{"kind"}, // time_limit, delegation_limit, initiator_cut_short, delegation_max_rounds
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run wall-clock duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// 归档指标
	c.archiveWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Total number of run archive writes",
		},
		[]string{"sink", "status"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎭 Worker 指标记录
// =============================================================================

// RecordAgentResponse 记录一次被接受的 Worker 回复
func (c *Collector) RecordAgentResponse(agent string, tokens int) {
	c.agentResponsesTotal.WithLabelValues(agent).Inc()
	if tokens > 0 {
		c.agentTokensTotal.WithLabelValues(agent).Add(float64(tokens))
	}
}

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(group string, success bool) {
	c.toolCallsTotal.WithLabelValues(group, outcome(success)).Inc()
}

// RecordDelegation 记录一次委派
func (c *Collector) RecordDelegation() {
	c.delegationsTotal.Inc()
}

// =============================================================================
// 🤖 引擎调用指标记录
// =============================================================================

// RecordEngineCall 记录受控引擎调用的最终结果
func (c *Collector) RecordEngineCall(status string, duration time.Duration) {
	c.engineCallsTotal.WithLabelValues(status).Inc()
	c.engineCallDuration.Observe(duration.Seconds())
}

// RecordRetry 记录一次限流重试
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
}

// =============================================================================
// ⏱️ 运行级指标记录
// =============================================================================

// RecordOverrun 记录预算超限
func (c *Collector) RecordOverrun(kind string) {
	c.overrunsTotal.WithLabelValues(kind).Inc()
}

// RecordRun 记录一次运行结束
func (c *Collector) RecordRun(success bool, duration time.Duration) {
	c.runDuration.WithLabelValues(outcome(success)).Observe(duration.Seconds())
}

// =============================================================================
// 💾 归档与缓存指标记录
// =============================================================================

// RecordArchiveWrite 记录归档写入
func (c *Collector) RecordArchiveWrite(sink string, err error) {
	c.archiveWritesTotal.WithLabelValues(sink, outcome(err == nil)).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
