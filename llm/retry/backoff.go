package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/BaSui01/agentcrew/llm/retry"

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries   int                                               // 限流错误的最大额外重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	JitterFactor float64                                           // 抖动比例，0.1 表示 ±10%
	Timeout      time.Duration                                     // 整个调用（含退避等待）的截止时间，0 表示不限
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   6,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		Timeout:      600 * time.Second,
	}
}

// PolicyFromConfig 由配置构造重试策略
func PolicyFromConfig(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		JitterFactor: cfg.JitterFactor,
		Timeout:      cfg.Timeout,
	}
}

// LimiterFromConfig 返回客户端限速器，未配置时为 nil
func LimiterFromConfig(cfg config.RetryConfig) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，限流失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，限流失败时根据策略重试
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// Sleeper 在 ctx 取消前等待 d
type Sleeper func(ctx context.Context, d time.Duration) error

// Option 重试器选项
type Option func(*backoffRetryer)

// WithLimiter 每次尝试前先经过限速器
func WithLimiter(l *rate.Limiter) Option {
	return func(r *backoffRetryer) { r.limiter = l }
}

// WithSleeper 替换退避等待实现（测试用）
func WithSleeper(s Sleeper) Option {
	return func(r *backoffRetryer) { r.sleep = s }
}

// WithRandSource 替换抖动随机源，返回值须在 [0, 1)
func WithRandSource(f func() float64) Option {
	return func(r *backoffRetryer) { r.random = f }
}

// backoffRetryer 基于指数退避的重试器实现。
// 调用之间不共享可变状态，尝试次数只存在于单次调用内。
type backoffRetryer struct {
	policy  RetryPolicy
	logger  *zap.Logger
	limiter *rate.Limiter
	sleep   Sleeper
	random  func() float64
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger, opts ...Option) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验（拷贝一份，不修改调用方的策略）
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.JitterFactor < 0 || p.JitterFactor >= 1 {
		p.JitterFactor = 0.1
	}

	r := &backoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult。
// 只有限流错误会重试；截止时间覆盖全部尝试和退避等待。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "retry.call")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt - 1)

			r.logger.Debug("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.sleep(ctx, delay); err != nil {
				return nil, r.abort(ctx, span, attempt, lastErr)
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, r.abort(ctx, span, attempt, err)
			}
		}

		result, err := invoke(ctx, fn)
		if err == nil {
			span.SetAttributes(attribute.Int("retry.attempts", attempt+1))
			if attempt > 0 {
				r.logger.Info("call succeeded after retry", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, r.abort(ctx, span, attempt, err)
		}

		if !IsRateLimitError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		lastErr = err
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	span.SetAttributes(attribute.Int("retry.attempts", r.policy.MaxRetries+1))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")

	return nil, fmt.Errorf("rate limited after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// abort 将 ctx 结束转换为截止时间错误或取消错误
func (r *backoffRetryer) abort(ctx context.Context, span trace.Span, attempt int, last error) error {
	var err error
	// ctx 尚未结束说明限速器预判等待会越过截止时间
	if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("call exceeded deadline after %d attempt(s)", attempt+1)
		if last != nil {
			msg += ": " + last.Error()
		}
		err = types.NewDeadlineError(msg).WithCause(context.DeadlineExceeded)
	} else {
		err = fmt.Errorf("retry cancelled: %w", ctx.Err())
	}
	r.logger.Warn("call aborted", zap.Int("attempt", attempt), zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// calculateDelay 第 k 次重试（从 0 开始）的等待时间：
// min(initial * multiplier^k, max) ± jitter
func (r *backoffRetryer) calculateDelay(k int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(k))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.JitterFactor > 0 {
		jitter := delay * r.policy.JitterFactor
		delay += (r.random()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// invoke 在独立 goroutine 中执行 fn，ctx 结束时立即返回。
// fn 收到同一个 ctx，应在取消后释放资源；结果通道带缓冲，goroutine 不会阻塞。
func invoke(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(ctx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// 🚦 限流错误分类
// =============================================================================

// RateLimitError 将任意错误标记为限流错误
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// WrapRateLimit 将错误包装为限流错误
func WrapRateLimit(err error) error {
	if err == nil {
		return nil
	}
	return &RateLimitError{Err: err}
}

// IsRateLimitError 判断错误是否属于限流类（会被重试）
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	if types.IsErrorCode(err, types.ErrRateLimit) || types.IsErrorCode(err, types.ErrRateLimited) {
		return true
	}
	if e, ok := types.AsError(err); ok && e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	return false
}

// IsDeadlineExceeded 判断错误是否为整体截止时间超时
func IsDeadlineExceeded(err error) bool {
	return types.IsErrorCode(err, types.ErrDeadlineExceeded)
}
