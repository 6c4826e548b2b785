package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// recordingSleeper 记录退避时长而不真正等待
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// noJitter 让 (r*2-1) 恰好为 0
func noJitter() float64 { return 0.5 }

func newTestRetryer(policy *RetryPolicy, s *recordingSleeper, opts ...Option) Retryer {
	opts = append([]Option{WithSleeper(s.sleep), WithRandSource(noJitter)}, opts...)
	return NewBackoffRetryer(policy, zap.NewNop(), opts...)
}

func rateLimited() error {
	return types.NewRateLimitError("429 from engine")
}

func TestBackoffRetryer_Success(t *testing.T) {
	s := &recordingSleeper{}
	retryer := newTestRetryer(DefaultRetryPolicy(), s)

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Empty(t, s.recorded())
}

func TestBackoffRetryer_RateLimitThenSuccess(t *testing.T) {
	s := &recordingSleeper{}
	retryer := newTestRetryer(DefaultRetryPolicy(), s)

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return rateLimited()
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, s.recorded())
}

func TestBackoffRetryer_ExhaustedDelaysGrowAndCap(t *testing.T) {
	s := &recordingSleeper{}
	retryer := newTestRetryer(DefaultRetryPolicy(), s)

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return rateLimited()
	})

	require.Error(t, err)
	assert.True(t, IsRateLimitError(err))
	assert.False(t, IsDeadlineExceeded(err))
	assert.Equal(t, 7, callCount, "1 次初始调用 + 6 次重试")

	delays := s.recorded()
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second,
	}, delays)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestBackoffRetryer_NonRateLimitNotRetried(t *testing.T) {
	s := &recordingSleeper{}
	retryer := newTestRetryer(DefaultRetryPolicy(), s)

	boom := errors.New("invalid request")
	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, callCount)
	assert.Empty(t, s.recorded())
}

func TestBackoffRetryer_JitterBounds(t *testing.T) {
	policy := DefaultRetryPolicy()

	low := NewBackoffRetryer(policy, nil, WithRandSource(func() float64 { return 0 })).(*backoffRetryer)
	high := NewBackoffRetryer(policy, nil, WithRandSource(func() float64 { return 0.999999 })).(*backoffRetryer)

	for k := 0; k < 6; k++ {
		lo := low.calculateDelay(k)
		hi := high.calculateDelay(k)
		base := low.policy.InitialDelay * time.Duration(1<<k)
		if base > low.policy.MaxDelay {
			base = low.policy.MaxDelay
		}
		assert.InDelta(t, float64(base)*0.9, float64(lo), float64(time.Millisecond))
		assert.InDelta(t, float64(base)*1.1, float64(hi), float64(time.Millisecond))
	}
}

func TestBackoffRetryer_DeadlineWhileSleeping(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Timeout = 50 * time.Millisecond
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	start := time.Now()
	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return rateLimited()
	})

	require.Error(t, err)
	assert.True(t, IsDeadlineExceeded(err))
	assert.False(t, IsRateLimitError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffRetryer_DeadlineCancelsInFlightCall(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Timeout = 30 * time.Millisecond
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	released := make(chan struct{})
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(released)
		return ctx.Err()
	})

	assert.True(t, IsDeadlineExceeded(err))
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("in-flight call never observed cancellation")
	}
}

func TestBackoffRetryer_ParentCancel(t *testing.T) {
	retryer := NewBackoffRetryer(DefaultRetryPolicy(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryer.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsDeadlineExceeded(err))
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	s := &recordingSleeper{}
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 2

	var attempts []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.True(t, IsRateLimitError(err))
	}
	retryer := newTestRetryer(policy, s)

	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		return WrapRateLimit(errors.New("slow down"))
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffRetryer_LimiterDeadline(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Timeout = 20 * time.Millisecond

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())

	retryer := NewBackoffRetryer(policy, zap.NewNop(), WithLimiter(limiter))
	called := false
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.True(t, IsDeadlineExceeded(err))
	assert.False(t, called)
}

func TestBackoffRetryer_ConcurrentCallsIndependent(t *testing.T) {
	s := &recordingSleeper{}
	retryer := newTestRetryer(DefaultRetryPolicy(), s)

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls := 0
			err := retryer.Do(context.Background(), func(ctx context.Context) error {
				calls++
				total.Add(1)
				if calls < 2 {
					return rateLimited()
				}
				return nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 2, calls)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 16, total.Load())
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := newTestRetryer(DefaultRetryPolicy(), &recordingSleeper{})

	val, err := DoWithResultTyped[int](retryer, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, err = DoWithResultTyped[string](retryer, context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("nope")
	})
	assert.Error(t, err)
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"wrapper", WrapRateLimit(errors.New("x")), true},
		{"code rate limit", types.NewRateLimitError("x"), true},
		{"code rate limited", types.NewError(types.ErrRateLimited, "x"), true},
		{"http 429", types.NewError(types.ErrUpstreamError, "x").WithHTTPStatus(429), true},
		{"deadline", types.NewDeadlineError("x"), false},
		{"validation", types.NewValidationError("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimitError(tt.err))
		})
	}
	assert.Nil(t, WrapRateLimit(nil))
}

func TestPolicyAndLimiterFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Retry
	p := PolicyFromConfig(cfg)
	assert.Equal(t, 6, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.InitialDelay)
	assert.Equal(t, 600*time.Second, p.Timeout)
	assert.Nil(t, LimiterFromConfig(cfg))

	cfg.RateLimitRPS = 5
	cfg.RateLimitBurst = 0
	l := LimiterFromConfig(cfg)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
}
