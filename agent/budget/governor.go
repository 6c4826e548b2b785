// 包 budget 提供对话时间预算的标注与终止判定。
package budget

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
)

// TerminationToken 超过硬上限后追加在标签之后，提示调用方立即结束对话
const TerminationToken = "TERMINATE"

// 匹配内容开头的单行时间标签
var tagLine = regexp.MustCompile(`^\((?:time: -?\d+ of -?\d+|overtime: -?\d+ of hard limit -?\d+)\)(?:\r?\n|$)`)

// State 预算状态
type State int

const (
	// InBudget 当前计数小于上限
	InBudget State = iota
	// Overtime 达到上限但未到硬上限
	Overtime
	// Exhausted 达到硬上限，必须终止
	Exhausted
)

func (s State) String() string {
	switch s {
	case InBudget:
		return "in_budget"
	case Overtime:
		return "overtime"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Decision 单次标注的结果
type Decision struct {
	State     State
	Tag       string
	HardLimit int
}

// Terminate 调用方是否应结束对话
func (d Decision) Terminate() bool { return d.State == Exhausted }

// LimitFlagger 超时标志的接收方（通常是指标追踪器）
type LimitFlagger interface {
	MarkTimeLimitReached() error
}

// LimitFlaggerFunc 函数适配器
type LimitFlaggerFunc func() error

func (f LimitFlaggerFunc) MarkTimeLimitReached() error { return f() }

// HardLimit 返回 ceil(max * 1.1)，整数运算避免浮点误差
func HardLimit(max int) int {
	if max <= 0 {
		return 0
	}
	return (max*11 + 9) / 10
}

// BuildTimeTag 预算内标签
func BuildTimeTag(current, max int) string {
	return fmt.Sprintf("(time: %d of %d)", current, max)
}

// BuildOvertimeTag 超时标签
func BuildOvertimeTag(current, hardLimit int) string {
	return fmt.Sprintf("(overtime: %d of hard limit %d)", current, hardLimit)
}

// StripTag 去掉开头恰好一行旧标签
func StripTag(text string) string {
	if loc := tagLine.FindStringIndex(text); loc != nil {
		return text[loc[1]:]
	}
	return text
}

// Evaluate 纯函数：根据计数得出状态与标签
func Evaluate(current, max int) Decision {
	hard := HardLimit(max)
	switch {
	case current < max:
		return Decision{State: InBudget, Tag: BuildTimeTag(current, max), HardLimit: hard}
	case current < hard:
		return Decision{State: Overtime, Tag: BuildOvertimeTag(current, hard), HardLimit: hard}
	default:
		return Decision{State: Exhausted, Tag: BuildOvertimeTag(current, hard), HardLimit: hard}
	}
}

// Annotate 给内容加上时间标签。
// 超时后调用 flagger；flagger 的错误或 panic 只记录日志，不影响返回结果。
func Annotate(content any, current, max int, flagger LimitFlagger, logger *zap.Logger) (any, Decision) {
	d := Evaluate(current, max)
	if d.State != InBudget {
		raiseFlag(flagger, logger)
	}
	return apply(content, d), d
}

// apply 按内容形态写入标签
func apply(content any, d Decision) any {
	switch c := content.(type) {
	case string:
		return render(&c, d)
	case types.Message:
		c.Content = ptr(render(c.Content, d))
		return c
	case *types.Message:
		if c == nil {
			return &types.Message{Content: ptr(render(nil, d))}
		}
		msg := *c
		msg.Content = ptr(render(c.Content, d))
		return &msg
	case map[string]any:
		out := make(map[string]any, len(c)+1)
		for k, v := range c {
			out[k] = v
		}
		var body *string
		switch v := c["content"].(type) {
		case nil:
		case string:
			body = &v
		default:
			s := fmt.Sprint(v)
			body = &s
		}
		out["content"] = render(body, d)
		return out
	case nil:
		return render(nil, d)
	default:
		s := fmt.Sprintf("%v", c)
		return render(&s, d)
	}
}

// render nil 正文只返回标签
func render(body *string, d Decision) string {
	if d.State == Exhausted {
		return d.Tag + "\n" + TerminationToken
	}
	if body == nil {
		return d.Tag
	}
	text := StripTag(*body)
	if text == "" {
		return d.Tag
	}
	return d.Tag + "\n" + text
}

func raiseFlag(flagger LimitFlagger, logger *zap.Logger) {
	if flagger == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("time limit flag panicked", zap.Any("panic", r))
		}
	}()
	if err := flagger.MarkTimeLimitReached(); err != nil {
		logger.Warn("failed to raise time limit flag", zap.Error(err))
	}
}

func ptr(s string) *string { return &s }

// =============================================================================
// ⏱️ Governor
// =============================================================================

// Governor 有状态的预算管理器：统计外发消息数，
// 每次运行只触发一次超时标志。
type Governor struct {
	mu      sync.Mutex
	max     int
	count   int
	flagged bool
	flagger LimitFlagger
	logger  *zap.Logger
}

// NewGovernor 创建预算管理器，max 为预算内允许的消息数
func NewGovernor(max int, flagger LimitFlagger, logger *zap.Logger) (*Governor, error) {
	if max < 1 {
		return nil, types.NewValidationError("max time prompts must be >= 1, got %d", max)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		max:     max,
		flagger: flagger,
		logger:  logger.With(zap.String("component", "time_governor")),
	}, nil
}

// Next 计入一条外发消息并返回标注后的内容
func (g *Governor) Next(content any) (any, Decision) {
	g.mu.Lock()
	g.count++
	current := g.count
	g.mu.Unlock()

	return Annotate(content, current, g.max, LimitFlaggerFunc(g.flagOnce), g.logger)
}

func (g *Governor) flagOnce() error {
	g.mu.Lock()
	if g.flagged {
		g.mu.Unlock()
		return nil
	}
	g.flagged = true
	g.mu.Unlock()

	g.logger.Info("time budget exceeded", zap.Int("max", g.max), zap.Int("hard_limit", HardLimit(g.max)))
	if g.flagger == nil {
		return nil
	}
	return g.flagger.MarkTimeLimitReached()
}

// Count 已计入的消息数
func (g *Governor) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Max 预算上限
func (g *Governor) Max() int { return g.max }

// Flagged 本次运行是否已触发超时标志
func (g *Governor) Flagged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flagged
}

// Reset 开始新一轮运行
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count = 0
	g.flagged = false
}
