package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentcrew/types"
	"go.uber.org/zap"
)

// Tokenizer 统一的 token 计数接口。
// 引擎回复未携带用量时，用它估算写入指标的 token 数。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包含每条消息的角色标记开销
	CountMessages(messages []types.Message) (int, error)

	// Name 返回分词器名称
	Name() string
}

// 每条消息与整段对话的固定开销
const (
	perMessageOverhead    = 4
	conversationOverhead  = 3
	defaultEstimatorLimit = 4096
)

// ForModel 返回模型对应的分词器：已知 OpenAI 模型使用 tiktoken，
// 其余使用字符估算器。tiktoken 初始化失败时自动回退到估算器。
func ForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	estimator := NewEstimatorTokenizer(model)

	encoding, ok := encodingForModel(model)
	if !ok {
		return estimator
	}
	return &fallbackTokenizer{
		primary:  NewTiktokenTokenizer(model, encoding),
		fallback: estimator,
		logger:   logger.With(zap.String("component", "tokenizer"), zap.String("model", model)),
	}
}

// CountContent 统计任意回复内容的 token 数：
// string、types.Message、*types.Message、[]types.Message，其余按 %v 字符串化。
func CountContent(t Tokenizer, content any) (int, error) {
	switch c := content.(type) {
	case nil:
		return 0, nil
	case string:
		return t.CountTokens(c)
	case types.Message:
		return t.CountTokens(c.Text())
	case *types.Message:
		if c == nil {
			return 0, nil
		}
		return t.CountTokens(c.Text())
	case []types.Message:
		return t.CountMessages(c)
	default:
		return t.CountTokens(fmt.Sprintf("%v", c))
	}
}

// fallbackTokenizer 主分词器出错时改用备用分词器，只记录一次警告
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger
	warnOnce sync.Once
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	f.warn(err)
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []types.Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err == nil {
		return n, nil
	}
	f.warn(err)
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) Name() string {
	return f.primary.Name() + "|" + f.fallback.Name()
}

func (f *fallbackTokenizer) warn(err error) {
	f.warnOnce.Do(func() {
		f.logger.Warn("primary tokenizer unavailable, using estimator", zap.Error(err))
	})
}

// countMessages 以 perText 计数每条消息正文和角色
func countMessages(messages []types.Message, perText func(string) (int, error)) (int, error) {
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		n, err := perText(msg.Text())
		if err != nil {
			return 0, err
		}
		total += n
		if role := strings.TrimSpace(string(msg.Role)); role != "" {
			n, err := perText(role)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total + conversationOverhead, nil
}
