package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentcrew/types"
	"github.com/pkoukk/tiktoken-go"
)

// 模型前缀到 tiktoken 编码的映射，按前缀长度降序匹配
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o-mini", "o200k_base"},
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4-turbo", "cl100k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5-turbo", "cl100k_base"},
}

func encodingForModel(model string) (string, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return m.encoding, true
		}
	}
	return "", false
}

// TiktokenTokenizer 基于 tiktoken 的 OpenAI 系列分词器
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenTokenizer 创建分词器，编码数据在首次使用时加载
func NewTiktokenTokenizer(model, encoding string) *TiktokenTokenizer {
	return &TiktokenTokenizer{model: model, encoding: encoding}
}

// init 延迟初始化 tiktoken 编码（首次使用可能需要下载数据）
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []types.Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return countMessages(messages, func(s string) (int, error) {
		return len(t.enc.Encode(s, nil, nil)), nil
	})
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
