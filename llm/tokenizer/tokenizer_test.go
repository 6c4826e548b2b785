package tokenizer

import (
	"errors"
	"testing"

	"github.com/BaSui01/agentcrew/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type brokenTokenizer struct{}

func (brokenTokenizer) CountTokens(string) (int, error) { return 0, errors.New("no bpe data") }
func (brokenTokenizer) CountMessages([]types.Message) (int, error) {
	return 0, errors.New("no bpe data")
}
func (brokenTokenizer) Name() string { return "broken" }

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("local-model")

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n)

	n, _ = e.CountTokens("abcdefghijklmnop")
	assert.Equal(t, 4, n)

	n, _ = e.CountTokens("你好世界")
	assert.Equal(t, 2, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("local-model")
	msgs := []types.Message{
		types.NewMessage(types.RoleUser, "abcdefgh"),
		{Role: types.RoleAssistant},
	}
	n, err := e.CountMessages(msgs)
	require.NoError(t, err)
	// user: 4 + 2 + 1；assistant: 4 + 0 + 2；对话开销 3
	assert.Equal(t, 16, n)
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "estimator", ForModel("llama-3", nil).Name())
	assert.Equal(t, "tiktoken[o200k_base]|estimator", ForModel("gpt-4o-2024-08-06", nil).Name())
	assert.Equal(t, "tiktoken[cl100k_base]|estimator", ForModel("GPT-4", nil).Name())
}

func TestFallbackTokenizer_WarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := &fallbackTokenizer{
		primary:  brokenTokenizer{},
		fallback: NewEstimatorTokenizer("m"),
		logger:   zap.New(core),
	}

	n, err := f.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.CountMessages([]types.Message{types.NewMessage(types.RoleUser, "x")})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

func TestCountContent(t *testing.T) {
	e := NewEstimatorTokenizer("m")
	text := "abcdefgh"
	msg := types.NewMessage(types.RoleAssistant, text)

	tests := []struct {
		name    string
		content any
		want    int
	}{
		{"nil", nil, 0},
		{"string", text, 2},
		{"message", msg, 2},
		{"message pointer", &msg, 2},
		{"nil message pointer", (*types.Message)(nil), 0},
		{"opaque", struct{ A string }{"abcdef"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := CountContent(e, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	n, err := CountContent(e, []types.Message{msg})
	require.NoError(t, err)
	assert.Greater(t, n, 2)
}
