package memory

import (
	"strings"
	"testing"

	"github.com/BaSui01/agentcrew/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_StoreUnderCapacity(t *testing.T) {
	t.Parallel()

	m := New(3)
	for i, p := range []int{5, 1, 9} {
		outcome, err := m.Store("note", p)
		require.NoError(t, err)
		assert.Equal(t, Stored, outcome, "entry %d", i)
	}

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, []int{9, 5, 1}, priorities(all))
	assert.Equal(t, 3, m.Count())
}

func TestMemory_DefaultMaxSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMaxSize, New(0).MaxSize())
	assert.Equal(t, DefaultMaxSize, New(-4).MaxSize())
	assert.Equal(t, 7, New(7).MaxSize())
}

func TestMemory_RejectsEmptyContent(t *testing.T) {
	t.Parallel()

	m := New(2)
	for _, content := range []string{"", "   ", "\n\t "} {
		outcome, err := m.Store(content, 10)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrValidation))
		assert.Equal(t, Rejected, outcome)
	}
	assert.Zero(t, m.Count())
}

func TestMemory_TrimsAndTruncates(t *testing.T) {
	t.Parallel()

	m := New(2)
	_, err := m.Store("  padded  ", 1)
	require.NoError(t, err)

	long := strings.Repeat("记", MaxContentLength+50)
	_, err = m.Store(long, 2)
	require.NoError(t, err)

	all := m.All()
	assert.Equal(t, MaxContentLength, len([]rune(all[0].Content)))
	assert.Equal(t, "padded", all[1].Content)
}

func TestMemory_FullRejectsLowOrEqualPriority(t *testing.T) {
	t.Parallel()

	m := New(2)
	_, _ = m.Store("a", 3)
	_, _ = m.Store("b", 7)
	before := m.All()

	for _, p := range []int{3, 2, -1} {
		outcome, err := m.Store("c", p)
		require.NoError(t, err)
		assert.Equal(t, Rejected, outcome)
		assert.False(t, outcome.Accepted())
	}
	assert.Equal(t, before, m.All())
}

func TestMemory_FullEvictsExactlyTheMinimum(t *testing.T) {
	t.Parallel()

	m := New(3)
	_, _ = m.Store("low", 1)
	_, _ = m.Store("mid", 5)
	_, _ = m.Store("high", 9)

	outcome, err := m.Store("new", 4)
	require.NoError(t, err)
	assert.Equal(t, Evicted, outcome)
	assert.True(t, outcome.Accepted())

	all := m.All()
	assert.Equal(t, []int{9, 5, 4}, priorities(all))
	for _, e := range all {
		assert.NotEqual(t, "low", e.Content)
	}

	minEntry, ok := m.Min()
	require.True(t, ok)
	assert.Equal(t, 4, minEntry.Priority)
}

func TestMemory_Clear(t *testing.T) {
	t.Parallel()

	m := New(2)
	_, _ = m.Store("a", 1)
	m.Clear()

	assert.Zero(t, m.Count())
	assert.Empty(t, m.All())
	_, ok := m.Min()
	assert.False(t, ok)

	outcome, err := m.Store("b", 0)
	require.NoError(t, err)
	assert.Equal(t, Stored, outcome)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stored", Stored.String())
	assert.Equal(t, "evicted", Evicted.String())
	assert.Equal(t, "rejected", Rejected.String())
}

func priorities(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Priority
	}
	return out
}
