package memory

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_Memory_BoundedAndSorted 对任意写入序列，All() 长度不超过容量且按优先级降序。
func TestProperty_Memory_BoundedAndSorted(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(1, 10).Draw(rt, "maxSize")
		m := New(maxSize)

		ops := rapid.SliceOfN(rapid.IntRange(-50, 50), 0, 60).Draw(rt, "priorities")
		for _, p := range ops {
			_, err := m.Store("note", p)
			require.NoError(rt, err)

			all := m.All()
			require.LessOrEqual(rt, len(all), maxSize)
			require.True(rt, sort.SliceIsSorted(all, func(i, j int) bool {
				return all[i].Priority > all[j].Priority
			}))
		}
	})
}

// TestProperty_Memory_KeepsTopK 结果恰好是写入序列中最高的 K 个优先级。
func TestProperty_Memory_KeepsTopK(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(1, 8).Draw(rt, "maxSize")
		ops := rapid.SliceOfN(rapid.IntRange(0, 20), 1, 40).Draw(rt, "priorities")

		m := New(maxSize)
		for _, p := range ops {
			_, _ = m.Store("note", p)
		}

		want := append([]int(nil), ops...)
		sort.Sort(sort.Reverse(sort.IntSlice(want)))
		if len(want) > maxSize {
			want = want[:maxSize]
		}
		require.Equal(rt, want, priorities(m.All()))
	})
}

// TestProperty_Memory_FullStoreOutcome 已满时：p <= min 不变；p > min 恰好淘汰最小值。
func TestProperty_Memory_FullStoreOutcome(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(1, 6).Draw(rt, "maxSize")
		m := New(maxSize)
		for i := 0; i < maxSize; i++ {
			_, _ = m.Store("seed", rapid.IntRange(-10, 10).Draw(rt, "seed"))
		}

		before := priorities(m.All())
		minEntry, _ := m.Min()
		p := rapid.IntRange(-15, 15).Draw(rt, "p")

		outcome, err := m.Store("candidate", p)
		require.NoError(rt, err)

		after := priorities(m.All())
		if p <= minEntry.Priority {
			require.Equal(rt, Rejected, outcome)
			require.Equal(rt, before, after)
			return
		}

		require.Equal(rt, Evicted, outcome)
		require.Len(rt, after, maxSize)
		// 去掉一个旧最小值、加入 p 后的多重集应与结果一致
		expected := append([]int(nil), before[:len(before)-1]...)
		expected = append(expected, p)
		sort.Sort(sort.Reverse(sort.IntSlice(expected)))
		require.Equal(rt, expected, after)
	})
}
