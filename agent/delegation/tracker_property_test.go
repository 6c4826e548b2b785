package delegation

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// 任意开始/完成/失败/结束序列下：计数守恒，栈中只剩待定节点，
// 渲染行数等于节点数加一行根。
func TestProperty_Tracker_Invariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)
		names := []string{"a", "b", "c", "d"}
		started := 0

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			name := rapid.SampledFrom(names).Draw(rt, "name")
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				tr.StartDelegation("root", name, fmt.Sprintf("task %d", i))
				started++
			case 1:
				tr.CompleteDelegation(name, "ok")
			case 2:
				tr.FailDelegation(name, fmt.Errorf("err %d", i))
			case 3:
				tr.EndDelegation(name)
			}

			s := tr.Summary()
			if s.Total != started {
				rt.Fatalf("total %d != started %d", s.Total, started)
			}
			if s.Completed+s.Failed+s.Pending != s.Total {
				rt.Fatalf("counts do not add up: %+v", s)
			}
			if tr.Depth() > s.Pending {
				rt.Fatalf("stack depth %d exceeds pending %d", tr.Depth(), s.Pending)
			}
		}

		if started > 0 {
			out := tr.Render()
			lines := 0
			for _, r := range out {
				if r == '\n' {
					lines++
				}
			}
			if lines != started+1 {
				rt.Fatalf("rendered %d lines for %d nodes", lines, started)
			}
		}
	})
}
