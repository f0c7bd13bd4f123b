package cfg

import (
	"fmt"
	"sort"

	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// Build splits a function's flat instruction list into basic blocks
// and computes the CFG (spec §4.1).
func Build(fn *ir.Function) (*CFG, error) {
	c := &CFG{FuncName: fn.Name, Params: fn.Params, ReturnType: fn.ReturnType}
	if len(fn.Instrs) == 0 {
		c.Succ = map[string][]string{}
		c.Pred = map[string][]string{}
		return c, nil
	}

	instrs := fn.Instrs
	n := len(instrs)

	labelIndex := map[string]int{}
	for i, in := range instrs {
		if in.IsLabel() {
			if _, dup := labelIndex[in.Label]; dup {
				return nil, diag.Malformed(fn.Name, "duplicate label %q", in.Label)
			}
			labelIndex[in.Label] = i
		}
	}

	leaderSet := map[int]bool{0: true}
	for i, in := range instrs {
		if in.IsLabel() {
			leaderSet[i] = true
		}
		if in.IsTerminator() {
			if i+1 < n {
				leaderSet[i+1] = true
			}
			for _, lbl := range in.Labels {
				idx, ok := labelIndex[lbl]
				if !ok {
					return nil, diag.Malformed(fn.Name, "%s to undefined label %q", in.Op, lbl)
				}
				leaderSet[idx] = true
			}
		}
	}

	leaders := make([]int, 0, len(leaderSet))
	for i := range leaderSet {
		leaders = append(leaders, i)
	}
	sort.Ints(leaders)

	for bi, start := range leaders {
		end := n
		if bi+1 < len(leaders) {
			end = leaders[bi+1]
		}

		j := start
		var startLabels []string
		for j < end && instrs[j].IsLabel() {
			startLabels = append(startLabels, instrs[j].Label)
			j++
		}

		name := fmt.Sprintf("B%d", bi)
		if len(startLabels) > 0 {
			name = startLabels[0]
		}

		body := make([]*ir.Instr, end-j)
		copy(body, instrs[j:end])

		c.Blocks = append(c.Blocks, &BasicBlock{
			Name:        name,
			StartLabels: startLabels,
			Instrs:      body,
		})
	}

	if err := c.Recompute(); err != nil {
		return nil, err
	}
	return c, nil
}
