// Package licm hoists loop-invariant computations out of natural loops
// into a synthesized preheader (spec §4.8), grounded on
// original_source/lesson8/licm.py's back-edge/preheader/fixpoint shape.
package licm

import (
	"fmt"
	"sort"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/dataflow"
	"github.com/kanso-lang/bril-core/internal/dom"
	"github.com/kanso-lang/bril-core/internal/ir"
	"github.com/kanso-lang/bril-core/internal/ssa"
)

// Run hoists loop-invariant instructions in fn. With ssaMode, fn is
// converted to SSA first and converted back after hoisting.
func Run(fn *ir.Function, ssaMode bool) (*ir.Function, error) {
	if ssaMode {
		ssaFn, err := ssa.ToSSA(fn)
		if err != nil {
			return nil, err
		}
		hoisted, err := runCore(ssaFn)
		if err != nil {
			return nil, err
		}
		return ssa.FromSSA(hoisted)
	}
	return runCore(fn)
}

func runCore(fn *ir.Function) (*ir.Function, error) {
	fn = fn.Clone()
	c, err := cfg.Build(fn)
	if err != nil {
		return nil, err
	}
	if len(c.Blocks) == 0 {
		return fn, nil
	}

	info, err := dom.Compute(c)
	if err != nil {
		return nil, err
	}

	edgesByHead := map[string][]string{}
	for _, b := range c.Blocks {
		for _, s := range c.Succ[b.Name] {
			if info.Dominates(s, b.Name) {
				edgesByHead[s] = append(edgesByHead[s], b.Name)
			}
		}
	}

	var heads []string
	for h := range edgesByHead {
		heads = append(heads, h)
	}
	sort.Strings(heads)

	usedNames := map[string]bool{}
	for _, b := range c.Blocks {
		usedNames[b.Name] = true
	}

	for _, head := range heads {
		tails := edgesByHead[head]
		sort.Strings(tails)

		loop := map[string]bool{}
		for _, t := range tails {
			for b := range naturalLoop(c, t, head) {
				loop[b] = true
			}
		}

		preName, err := insertPreheader(c, head, loop, usedNames)
		if err != nil {
			return nil, err
		}
		if preName == "" {
			continue // no outside predecessor: hoisting would land in unreachable code
		}
		usedNames[preName] = true

		if err := hoistLoop(c, loop, preName); err != nil {
			return nil, err
		}
	}

	fn.Instrs = cfg.Linearize(c)
	return fn, nil
}

// naturalLoop computes the natural loop of back edge (tail, head):
// head plus every block reachable in reverse from tail without
// crossing head (spec §4.8).
func naturalLoop(c *cfg.CFG, tail, head string) map[string]bool {
	loop := map[string]bool{head: true, tail: true}
	if tail == head {
		return loop
	}
	stack := []string{tail}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range c.Pred[n] {
			if !loop[p] {
				loop[p] = true
				stack = append(stack, p)
			}
		}
	}
	return loop
}

func freshName(base string, used map[string]bool) string {
	if !used[base] {
		return base
	}
	for n := 1; ; n++ {
		cand := fmt.Sprintf("%s.%d", base, n)
		if !used[cand] {
			return cand
		}
	}
}

// insertPreheader allocates head.preheader[.N], retargets every
// outside predecessor of head to it, and splices it into the block
// order just ahead of head (spec §4.8 step 1). Returns "" if head has
// no outside predecessor, in which case the caller skips this loop.
func insertPreheader(c *cfg.CFG, head string, loop map[string]bool, used map[string]bool) (string, error) {
	var outside []string
	for _, p := range c.Pred[head] {
		if !loop[p] {
			outside = append(outside, p)
		}
	}
	if len(outside) == 0 {
		return "", nil
	}
	sort.Strings(outside)

	name := freshName(head+".preheader", used)
	pre := &cfg.BasicBlock{
		Name:   name,
		Instrs: []*ir.Instr{{Op: ir.OpJmp, Labels: []string{head}}},
	}

	idx := c.IndexOf(head)
	newBlocks := make([]*cfg.BasicBlock, 0, len(c.Blocks)+1)
	newBlocks = append(newBlocks, c.Blocks[:idx]...)
	newBlocks = append(newBlocks, pre)
	newBlocks = append(newBlocks, c.Blocks[idx:]...)
	c.Blocks = newBlocks

	for _, p := range outside {
		b := c.BlockByName(p)
		term := b.Terminator()
		if term == nil {
			b.Instrs = append(b.Instrs, &ir.Instr{Op: ir.OpJmp, Labels: []string{name}})
			continue
		}
		for i, l := range term.Labels {
			if l == head {
				term.Labels[i] = name
			}
		}
	}

	if err := c.Recompute(); err != nil {
		return "", err
	}
	return name, nil
}

// hoistLoop runs the reaching-defs-based fixpoint over loop's body and
// moves every instruction that becomes hoistable into the preheader,
// in ascending (block, index) order (spec §4.8 steps 2-3).
func hoistLoop(c *cfg.CFG, loop map[string]bool, preheaderName string) error {
	defCount := map[string]int{}
	for b := range loop {
		blk := c.BlockByName(b)
		if blk == nil {
			continue
		}
		for _, in := range blk.Instrs {
			if in.HasDest() {
				defCount[in.Dest]++
			}
		}
	}

	var exits []string
	for b := range loop {
		for _, s := range c.Succ[b] {
			if !loop[s] {
				exits = append(exits, b)
				break
			}
		}
	}

	domInfo, err := dom.Compute(c)
	if err != nil {
		return err
	}
	dominatesAllExits := func(b string) bool {
		for _, e := range exits {
			if !domInfo.Dominates(b, e) {
				return false
			}
		}
		return true
	}

	blockOrder := map[string]int{}
	for i, b := range c.Blocks {
		blockOrder[b.Name] = i
	}

	hoistable := map[*ir.Instr]bool{}

	for {
		changed := false
		result, sites := dataflow.ReachingDefinitions(c)

		instrByDefID := map[string]*ir.Instr{}
		for _, b := range c.Blocks {
			for _, in := range b.Instrs {
				if id, ok := in.DefID(); ok {
					instrByDefID[id] = in
				}
			}
		}

		for _, b := range c.Blocks {
			if !loop[b.Name] || b.Name == preheaderName {
				continue
			}
			cur := result.In[b.Name]
			for _, in := range b.Instrs {
				if !hoistable[in] {
					reachSet := map[string]bool{}
					for _, id := range dataflow.ReachingDefIDs(cur) {
						reachSet[id] = true
					}
					if isHoistable(loop, sites, reachSet, instrByDefID, hoistable, dominatesAllExits, defCount, b.Name, in) {
						hoistable[in] = true
						changed = true
					}
				}
				cur = cur.Transfer(in)
			}
		}
		if !changed {
			break
		}
	}

	type posInstr struct {
		block string
		idx   int
		instr *ir.Instr
	}
	var toHoist []posInstr
	for _, b := range c.Blocks {
		if !loop[b.Name] || b.Name == preheaderName {
			continue
		}
		for i, in := range b.Instrs {
			if hoistable[in] {
				toHoist = append(toHoist, posInstr{b.Name, i, in})
			}
		}
	}
	sort.Slice(toHoist, func(i, j int) bool {
		bi, bj := blockOrder[toHoist[i].block], blockOrder[toHoist[j].block]
		if bi != bj {
			return bi < bj
		}
		return toHoist[i].idx < toHoist[j].idx
	})
	if len(toHoist) == 0 {
		return nil
	}

	for _, b := range c.Blocks {
		if !loop[b.Name] || b.Name == preheaderName {
			continue
		}
		out := make([]*ir.Instr, 0, len(b.Instrs))
		for _, in := range b.Instrs {
			if hoistable[in] {
				continue
			}
			out = append(out, in)
		}
		b.Instrs = out
	}

	pre := c.BlockByName(preheaderName)
	insertAt := len(pre.Instrs) - 1 // just before the preheader's jmp terminator
	if insertAt < 0 {
		insertAt = 0
	}
	newPre := make([]*ir.Instr, 0, len(pre.Instrs)+len(toHoist))
	newPre = append(newPre, pre.Instrs[:insertAt]...)
	for _, p := range toHoist {
		newPre = append(newPre, p.instr)
	}
	newPre = append(newPre, pre.Instrs[insertAt:]...)
	pre.Instrs = newPre

	return c.Recompute()
}

func isHoistable(
	loop map[string]bool,
	sites map[string]dataflow.DefSite,
	reachSet map[string]bool,
	instrByDefID map[string]*ir.Instr,
	hoistable map[*ir.Instr]bool,
	dominatesAllExits func(string) bool,
	defCount map[string]int,
	blockName string,
	in *ir.Instr,
) bool {
	if !in.HasDest() {
		return false
	}
	if !ir.PureOps[in.Op] {
		return false
	}
	if defCount[in.Dest] != 1 {
		return false
	}
	if !dominatesAllExits(blockName) {
		return false
	}
	for _, arg := range in.Args {
		if !argReachesOutsideOrHoistable(loop, sites, reachSet, instrByDefID, hoistable, arg) {
			return false
		}
	}
	return true
}

// argReachesOutsideOrHoistable reports whether every reaching
// definition of arg at this program point is either outside the loop,
// or the single inside definition and that definition is itself
// already hoistable (spec §4.8 step 2).
func argReachesOutsideOrHoistable(
	loop map[string]bool,
	sites map[string]dataflow.DefSite,
	reachSet map[string]bool,
	instrByDefID map[string]*ir.Instr,
	hoistable map[*ir.Instr]bool,
	arg string,
) bool {
	var insideIDs []string
	for id := range reachSet {
		site, ok := sites[id]
		if !ok || site.Var != arg {
			continue
		}
		if loop[site.Block] {
			insideIDs = append(insideIDs, id)
		}
	}
	if len(insideIDs) == 0 {
		return true
	}
	if len(insideIDs) > 1 {
		return false
	}
	instr := instrByDefID[insideIDs[0]]
	return instr != nil && hoistable[instr]
}
