// Package ssa converts a function to and from SSA form using the
// get/set shadow-variable encoding rather than classical phi nodes
// (spec §4.7): a value that would be a phi argument is instead
// assigned via a "set" on every predecessor path and read back with a
// "get" at the join point.
package ssa

import (
	"fmt"
	"sort"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/dataflow"
	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/dom"
	"github.com/kanso-lang/bril-core/internal/ir"
)

type blockVar struct {
	block string
	v     string
}

// ToSSA rewrites fn into SSA form (spec §4.7). It never mutates fn.
func ToSSA(fn *ir.Function) (*ir.Function, error) {
	fn = fn.Clone()
	c, err := cfg.Build(fn)
	if err != nil {
		return nil, err
	}
	if len(c.Blocks) == 0 {
		return fn, nil
	}

	paramNames := map[string]bool{}
	varTypes := map[string]ir.Type{}
	for _, p := range fn.Params {
		paramNames[p.Name] = true
		varTypes[p.Name] = p.Type
	}

	variables := map[string]bool{}
	defs := map[string]map[string]bool{}
	for _, b := range c.Blocks {
		for _, in := range b.Instrs {
			for _, a := range in.Args {
				variables[a] = true
			}
			if in.HasDest() {
				variables[in.Dest] = true
				if in.Type != nil {
					varTypes[in.Dest] = in.Type
				}
				if defs[in.Dest] == nil {
					defs[in.Dest] = map[string]bool{}
				}
				defs[in.Dest][b.Name] = true
			}
		}
	}
	reassignedParams := map[string]bool{}
	for p := range paramNames {
		if defs[p] != nil {
			reassignedParams[p] = true
		}
	}
	for v := range variables {
		if paramNames[v] && !reassignedParams[v] {
			delete(variables, v)
		}
	}
	for p := range reassignedParams {
		variables[p] = true
	}

	preDom, err := dom.Compute(c)
	if err != nil {
		return nil, err
	}
	liveness := dataflow.Liveness(c)
	origEntry := c.Entry

	phiNodes := insertPhiNodes(c, variables, paramNames, defs, preDom, liveness, origEntry)

	if hasArgPhi(phiNodes[origEntry], paramNames) {
		pre := &cfg.BasicBlock{
			Name:   origEntry + ".entry_init",
			Instrs: []*ir.Instr{{Op: ir.OpJmp, Labels: []string{origEntry}}},
		}
		c.Blocks = append([]*cfg.BasicBlock{pre}, c.Blocks...)
		if err := c.Recompute(); err != nil {
			return nil, err
		}
	}

	postDom, err := dom.Compute(c)
	if err != nil {
		return nil, err
	}

	renameVariables(c, phiNodes, variables, paramNames, varTypes, postDom)

	fn.Instrs = cfg.Linearize(c)
	return fn, nil
}

func hasArgPhi(vars map[string]bool, paramNames map[string]bool) bool {
	for v := range vars {
		if paramNames[v] {
			return true
		}
	}
	return false
}

// insertPhiNodes places a get-producing phi for var at every block in
// var's iterated dominance frontier where var is live-in (spec §4.7):
// pure dominance-frontier placement over-approximates, so the
// liveness check prunes placements nothing will ever read.
func insertPhiNodes(c *cfg.CFG, variables, paramNames map[string]bool, defs map[string]map[string]bool, info *dom.Info, liveness *dataflow.Result, entry string) map[string]map[string]bool {
	phiNodes := map[string]map[string]bool{}

	sortedVars := make([]string, 0, len(variables))
	for v := range variables {
		sortedVars = append(sortedVars, v)
	}
	sort.Strings(sortedVars)

	for _, v := range sortedVars {
		defBlocks := map[string]bool{}
		for b := range defs[v] {
			defBlocks[b] = true
		}
		if paramNames[v] {
			defBlocks[entry] = true
		}
		// A reassigned parameter is also defined on function entry, ahead
		// of the entry block's own instructions, so it is placed even when
		// the entry block is its only definition block.
		if len(defBlocks) <= 1 && !paramNames[v] {
			continue
		}

		worklist := make([]string, 0, len(defBlocks))
		for b := range defBlocks {
			worklist = append(worklist, b)
		}
		sort.Strings(worklist)

		phiInserted := map[string]bool{}
		for len(worklist) > 0 {
			b := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			for _, dfBlock := range info.DF[b] {
				if phiNodes[dfBlock][v] || phiInserted[dfBlock] {
					continue
				}
				if !dataflow.IsLive(liveness.In[dfBlock], v) {
					continue
				}
				if phiNodes[dfBlock] == nil {
					phiNodes[dfBlock] = map[string]bool{}
				}
				phiNodes[dfBlock][v] = true
				phiInserted[dfBlock] = true
				if !defBlocks[dfBlock] {
					worklist = append(worklist, dfBlock)
				}
			}
		}
	}
	return phiNodes
}

// renameVariables performs the dominator-tree-ordered renaming pass
// (spec §4.7), using an explicit stack instead of recursion (spec §9).
func renameVariables(c *cfg.CFG, phiNodes map[string]map[string]bool, variables, paramNames map[string]bool, varTypes map[string]ir.Type, info *dom.Info) {
	stacks := map[string][]string{}
	counters := map[string]int{}
	phiVarNames := map[blockVar]string{}

	var phiBlocks []string
	for b := range phiNodes {
		phiBlocks = append(phiBlocks, b)
	}
	sort.Strings(phiBlocks)
	for _, b := range phiBlocks {
		var vs []string
		for v := range phiNodes[b] {
			vs = append(vs, v)
		}
		sort.Strings(vs)
		for _, v := range vs {
			counters[v]++
			phiVarNames[blockVar{b, v}] = fmt.Sprintf("%s.%d", v, counters[v])
		}
	}

	var paramOrder []string
	for p := range paramNames {
		paramOrder = append(paramOrder, p)
	}
	sort.Strings(paramOrder)
	for _, p := range paramOrder {
		stacks[p] = append(stacks[p], p)
	}

	entry := info.Entry

	type frame struct {
		name     string
		childIdx int
		oldSizes map[string]int
	}

	seedSuccessorPhis := func(out *[]*ir.Instr, succName string) {
		var vs []string
		for v := range phiNodes[succName] {
			vs = append(vs, v)
		}
		sort.Strings(vs)
		for _, v := range vs {
			phiVar, ok := phiVarNames[blockVar{succName, v}]
			if !ok {
				phiVar = v
			}
			if len(stacks[v]) > 0 {
				cur := stacks[v][len(stacks[v])-1]
				*out = append(*out, &ir.Instr{Op: ir.OpSet, Args: []string{phiVar, cur}})
			} else {
				undefVar := v + ".undef"
				*out = append(*out, &ir.Instr{Op: ir.OpUndef, Dest: undefVar, Type: varTypes[v]})
				*out = append(*out, &ir.Instr{Op: ir.OpSet, Args: []string{phiVar, undefVar}})
			}
		}
	}

	stack := []frame{{name: entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.oldSizes == nil {
			top.oldSizes = map[string]int{}
			b := c.BlockByName(top.name)
			if b == nil {
				stack = stack[:len(stack)-1]
				continue
			}

			var newInstrs []*ir.Instr
			phiVarsInBlock := phiNodes[top.name]

			if top.name == entry && len(phiVarsInBlock) > 0 && len(c.Pred[top.name]) == 0 {
				var vs []string
				for v := range phiVarsInBlock {
					vs = append(vs, v)
				}
				sort.Strings(vs)
				for _, v := range vs {
					if !paramNames[v] {
						continue
					}
					phiVar := phiVarNames[blockVar{top.name, v}]
					newInstrs = append(newInstrs, &ir.Instr{Op: ir.OpSet, Args: []string{phiVar, v}})
				}
			}

			var phiVars []string
			for v := range phiVarsInBlock {
				phiVars = append(phiVars, v)
			}
			sort.Strings(phiVars)
			for _, v := range phiVars {
				phiVar := phiVarNames[blockVar{top.name, v}]
				newInstrs = append(newInstrs, &ir.Instr{Op: ir.OpGet, Dest: phiVar, Type: varTypes[v]})
				if _, ok := top.oldSizes[v]; !ok {
					top.oldSizes[v] = len(stacks[v])
				}
				stacks[v] = append(stacks[v], phiVar)
			}

			for _, in := range b.Instrs {
				if in.IsTerminator() {
					for _, succ := range c.Succ[top.name] {
						seedSuccessorPhis(&newInstrs, succ)
					}
				}

				newIn := in.Clone()
				if len(in.Args) > 0 {
					newArgs := make([]string, len(in.Args))
					for i, a := range in.Args {
						if variables[a] && len(stacks[a]) > 0 {
							newArgs[i] = stacks[a][len(stacks[a])-1]
						} else {
							newArgs[i] = a
						}
					}
					newIn.Args = newArgs
				}

				if in.HasDest() && variables[in.Dest] {
					old := in.Dest
					counters[old]++
					newName := fmt.Sprintf("%s.%d", old, counters[old])
					newIn.Dest = newName
					if _, ok := top.oldSizes[old]; !ok {
						top.oldSizes[old] = len(stacks[old])
					}
					stacks[old] = append(stacks[old], newName)
				}

				newInstrs = append(newInstrs, newIn)
			}

			if b.Terminator() == nil {
				for _, succ := range c.Succ[top.name] {
					seedSuccessorPhis(&newInstrs, succ)
				}
			}

			b.Instrs = newInstrs
		}

		children := info.Children[top.name]
		if top.childIdx < len(children) {
			next := children[top.childIdx]
			top.childIdx++
			stack = append(stack, frame{name: next})
			continue
		}

		for v, oldSize := range top.oldSizes {
			stacks[v] = stacks[v][:oldSize]
		}
		stack = stack[:len(stack)-1]
	}
}

// FromSSA converts fn out of SSA form (spec §4.7): every "set" becomes
// an identity copy into its shadow variable, and every "get" is
// dropped since the copies already established its value.
func FromSSA(fn *ir.Function) (*ir.Function, error) {
	fn = fn.Clone()
	c, err := cfg.Build(fn)
	if err != nil {
		return nil, err
	}

	shadowType := map[string]ir.Type{}
	for _, b := range c.Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpGet && in.HasDest() {
				shadowType[in.Dest] = in.Type
			}
		}
	}

	for _, b := range c.Blocks {
		out := make([]*ir.Instr, 0, len(b.Instrs))
		for _, in := range b.Instrs {
			switch in.Op {
			case ir.OpSet:
				if len(in.Args) < 2 {
					continue
				}
				shadow, src := in.Args[0], in.Args[1]
				if _, ok := shadowType[shadow]; !ok {
					continue
				}
				out = append(out, &ir.Instr{Op: ir.OpID, Dest: shadow, Type: shadowType[shadow], Args: []string{src}})
			case ir.OpGet:
				// dropped: the set instructions already assign its value.
			default:
				out = append(out, in)
			}
		}
		b.Instrs = out
	}

	fn.Instrs = cfg.Linearize(c)
	return fn, nil
}

// CheckWellFormed verifies the SSA single-assignment property: every
// destination variable (including shadow variables from get) is
// defined at most once in the function (spec §4.7/§4.11 oracle).
func CheckWellFormed(fn *ir.Function) error {
	c, err := cfg.Build(fn)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, b := range c.Blocks {
		for _, in := range b.Instrs {
			if !in.HasDest() {
				continue
			}
			if seen[in.Dest] {
				return diag.Precondition(fn.Name, "variable %q is assigned more than once: not in SSA form", in.Dest)
			}
			seen[in.Dest] = true
		}
	}
	return nil
}
