package dataflow

import (
	"sort"
	"strings"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// availPureOps is exactly {add, sub, mul, div, and, or, eq, lt, gt}
// (spec §4.4); le and ge are deliberately excluded.
var availPureOps = map[ir.Op]bool{
	ir.OpAdd: true, ir.OpSub: true, ir.OpMul: true, ir.OpDiv: true,
	ir.OpAnd: true, ir.OpOr: true, ir.OpEq: true, ir.OpLt: true,
	ir.OpGt: true,
}

func isPureExpr(instr *ir.Instr) bool {
	return instr.HasDest() && availPureOps[instr.Op] && len(instr.Args) > 0
}

// exprKey canonicalizes an expression as "op arg1,arg2" for use as a set key.
func exprKey(instr *ir.Instr) string {
	return string(instr.Op) + " " + strings.Join(instr.Args, ",")
}

func exprUsesVar(key, v string) bool {
	parts := strings.SplitN(key, " ", 2)
	if len(parts) != 2 {
		return false
	}
	for _, a := range strings.Split(parts[1], ",") {
		if a == v {
			return true
		}
	}
	return false
}

// exprFact is a set of available expression keys.
type exprFact struct {
	keys    map[string]bool
	isTop   bool // the universal set: every key in the function's universe
	universe map[string]bool
}

func (f exprFact) materialized() map[string]bool {
	if f.isTop {
		return f.universe
	}
	return f.keys
}

func (f exprFact) Merge(other Fact) Fact {
	o := other.(exprFact)
	a, b := f.materialized(), o.materialized()
	out := map[string]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return exprFact{keys: out, universe: f.universe}
}

func (f exprFact) Equal(other Fact) bool {
	o := other.(exprFact)
	a, b := f.materialized(), o.materialized()
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (f exprFact) Transfer(instr *ir.Instr) Fact {
	cur := map[string]bool{}
	for k := range f.materialized() {
		cur[k] = true
	}
	if instr.HasDest() {
		for k := range cur {
			if exprUsesVar(k, instr.Dest) {
				delete(cur, k)
			}
		}
	}
	if isPureExpr(instr) {
		cur[exprKey(instr)] = true
	}
	return exprFact{keys: cur, universe: f.universe}
}

type exprLattice struct {
	universe map[string]bool
}

func (l exprLattice) Top() Fact    { return exprFact{isTop: true, universe: l.universe} }
func (l exprLattice) Bottom() Fact { return exprFact{keys: map[string]bool{}, universe: l.universe} }

// AvailableExpressions runs forward available-expressions analysis
// over c with meet=intersection (spec §4.4): entry is seeded to the
// empty set, and an expression is available at a point only if every
// path to it computes the same pure value without an intervening
// redefinition of an operand.
func AvailableExpressions(c *cfg.CFG) *Result {
	universe := map[string]bool{}
	for _, b := range c.Blocks {
		for _, instr := range b.Instrs {
			if isPureExpr(instr) {
				universe[exprKey(instr)] = true
			}
		}
	}
	return Run(c, Config{
		Direction: Forward,
		Lattice:   exprLattice{universe: universe},
		EntrySeed: SeedBottom,
	})
}

// AvailableExprKeys extracts the sorted expression keys from a Fact.
func AvailableExprKeys(f Fact) []string {
	keys := f.(exprFact).materialized()
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
