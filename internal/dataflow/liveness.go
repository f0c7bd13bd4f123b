package dataflow

import (
	"sort"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// varSet is a Fact over a set of variable names, used by liveness.
type varSet map[string]bool

func (s varSet) Merge(other Fact) Fact {
	o := other.(varSet)
	out := make(varSet, len(s)+len(o))
	for v := range s {
		out[v] = true
	}
	for v := range o {
		out[v] = true
	}
	return out
}

func (s varSet) Equal(other Fact) bool {
	o := other.(varSet)
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if !o[v] {
			return false
		}
	}
	return true
}

// Transfer for liveness: live-in = (live-out - dest) U args.
func (s varSet) Transfer(instr *ir.Instr) Fact {
	out := make(varSet, len(s))
	for v := range s {
		out[v] = true
	}
	if instr.HasDest() {
		delete(out, instr.Dest)
	}
	for _, a := range instr.Args {
		out[a] = true
	}
	return out
}

func (s varSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type varSetLattice struct{}

func (varSetLattice) Top() Fact    { return varSet{} }
func (varSetLattice) Bottom() Fact { return varSet{} }

// Liveness runs backward liveness analysis over c (spec §4.4).
// Result.In[b]/Result.Out[b] give the live-in/live-out variable sets.
func Liveness(c *cfg.CFG) *Result {
	return Run(c, Config{
		Direction: Backward,
		Lattice:   varSetLattice{},
		ExitSeed:  SeedTop, // empty set: nothing is live past a function's exits
	})
}

// LiveVars extracts the sorted variable names from a liveness Fact.
func LiveVars(f Fact) []string {
	return f.(varSet).sorted()
}

// IsLive reports whether v is a member of a liveness Fact.
func IsLive(f Fact, v string) bool {
	return f.(varSet)[v]
}
