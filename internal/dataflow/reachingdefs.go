package dataflow

import (
	"fmt"
	"sort"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// DefSite locates one definition: the block it lives in and the
// variable it defines.
type DefSite struct {
	Block string
	Var   string
}

// defFact is a set of definition IDs, closed over the var->defIDs
// index needed to compute kill sets during Transfer.
type defFact struct {
	ids       map[string]bool
	defsByVar map[string][]string
}

func (f defFact) Merge(other Fact) Fact {
	o := other.(defFact)
	out := make(map[string]bool, len(f.ids)+len(o.ids))
	for id := range f.ids {
		out[id] = true
	}
	for id := range o.ids {
		out[id] = true
	}
	return defFact{ids: out, defsByVar: f.defsByVar}
}

func (f defFact) Equal(other Fact) bool {
	o := other.(defFact)
	if len(f.ids) != len(o.ids) {
		return false
	}
	for id := range f.ids {
		if !o.ids[id] {
			return false
		}
	}
	return true
}

func (f defFact) Transfer(instr *ir.Instr) Fact {
	out := make(map[string]bool, len(f.ids)+1)
	for id := range f.ids {
		out[id] = true
	}
	if instr.HasDest() {
		for _, killed := range f.defsByVar[instr.Dest] {
			delete(out, killed)
		}
		if id, ok := instr.DefID(); ok {
			out[id] = true
		}
	}
	return defFact{ids: out, defsByVar: f.defsByVar}
}

type defLattice struct {
	defsByVar map[string][]string
}

func (l defLattice) Top() Fact    { return defFact{ids: map[string]bool{}, defsByVar: l.defsByVar} }
func (l defLattice) Bottom() Fact { return defFact{ids: map[string]bool{}, defsByVar: l.defsByVar} }

// AssignDefIDs labels every destination instruction in c with a unique
// definition ID of the form <var>@<block>:<index> (spec §3) and
// returns the reverse index needed by reaching-definitions. Reaching
// definitions is the one analysis that depends on identity rather than
// value, so unlike LVN/TDCE it needs this scratch bookkeeping.
func AssignDefIDs(c *cfg.CFG) (map[string]DefSite, map[string][]string) {
	sites := map[string]DefSite{}
	defsByVar := map[string][]string{}
	for _, b := range c.Blocks {
		for i, instr := range b.Instrs {
			if !instr.HasDest() {
				continue
			}
			id := fmt.Sprintf("%s@%s:%d", instr.Dest, b.Name, i)
			instr.SetDefID(id)
			sites[id] = DefSite{Block: b.Name, Var: instr.Dest}
			defsByVar[instr.Dest] = append(defsByVar[instr.Dest], id)
		}
	}
	return sites, defsByVar
}

// ReachingDefinitions runs forward reaching-definitions analysis over
// c (spec §4.4). It assigns fresh def IDs as a side effect; callers
// that also need Linearize/Encode output should ClearScratch after.
func ReachingDefinitions(c *cfg.CFG) (*Result, map[string]DefSite) {
	sites, defsByVar := AssignDefIDs(c)
	lat := defLattice{defsByVar: defsByVar}
	res := Run(c, Config{
		Direction: Forward,
		Lattice:   lat,
		EntrySeed: SeedTop, // empty: no definitions reach function entry
	})
	return res, sites
}

// ReachingDefIDs extracts the sorted definition IDs from a reaching-defs Fact.
func ReachingDefIDs(f Fact) []string {
	ids := f.(defFact).ids
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
