// Package dataflow implements a generic worklist dataflow framework
// parameterized by a lattice and direction (spec §4.4), plus liveness,
// reaching-definitions and available-expressions instantiations.
package dataflow

import (
	"container/list"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// Direction is the traversal direction of an analysis.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Seed controls how boundary blocks (entry for forward analyses, exits
// for backward ones) are initialized before the worklist runs.
type Seed int

const (
	SeedKeep Seed = iota // leave the lattice's Top() value
	SeedTop
	SeedBottom
)

// Fact is one lattice value, attached to a program point.
type Fact interface {
	Merge(other Fact) Fact
	Transfer(instr *ir.Instr) Fact
	Equal(other Fact) bool
}

// Lattice supplies the fixed points of the lattice used by an analysis.
type Lattice interface {
	Top() Fact
	Bottom() Fact
}

// Config configures one run of the generic solver.
type Config struct {
	Direction Direction
	Lattice   Lattice
	EntrySeed Seed // applied to the entry block's in-fact, forward only
	ExitSeed  Seed // applied to each exit block's out-fact, backward only
}

// Result holds the solved per-block in/out facts.
type Result struct {
	In  map[string]Fact
	Out map[string]Fact
}

func seedValue(lat Lattice, s Seed) Fact {
	switch s {
	case SeedTop:
		return lat.Top()
	case SeedBottom:
		return lat.Bottom()
	default:
		return nil
	}
}

// Run solves the dataflow problem over c using a worklist algorithm
// (spec §4.4). Facts converge because every concrete lattice here has
// finite height and Merge is monotone.
func Run(c *cfg.CFG, cfgCfg Config) *Result {
	res := &Result{In: map[string]Fact{}, Out: map[string]Fact{}}
	if len(c.Blocks) == 0 {
		return res
	}

	for _, b := range c.Blocks {
		res.In[b.Name] = cfgCfg.Lattice.Top()
		res.Out[b.Name] = cfgCfg.Lattice.Top()
	}

	if cfgCfg.Direction == Forward {
		if v := seedValue(cfgCfg.Lattice, cfgCfg.EntrySeed); v != nil && c.Entry != "" {
			res.In[c.Entry] = v
		}
	} else {
		if v := seedValue(cfgCfg.Lattice, cfgCfg.ExitSeed); v != nil {
			for _, name := range c.Exits() {
				res.Out[name] = v
			}
		}
	}

	work := list.New()
	queued := map[string]bool{}
	push := func(name string) {
		if !queued[name] {
			queued[name] = true
			work.PushBack(name)
		}
	}
	for _, b := range c.Blocks {
		push(b.Name)
	}

	for work.Len() > 0 {
		elem := work.Front()
		work.Remove(elem)
		name := elem.Value.(string)
		queued[name] = false

		b := c.BlockByName(name)

		if cfgCfg.Direction == Forward {
			in := meetMany(cfgCfg.Lattice, gatherPred(res.Out, c.Pred[name]), res.In[name], len(c.Pred[name]) == 0)
			out := applyAll(in, b.Instrs)
			changed := !in.Equal(res.In[name]) || !out.Equal(res.Out[name])
			res.In[name] = in
			res.Out[name] = out
			if changed {
				for _, s := range c.Succ[name] {
					push(s)
				}
			}
		} else {
			out := meetMany(cfgCfg.Lattice, gatherPred(res.In, c.Succ[name]), res.Out[name], len(c.Succ[name]) == 0)
			in := applyAllReverse(out, b.Instrs)
			changed := !out.Equal(res.Out[name]) || !in.Equal(res.In[name])
			res.Out[name] = out
			res.In[name] = in
			if changed {
				for _, p := range c.Pred[name] {
					push(p)
				}
			}
		}
	}

	return res
}

func gatherPred(facts map[string]Fact, names []string) []Fact {
	out := make([]Fact, len(names))
	for i, n := range names {
		out[i] = facts[n]
	}
	return out
}

func meetMany(lat Lattice, vals []Fact, keepIfEmpty Fact, empty bool) Fact {
	if empty {
		return keepIfEmpty
	}
	acc := lat.Top()
	for _, v := range vals {
		acc = acc.Merge(v)
	}
	return acc
}

func applyAll(in Fact, instrs []*ir.Instr) Fact {
	cur := in
	for _, instr := range instrs {
		cur = cur.Transfer(instr)
	}
	return cur
}

func applyAllReverse(out Fact, instrs []*ir.Instr) Fact {
	cur := out
	for i := len(instrs) - 1; i >= 0; i-- {
		cur = cur.Transfer(instrs[i])
	}
	return cur
}
