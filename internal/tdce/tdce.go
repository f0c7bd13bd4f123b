// Package tdce implements trivial dead code elimination: a global
// pass that drops never-used definitions, and a local pass that drops
// definitions overwritten before any intervening use within a block,
// iterated together to a fixpoint (spec §4.6).
package tdce

import (
	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// Run iterates the global and local passes over c's reachable blocks
// until neither removes anything.
func Run(c *cfg.CFG) {
	for {
		changed := removeGloballyUnused(c)
		if removeLocallyKilled(c) {
			changed = true
		}
		if !changed {
			return
		}
	}
}

// removeGloballyUnused drops destinations never read anywhere in the
// reachable part of the function. call is never dropped: it may have
// side effects even when its result is unused (spec §4.6).
func removeGloballyUnused(c *cfg.CFG) bool {
	reach := c.Reachable()

	used := map[string]bool{}
	for _, b := range c.Blocks {
		if !reach[b.Name] {
			continue
		}
		for _, in := range b.Instrs {
			for _, a := range in.Args {
				used[a] = true
			}
		}
	}

	changed := false
	for _, b := range c.Blocks {
		if !reach[b.Name] {
			continue
		}
		out := make([]*ir.Instr, 0, len(b.Instrs))
		for _, in := range b.Instrs {
			if in.HasDest() && !used[in.Dest] {
				if in.Op == ir.OpCall {
					out = append(out, in)
					continue
				}
				changed = true
				continue
			}
			out = append(out, in)
		}
		b.Instrs = out
	}
	return changed
}

// removeLocallyKilled walks each block right-to-left, dropping a
// definition that is overwritten later in the same block with no
// intervening use, and dropping trivial self-copies ("x = id x")
// (spec §4.6).
func removeLocallyKilled(c *cfg.CFG) bool {
	reach := c.Reachable()
	changed := false

	for _, b := range c.Blocks {
		if !reach[b.Name] {
			continue
		}

		redefined := map[string]bool{}
		usedSinceRedef := map[string]bool{}
		var keptRev []*ir.Instr

		for i := len(b.Instrs) - 1; i >= 0; i-- {
			in := b.Instrs[i]
			dest := in.Dest
			uses := in.Args

			if dest != "" && in.Op == ir.OpID && len(uses) == 1 && uses[0] == dest {
				changed = true
				continue
			}

			if dest == "" {
				keptRev = append(keptRev, in)
				for _, u := range uses {
					if redefined[u] {
						usedSinceRedef[u] = true
					}
				}
				continue
			}

			wasRedef := redefined[dest]
			redefined[dest] = true
			for _, u := range uses {
				if redefined[u] {
					usedSinceRedef[u] = true
				}
			}

			selfUse := containsStr(uses, dest)

			if wasRedef && !usedSinceRedef[dest] {
				if !selfUse && in.Op != ir.OpCall {
					changed = true
					continue
				}
			}

			keptRev = append(keptRev, in)
			if !selfUse {
				delete(usedSinceRedef, dest)
			}
		}

		b.Instrs = make([]*ir.Instr, len(keptRev))
		for i, in := range keptRev {
			b.Instrs[len(keptRev)-1-i] = in
		}
	}

	return changed
}

func containsStr(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
