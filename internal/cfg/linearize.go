package cfg

import "github.com/kanso-lang/bril-core/internal/ir"

// Linearize reconstitutes a flat instruction list from a CFG,
// preserving textual fallthrough semantics (spec §4.2). Blocks are
// placed by extending a "chain" through unbroken textual fallthrough,
// then remaining reachable blocks are placed as new chains in
// original order, then unreachable blocks are appended untouched.
func Linearize(c *CFG) []*ir.Instr {
	if len(c.Blocks) == 0 {
		return nil
	}

	reach := c.Reachable()

	hasTerminator := func(name string) bool {
		return c.BlockByName(name).Terminator() != nil
	}

	// The CFG's Succ map is the source of truth for where a
	// non-terminated block's control flow intends to go; a block's
	// physical position in c.Blocks only decides emission order, so a
	// pass that reorders blocks without re-deriving Succ from the new
	// layout still linearizes correctly — chain placement restores the
	// intended adjacency where it can, and the explicit-jmp patch below
	// covers the blocks whose fallthrough target was already placed.
	textualFallthrough := func(name string) string {
		if hasTerminator(name) {
			return ""
		}
		succs := c.Succ[name]
		if len(succs) == 1 {
			return succs[0]
		}
		return ""
	}

	placed := map[string]bool{}
	var order []string
	placeChain := func(start string) {
		b := start
		for b != "" && reach[b] && !placed[b] {
			placed[b] = true
			order = append(order, b)
			if hasTerminator(b) {
				break
			}
			ft := textualFallthrough(b)
			if ft == "" || placed[ft] {
				break
			}
			b = ft
		}
	}

	if reach[c.Entry] {
		placeChain(c.Entry)
	}
	for _, b := range c.Blocks {
		if reach[b.Name] && !placed[b.Name] {
			placeChain(b.Name)
		}
	}
	for _, b := range c.Blocks {
		if !placed[b.Name] {
			placed[b.Name] = true
			order = append(order, b.Name)
		}
	}

	targets := map[string]bool{}
	for _, dsts := range c.Succ {
		for _, d := range dsts {
			targets[d] = true
		}
	}

	var out []*ir.Instr
	emittedLabel := map[string]bool{}
	for idx, name := range order {
		b := c.BlockByName(name)

		if targets[name] && !emittedLabel[name] {
			out = append(out, &ir.Instr{Label: name})
			emittedLabel[name] = true
		}

		out = append(out, b.Instrs...)

		if b.Terminator() == nil && reach[name] {
			ft := textualFallthrough(name)
			next := ""
			if idx+1 < len(order) {
				next = order[idx+1]
			}
			if ft != "" && ft != next {
				out = append(out, &ir.Instr{Op: ir.OpJmp, Labels: []string{ft}})
			}
		}
	}
	return out
}
