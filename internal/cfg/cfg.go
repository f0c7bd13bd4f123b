// Package cfg builds and linearizes per-function control-flow graphs
// (spec §4.1, §4.2). A CFG is a local scratch structure: a transform
// builds one from an *ir.Function, mutates it in place, and linearizes
// it back to a flat instruction list. CFGs are never shared across
// transforms (spec §3 lifecycle).
package cfg

import (
	"sort"

	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// BasicBlock is a maximal straight-line run of instructions (spec §3).
// Instrs holds the non-label body; if the last element is a
// br/jmp/ret it is also the block's terminator.
type BasicBlock struct {
	Name        string
	StartLabels []string
	Instrs      []*ir.Instr
}

// Terminator returns the block's terminator instruction, or nil.
func (b *BasicBlock) Terminator() *ir.Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if last.IsTerminator() {
		return last
	}
	return nil
}

// Body returns the block's non-terminator instructions.
func (b *BasicBlock) Body() []*ir.Instr {
	if t := b.Terminator(); t != nil {
		return b.Instrs[:len(b.Instrs)-1]
	}
	return b.Instrs
}

// Clone returns a deep copy of the block.
func (b *BasicBlock) Clone() *BasicBlock {
	out := &BasicBlock{
		Name:        b.Name,
		StartLabels: append([]string(nil), b.StartLabels...),
		Instrs:      make([]*ir.Instr, len(b.Instrs)),
	}
	for i, in := range b.Instrs {
		out.Instrs[i] = in.Clone()
	}
	return out
}

// CFG is the control-flow graph of a single function (spec §3).
type CFG struct {
	FuncName   string
	Params     []ir.Param
	ReturnType ir.Type

	// Blocks is the current block order. Transforms mutate this slice
	// directly (insert/reorder); it doubles as "textual order" for
	// fallthrough purposes (spec §4.2).
	Blocks []*BasicBlock
	Entry  string // "" if the function has no instructions

	Succ map[string][]string
	Pred map[string][]string
}

// BlockByName returns the block with the given name, or nil.
func (c *CFG) BlockByName(name string) *BasicBlock {
	for _, b := range c.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// IndexOf returns the position of the named block in c.Blocks, or -1.
func (c *CFG) IndexOf(name string) int {
	for i, b := range c.Blocks {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// Exits returns the blocks with no successors, in block order.
func (c *CFG) Exits() []string {
	var out []string
	for _, b := range c.Blocks {
		if len(c.Succ[b.Name]) == 0 {
			out = append(out, b.Name)
		}
	}
	return out
}

// RPO returns a reverse postorder traversal from the entry, using an
// explicit work stack (spec §9: avoid recursion on deep CFGs).
func (c *CFG) RPO() []string {
	if c.Entry == "" {
		return nil
	}

	type frame struct {
		name string
		i    int
	}
	visited := map[string]bool{}
	var post []string
	stack := []frame{{name: c.Entry}}
	visited[c.Entry] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.i < len(c.Succ[top.name]) {
			next := c.Succ[top.name][top.i]
			top.i++
			if !visited[next] {
				visited[next] = true
				stack = append(stack, frame{name: next})
			}
			continue
		}
		post = append(post, top.name)
		stack = stack[:len(stack)-1]
	}

	out := make([]string, len(post))
	for i, name := range post {
		out[len(post)-1-i] = name
	}
	return out
}

// Reachable returns the set of block names reachable from the entry.
func (c *CFG) Reachable() map[string]bool {
	out := map[string]bool{}
	for _, name := range c.RPO() {
		out[name] = true
	}
	return out
}

// Recompute derives Succ/Pred/Entry from the current Blocks slice and
// each block's terminator, resolving br/jmp targets against every
// block's Name and StartLabels (spec §4.1's successor rules). It is
// the only way edges are (re)established: transforms mutate block
// instructions or ordering, then call Recompute.
func (c *CFG) Recompute() error {
	if len(c.Blocks) == 0 {
		c.Entry = ""
		c.Succ = map[string][]string{}
		c.Pred = map[string][]string{}
		return nil
	}

	seen := map[string]bool{}
	addr := map[string]string{}
	for _, b := range c.Blocks {
		if seen[b.Name] {
			return diag.Malformed(c.FuncName, "duplicate block name %q", b.Name)
		}
		seen[b.Name] = true
		addr[b.Name] = b.Name
		for _, l := range b.StartLabels {
			addr[l] = b.Name
		}
	}

	c.Entry = c.Blocks[0].Name
	succ := make(map[string][]string, len(c.Blocks))
	for i, b := range c.Blocks {
		term := b.Terminator()
		switch {
		case term == nil:
			if i+1 < len(c.Blocks) {
				succ[b.Name] = []string{c.Blocks[i+1].Name}
			}
		case term.Op == ir.OpBr, term.Op == ir.OpJmp:
			for _, lbl := range term.Labels {
				name, ok := addr[lbl]
				if !ok {
					return diag.Malformed(c.FuncName, "%s to undefined label %q", term.Op, lbl)
				}
				succ[b.Name] = append(succ[b.Name], name)
			}
		case term.Op == ir.OpRet:
			// no successors
		default:
			// future-proof terminator: no successors
		}
	}

	pred := make(map[string][]string, len(c.Blocks))
	for _, b := range c.Blocks {
		pred[b.Name] = nil
	}
	for _, b := range c.Blocks {
		for _, s := range succ[b.Name] {
			pred[s] = append(pred[s], b.Name)
		}
	}

	c.Succ = succ
	c.Pred = pred
	return nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
