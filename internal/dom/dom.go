// Package dom computes dominance information for a CFG: dominator
// sets, immediate dominators, the dominator tree and dominance
// frontiers (spec §4.3). All computation is restricted to reachable
// blocks.
package dom

import (
	"sort"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/diag"
)

// Info is the dominance information for one function's CFG.
type Info struct {
	Entry    string
	Dom      map[string]map[string]bool // block -> its dominator set (reachable blocks only)
	IDom     map[string]string          // block -> immediate dominator, "" if none
	Children map[string][]string        // dominator-tree children, sorted by name
	DF       map[string][]string        // dominance frontier, sorted by name
}

// Dominates reports whether a dominates b (a ∈ dom(b)).
func (info *Info) Dominates(a, b string) bool {
	set, ok := info.Dom[b]
	return ok && set[a]
}

// StrictlyDominates reports whether a strictly dominates b (a dom b, a != b).
func (info *Info) StrictlyDominates(a, b string) bool {
	return a != b && info.Dominates(a, b)
}

// Compute builds dominance information for the reachable part of c.
func Compute(c *cfg.CFG) (*Info, error) {
	info := &Info{
		Entry:    c.Entry,
		Dom:      map[string]map[string]bool{},
		IDom:     map[string]string{},
		Children: map[string][]string{},
		DF:       map[string][]string{},
	}
	if c.Entry == "" {
		return info, nil
	}

	reach := c.Reachable()
	order := c.RPO() // deterministic, entry first

	info.Dom[c.Entry] = map[string]bool{c.Entry: true}
	for name := range reach {
		if name == c.Entry {
			continue
		}
		full := map[string]bool{}
		for r := range reach {
			full[r] = true
		}
		info.Dom[name] = full
	}

	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == c.Entry {
				continue
			}
			var preds []string
			for _, p := range c.Pred[b] {
				if reach[p] {
					preds = append(preds, p)
				}
			}

			var newDom map[string]bool
			if len(preds) == 0 {
				newDom = map[string]bool{}
			} else {
				newDom = intersectAll(info.Dom, preds)
			}
			newDom[b] = true

			if !setsEqual(newDom, info.Dom[b]) {
				info.Dom[b] = newDom
				changed = true
			}
		}
	}

	for _, b := range order {
		if b == c.Entry {
			info.IDom[b] = ""
			continue
		}
		candidates := make([]string, 0, len(info.Dom[b]))
		for d := range info.Dom[b] {
			if d != b {
				candidates = append(candidates, d)
			}
		}
		if len(candidates) == 0 {
			info.IDom[b] = ""
			continue
		}

		var found []string
		for _, d := range candidates {
			ok := true
			for _, x := range candidates {
				if x == d {
					continue
				}
				if !info.Dom[d][x] {
					ok = false
					break
				}
			}
			if ok {
				found = append(found, d)
			}
		}
		if len(found) > 1 {
			return nil, diag.Precondition(c.FuncName, "block %q has multiple immediate dominators: %v", b, found)
		}
		if len(found) == 1 {
			info.IDom[b] = found[0]
		}
	}

	for b, p := range info.IDom {
		if p == "" {
			continue
		}
		info.Children[p] = append(info.Children[p], b)
	}
	for p := range info.Children {
		sort.Strings(info.Children[p])
	}

	computeDominanceFrontier(c, info)
	return info, nil
}

func intersectAll(dom map[string]map[string]bool, names []string) map[string]bool {
	if len(names) == 0 {
		return map[string]bool{}
	}
	out := map[string]bool{}
	for k := range dom[names[0]] {
		out[k] = true
	}
	for _, n := range names[1:] {
		for k := range out {
			if !dom[n][k] {
				delete(out, k)
			}
		}
	}
	return out
}

func setsEqual(a, b map[string]bool) bool {
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

// computeDominanceFrontier fills info.DF using a post-order traversal
// of the dominator tree with an explicit work stack (spec §9: avoid
// recursion on deep CFGs).
func computeDominanceFrontier(c *cfg.CFG, info *Info) {
	if info.Entry == "" {
		return
	}

	postOrder := postOrderDomTree(info)
	dfSets := map[string]map[string]bool{}

	for _, x := range postOrder {
		set := map[string]bool{}
		for _, y := range c.Succ[x] {
			if info.IDom[y] != x {
				set[y] = true
			}
		}
		for _, z := range info.Children[x] {
			for y := range dfSets[z] {
				if info.IDom[y] != x {
					set[y] = true
				}
			}
		}
		dfSets[x] = set
	}

	for x, set := range dfSets {
		names := make([]string, 0, len(set))
		for y := range set {
			names = append(names, y)
		}
		sort.Strings(names)
		info.DF[x] = names
	}
}

// postOrderDomTree returns dominator-tree nodes in post-order using an
// explicit stack.
func postOrderDomTree(info *Info) []string {
	type frame struct {
		name string
		i    int
	}
	var out []string
	stack := []frame{{name: info.Entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := info.Children[top.name]
		if top.i < len(children) {
			next := children[top.i]
			top.i++
			stack = append(stack, frame{name: next})
			continue
		}
		out = append(out, top.name)
		stack = stack[:len(stack)-1]
	}
	return out
}

// SlowDominates is the O(V*E) oracle required by spec §4.3 for
// verification: it checks whether every entry→b path passes through a
// by testing reachability of b from entry with a removed from the graph.
func SlowDominates(c *cfg.CFG, a, b string) bool {
	if a == b {
		return true
	}
	if c.Entry == "" {
		return false
	}
	visited := map[string]bool{a: true}
	stack := []string{c.Entry}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == b {
			return false // reached b without passing through a
		}
		for _, s := range c.Succ[n] {
			if !visited[s] {
				stack = append(stack, s)
			}
		}
	}
	return true // b unreachable without a: a dominates (vacuously, if b reachable at all via a)
}
