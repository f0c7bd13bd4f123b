// Package pipeline composes named, described transformation passes
// into an ordered sequence run to a fixpoint, grounded on the
// teacher's OptimizationPipeline (internal/ir/optimizations.go).
package pipeline

import (
	"reflect"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
	"github.com/kanso-lang/bril-core/internal/licm"
	"github.com/kanso-lang/bril-core/internal/lvn"
	"github.com/kanso-lang/bril-core/internal/ssa"
	"github.com/kanso-lang/bril-core/internal/tdce"
)

// Pass is a single named, described program transformation.
type Pass interface {
	Name() string
	Description() string
	Apply(prog *ir.Program) (bool, error)
}

// Pipeline runs a sequence of passes over an ir.Program.
type Pipeline struct {
	passes []Pass
	// Log, if set, is called once per pass per round (spec §4.10).
	Log func(format string, args ...interface{})
}

// New builds the default pipeline: LVN and TDCE alternated to a
// fixpoint (spec §4.10), mirroring the teacher's default
// NewOptimizationPipeline ordering of fold-then-eliminate passes.
func New() *Pipeline {
	p := &Pipeline{}
	p.AddPass(&LVNPass{})
	p.AddPass(&TDCEPass{})
	return p
}

// AddPass appends pass to the pipeline's sequence.
func (p *Pipeline) AddPass(pass Pass) {
	p.passes = append(p.passes, pass)
}

// Run executes every pass once each, in order, repeating the whole
// sequence until a full round leaves the program unchanged.
func (p *Pipeline) Run(prog *ir.Program) error {
	for {
		roundChanged := false
		for _, pass := range p.passes {
			changed, err := pass.Apply(prog)
			if err != nil {
				return err
			}
			if p.Log != nil {
				if changed {
					p.Log("  - %s: %s (applied)", pass.Name(), pass.Description())
				} else {
					p.Log("  - %s: %s (no change)", pass.Name(), pass.Description())
				}
			}
			if changed {
				roundChanged = true
			}
		}
		if !roundChanged {
			return nil
		}
	}
}

// LVNPass runs local value numbering over every function (spec §4.5).
type LVNPass struct{}

func (p *LVNPass) Name() string { return "Local Value Numbering" }
func (p *LVNPass) Description() string {
	return "Folds constants, applies algebraic identities, and eliminates common subexpressions within each block"
}
func (p *LVNPass) Apply(prog *ir.Program) (bool, error) {
	return eachFunctionCFG(prog, func(c *cfg.CFG) error {
		lvn.Run(c)
		return nil
	})
}

// TDCEPass runs trivial dead code elimination over every function (spec §4.6).
type TDCEPass struct{}

func (p *TDCEPass) Name() string { return "Trivial Dead Code Elimination" }
func (p *TDCEPass) Description() string {
	return "Removes definitions that are never used, globally and within a block"
}
func (p *TDCEPass) Apply(prog *ir.Program) (bool, error) {
	return eachFunctionCFG(prog, func(c *cfg.CFG) error {
		tdce.Run(c)
		return nil
	})
}

// SSAPass converts every function to SSA form (spec §4.7).
type SSAPass struct{}

func (p *SSAPass) Name() string        { return "SSA Construction" }
func (p *SSAPass) Description() string { return "Inserts get/set shadow-variable phis at dominance-frontier joins" }
func (p *SSAPass) Apply(prog *ir.Program) (bool, error) {
	changed := false
	for i, fn := range prog.Functions {
		out, err := ssa.ToSSA(fn)
		if err != nil {
			return false, err
		}
		if !instrsEqual(fn.Instrs, out.Instrs) {
			changed = true
		}
		prog.Functions[i] = out
	}
	return changed, nil
}

// LICMPass hoists loop-invariant instructions in every function (spec §4.8).
type LICMPass struct {
	// SSAMode runs each function through SSA construction and
	// destruction around the hoist, matching brilirs's -ssa flag.
	SSAMode bool
}

func (p *LICMPass) Name() string        { return "Loop-Invariant Code Motion" }
func (p *LICMPass) Description() string { return "Hoists pure, loop-invariant computations into synthesized preheaders" }
func (p *LICMPass) Apply(prog *ir.Program) (bool, error) {
	changed := false
	for i, fn := range prog.Functions {
		out, err := licm.Run(fn, p.SSAMode)
		if err != nil {
			return false, err
		}
		if !instrsEqual(fn.Instrs, out.Instrs) {
			changed = true
		}
		prog.Functions[i] = out
	}
	return changed, nil
}

// eachFunctionCFG rewrites every function of prog by building its
// CFG, running transform over it, and linearizing the result back in,
// reporting whether any function's instruction stream changed.
func eachFunctionCFG(prog *ir.Program, transform func(*cfg.CFG) error) (bool, error) {
	changed := false
	for _, fn := range prog.Functions {
		before := fn.Instrs
		c, err := cfg.Build(fn)
		if err != nil {
			return false, err
		}
		if err := transform(c); err != nil {
			return false, err
		}
		after := cfg.Linearize(c)
		if !instrsEqual(before, after) {
			changed = true
		}
		fn.Instrs = after
	}
	return changed, nil
}

func instrsEqual(a, b []*ir.Instr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !instrEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func instrEqual(a, b *ir.Instr) bool {
	return a.Label == b.Label &&
		a.Op == b.Op &&
		a.Dest == b.Dest &&
		reflect.DeepEqual(a.Args, b.Args) &&
		reflect.DeepEqual(a.Labels, b.Labels) &&
		reflect.DeepEqual(a.Funcs, b.Funcs) &&
		reflect.DeepEqual(a.Value, b.Value)
}
