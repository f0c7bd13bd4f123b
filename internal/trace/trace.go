// Package trace splices a recorded fast-path trace into main, grounded
// on original_source/lesson12/trace_inject.py (spec §4.9).
package trace

import (
	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// Reserved trace names (spec §6).
const (
	TraceFuncName     = "__trace_main"
	TraceMetaFuncName = "__trace_meta_main"
	AbortLabel        = "__trace_abort"
	DoneLabel         = "__trace_done"
	stopIndexVar      = "__trace_stop_index"
	continuationLabel = "__trace_continuation"
)

// Inject rewrites main to run __trace_main speculatively, falling back
// to the original main body on abort, then drops __trace_main and
// __trace_meta_main from the result (spec §4.9). It never mutates prog.
func Inject(prog *ir.Program) (*ir.Program, error) {
	prog = prog.Clone()

	main := prog.FuncByName("main")
	if main == nil {
		return nil, diag.Malformed("main", "trace injection requires a main function")
	}
	traceFn := prog.FuncByName(TraceFuncName)
	if traceFn == nil {
		return nil, diag.Precondition("main", "trace injection requires %s", TraceFuncName)
	}
	metaFn := prog.FuncByName(TraceMetaFuncName)
	if metaFn == nil {
		return nil, diag.Precondition("main", "trace injection requires %s", TraceMetaFuncName)
	}

	stopIndex, ok := stopIndexFromMeta(metaFn)
	if !ok {
		return nil, diag.Precondition("main", "%s is missing a const %s assignment", TraceMetaFuncName, stopIndexVar)
	}
	if stopIndex < 0 || stopIndex > len(main.Instrs) {
		return nil, diag.Precondition("main", "trace stop index %d out of range for main of length %d", stopIndex, len(main.Instrs))
	}

	mainInstrs, contLabel := spliceContinuationLabel(main.Instrs, stopIndex)

	var out []*ir.Instr
	out = append(out, &ir.Instr{Op: ir.OpSpeculate})
	for _, in := range traceFn.Instrs {
		out = append(out, in.Clone())
	}
	out = append(out, &ir.Instr{Op: ir.OpCommit})
	out = append(out, &ir.Instr{Op: ir.OpJmp, Labels: []string{contLabel}})
	out = append(out, &ir.Instr{Label: AbortLabel})
	out = append(out, mainInstrs...)

	main.Instrs = out

	kept := make([]*ir.Function, 0, len(prog.Functions))
	for _, f := range prog.Functions {
		if f.Name == TraceFuncName || f.Name == TraceMetaFuncName {
			continue
		}
		kept = append(kept, f)
	}
	prog.Functions = kept

	return prog, nil
}

// spliceContinuationLabel reuses an existing label at stopIndex, or
// inserts a fresh __trace_continuation label there (spec §4.9 step 1).
func spliceContinuationLabel(instrs []*ir.Instr, stopIndex int) ([]*ir.Instr, string) {
	if stopIndex < len(instrs) && instrs[stopIndex].IsLabel() {
		return instrs, instrs[stopIndex].Label
	}
	out := make([]*ir.Instr, 0, len(instrs)+1)
	out = append(out, instrs[:stopIndex]...)
	out = append(out, &ir.Instr{Label: continuationLabel})
	out = append(out, instrs[stopIndex:]...)
	return out, continuationLabel
}

func stopIndexFromMeta(metaFn *ir.Function) (int, bool) {
	for _, in := range metaFn.Instrs {
		if in.Op == ir.OpConst && in.Dest == stopIndexVar {
			return intValue(in.Value)
		}
	}
	return 0, false
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
