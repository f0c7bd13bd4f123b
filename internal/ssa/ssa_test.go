package ssa

import (
	"reflect"
	"testing"

	"github.com/kanso-lang/bril-core/internal/interp"
	"github.com/kanso-lang/bril-core/internal/ir"
)

func lbl(name string) *ir.Instr { return &ir.Instr{Label: name} }

func jmp(to string) *ir.Instr { return &ir.Instr{Op: ir.OpJmp, Labels: []string{to}} }

func br(cond, t, f string) *ir.Instr {
	return &ir.Instr{Op: ir.OpBr, Args: []string{cond}, Labels: []string{t, f}}
}

func constInt(dest string, v int) *ir.Instr {
	return &ir.Instr{Op: ir.OpConst, Dest: dest, Type: ir.IntType{}, Value: float64(v)}
}

func printInstr(args ...string) *ir.Instr { return &ir.Instr{Op: ir.OpPrint, Args: args} }

func ret() *ir.Instr { return &ir.Instr{Op: ir.OpRet} }

func countOp(instrs []*ir.Instr, op ir.Op) int {
	n := 0
	for _, in := range instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestToSSA_DiamondInsertsGetAtJoin(t *testing.T) {
	fn := &ir.Function{Name: "f", Instrs: []*ir.Instr{
		constInt("c", 1),
		br("c", "then", "else"),
		lbl("then"),
		constInt("x", 1),
		jmp("end"),
		lbl("else"),
		constInt("x", 2),
		lbl("end"),
		printInstr("x"),
		ret(),
	}}

	out, err := ToSSA(fn)
	if err != nil {
		t.Fatalf("ToSSA: %v", err)
	}
	if countOp(out.Instrs, ir.OpGet) != 1 {
		t.Fatalf("expected exactly one get at the join, got %d: %+v", countOp(out.Instrs, ir.OpGet), out.Instrs)
	}
	if countOp(out.Instrs, ir.OpSet) != 2 {
		t.Fatalf("expected a set on each of the two paths into the join, got %d", countOp(out.Instrs, ir.OpSet))
	}

	if err := CheckWellFormed(out); err != nil {
		t.Fatalf("result should be well-formed SSA: %v", err)
	}
}

func TestToSSA_StraightLineNoPhis(t *testing.T) {
	fn := &ir.Function{Name: "f", Instrs: []*ir.Instr{
		constInt("a", 1),
		printInstr("a"),
		ret(),
	}}
	out, err := ToSSA(fn)
	if err != nil {
		t.Fatalf("ToSSA: %v", err)
	}
	if countOp(out.Instrs, ir.OpGet) != 0 || countOp(out.Instrs, ir.OpSet) != 0 {
		t.Fatalf("no joins, so no get/set should be introduced: %+v", out.Instrs)
	}
}

func TestToSSA_LoopVariableGetsPreheader(t *testing.T) {
	fn := &ir.Function{
		Name:   "f",
		Params: []ir.Param{{Name: "n", Type: ir.IntType{}}},
		Instrs: []*ir.Instr{
			lbl("head"),
			printInstr("n"),
			constInt("one", 1),
			&ir.Instr{Op: ir.OpSub, Dest: "n", Type: ir.IntType{}, Args: []string{"n", "one"}},
			constInt("zero", 0),
			&ir.Instr{Op: ir.OpGt, Dest: "cond", Type: ir.BoolType{}, Args: []string{"n", "zero"}},
			br("cond", "head", "exit"),
			lbl("exit"),
			ret(),
		},
	}

	out, err := ToSSA(fn)
	if err != nil {
		t.Fatalf("ToSSA: %v", err)
	}
	if countOp(out.Instrs, ir.OpGet) == 0 {
		t.Fatalf("loop-carried n should need a get at the loop header, got %+v", out.Instrs)
	}
	if err := CheckWellFormed(out); err != nil {
		t.Fatalf("result should be well-formed SSA: %v", err)
	}
}

func TestFromSSA_RoundTripsGetSet(t *testing.T) {
	fn := &ir.Function{Name: "f", Instrs: []*ir.Instr{
		constInt("c", 1),
		br("c", "then", "else"),
		lbl("then"),
		constInt("x", 1),
		jmp("end"),
		lbl("else"),
		constInt("x", 2),
		lbl("end"),
		printInstr("x"),
		ret(),
	}}

	ssaFn, err := ToSSA(fn)
	if err != nil {
		t.Fatalf("ToSSA: %v", err)
	}
	out, err := FromSSA(ssaFn)
	if err != nil {
		t.Fatalf("FromSSA: %v", err)
	}
	if countOp(out.Instrs, ir.OpGet) != 0 || countOp(out.Instrs, ir.OpSet) != 0 {
		t.Fatalf("get/set should be gone after FromSSA, got %+v", out.Instrs)
	}
}

// TestToSSA_PreservesOperationalBehavior drives the diamond-join
// function through an interpreter before ToSSA, on the SSA form
// itself, and after FromSSA, for both branch outcomes, matching
// original_source/lesson6/test_ssa.py's
// output == ssa_output == roundtrip_output comparison (spec §8
// invariant 3, scenario E).
func TestToSSA_PreservesOperationalBehavior(t *testing.T) {
	mkFn := func() *ir.Function {
		return &ir.Function{
			Name:   "f",
			Params: []ir.Param{{Name: "c", Type: ir.BoolType{}}},
			Instrs: []*ir.Instr{
				br("c", "then", "else"),
				lbl("then"),
				constInt("x", 1),
				jmp("end"),
				lbl("else"),
				constInt("x", 2),
				lbl("end"),
				printInstr("x"),
				ret(),
			},
		}
	}

	for _, c := range []bool{true, false} {
		args := []interp.Value{{IsBool: true, Bool: c}}

		before, err := interp.Run(&ir.Program{Functions: []*ir.Function{mkFn()}}, "f", args)
		if err != nil {
			t.Fatalf("c=%v: interp.Run before ToSSA: %v", c, err)
		}

		ssaFn, err := ToSSA(mkFn())
		if err != nil {
			t.Fatalf("ToSSA: %v", err)
		}
		ssaOut, err := interp.Run(&ir.Program{Functions: []*ir.Function{ssaFn}}, "f", args)
		if err != nil {
			t.Fatalf("c=%v: interp.Run on SSA form: %v", c, err)
		}

		afterFn, err := FromSSA(ssaFn)
		if err != nil {
			t.Fatalf("FromSSA: %v", err)
		}
		after, err := interp.Run(&ir.Program{Functions: []*ir.Function{afterFn}}, "f", args)
		if err != nil {
			t.Fatalf("c=%v: interp.Run after FromSSA: %v", c, err)
		}

		if !reflect.DeepEqual(before, ssaOut) || !reflect.DeepEqual(ssaOut, after) {
			t.Fatalf("c=%v: output changed across SSA round trip: before=%v ssa=%v after=%v", c, before, ssaOut, after)
		}
	}
}

func TestCheckWellFormed_RejectsDoubleAssignment(t *testing.T) {
	fn := &ir.Function{Name: "f", Instrs: []*ir.Instr{
		constInt("x", 1),
		constInt("x", 2),
		ret(),
	}}
	if err := CheckWellFormed(fn); err == nil {
		t.Fatal("expected an error: x is assigned twice, not SSA")
	}
}
