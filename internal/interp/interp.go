// Package interp is a small pure interpreter used only to compare
// before/after program output in tests (spec §8's operational-
// equivalence properties); the real profiling interpreter is an
// external, non-CORE oracle and stays out of scope (spec §1).
package interp

import (
	"strconv"
	"strings"

	"github.com/kanso-lang/bril-core/internal/diag"
	"github.com/kanso-lang/bril-core/internal/ir"
)

// Value is a runtime value: exactly one of an int or a bool.
type Value struct {
	IsBool bool
	Int    int64
	Bool   bool
}

func intVal(n int64) Value { return Value{Int: n} }
func boolVal(b bool) Value { return Value{IsBool: true, Bool: b} }

func (v Value) String() string {
	if v.IsBool {
		return strconv.FormatBool(v.Bool)
	}
	return strconv.FormatInt(v.Int, 10)
}

const maxCallDepth = 1000

// Run executes funcName in prog with args and returns the lines its
// print instructions produced.
func Run(prog *ir.Program, funcName string, args []Value) ([]string, error) {
	fn := prog.FuncByName(funcName)
	if fn == nil {
		return nil, diag.Malformed(funcName, "function not found")
	}
	var out []string
	_, err := call(prog, fn, args, &out, 0)
	return out, err
}

func call(prog *ir.Program, fn *ir.Function, args []Value, out *[]string, depth int) (Value, error) {
	if depth > maxCallDepth {
		return Value{}, diag.Malformed(fn.Name, "call depth exceeded")
	}

	vars := map[string]Value{}
	for i, p := range fn.Params {
		if i < len(args) {
			vars[p.Name] = args[i]
		}
	}

	labels := map[string]int{}
	for i, in := range fn.Instrs {
		if in.IsLabel() {
			labels[in.Label] = i
		}
	}

	var snapshot map[string]Value
	speculating := false

	pc := 0
	for pc < len(fn.Instrs) {
		in := fn.Instrs[pc]
		if in.IsLabel() {
			pc++
			continue
		}

		switch in.Op {
		case ir.OpConst:
			vars[in.Dest] = constValue(in.Value)
		case ir.OpID:
			vars[in.Dest] = vars[in.Args[0]]
		case ir.OpAdd:
			vars[in.Dest] = intVal(vars[in.Args[0]].Int + vars[in.Args[1]].Int)
		case ir.OpSub:
			vars[in.Dest] = intVal(vars[in.Args[0]].Int - vars[in.Args[1]].Int)
		case ir.OpMul:
			vars[in.Dest] = intVal(vars[in.Args[0]].Int * vars[in.Args[1]].Int)
		case ir.OpDiv:
			if vars[in.Args[1]].Int == 0 {
				return Value{}, diag.Malformed(fn.Name, "division by zero")
			}
			vars[in.Dest] = intVal(vars[in.Args[0]].Int / vars[in.Args[1]].Int)
		case ir.OpAnd:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Bool && vars[in.Args[1]].Bool)
		case ir.OpOr:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Bool || vars[in.Args[1]].Bool)
		case ir.OpNot:
			vars[in.Dest] = boolVal(!vars[in.Args[0]].Bool)
		case ir.OpEq:
			vars[in.Dest] = boolVal(vars[in.Args[0]] == vars[in.Args[1]])
		case ir.OpLt:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Int < vars[in.Args[1]].Int)
		case ir.OpLe:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Int <= vars[in.Args[1]].Int)
		case ir.OpGt:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Int > vars[in.Args[1]].Int)
		case ir.OpGe:
			vars[in.Dest] = boolVal(vars[in.Args[0]].Int >= vars[in.Args[1]].Int)
		case ir.OpSet:
			vars[in.Args[0]] = vars[in.Args[1]]
		case ir.OpUndef:
			vars[in.Dest] = Value{}
		case ir.OpGet:
			// the value was already placed here by a predecessor's set.
		case ir.OpPrint:
			parts := make([]string, len(in.Args))
			for i, a := range in.Args {
				parts[i] = vars[a].String()
			}
			*out = append(*out, strings.Join(parts, " "))
		case ir.OpCall:
			ret, err := execCall(prog, fn.Name, in, vars, out, depth)
			if err != nil {
				return Value{}, err
			}
			if in.HasDest() {
				vars[in.Dest] = ret
			}
		case ir.OpSpeculate:
			snapshot = cloneVars(vars)
			speculating = true
		case ir.OpCommit:
			speculating = false
			snapshot = nil
		case ir.OpGuard:
			if !vars[in.Args[0]].Bool {
				if speculating {
					vars = snapshot
					speculating = false
				}
				idx, ok := labels[in.Labels[0]]
				if !ok {
					return Value{}, diag.Malformed(fn.Name, "guard target label %q not found", in.Labels[0])
				}
				pc = idx
				continue
			}
		case ir.OpJmp:
			idx, ok := labels[in.Labels[0]]
			if !ok {
				return Value{}, diag.Malformed(fn.Name, "jmp to undefined label %q", in.Labels[0])
			}
			pc = idx
			continue
		case ir.OpBr:
			target := in.Labels[1]
			if vars[in.Args[0]].Bool {
				target = in.Labels[0]
			}
			idx, ok := labels[target]
			if !ok {
				return Value{}, diag.Malformed(fn.Name, "br to undefined label %q", target)
			}
			pc = idx
			continue
		case ir.OpRet:
			if len(in.Args) > 0 {
				return vars[in.Args[0]], nil
			}
			return Value{}, nil
		default:
			// unhandled opcode (e.g. a pass-through memory op): no-op.
		}
		pc++
	}
	return Value{}, nil
}

func execCall(prog *ir.Program, callerName string, in *ir.Instr, vars map[string]Value, out *[]string, depth int) (Value, error) {
	if len(in.Funcs) == 0 {
		return Value{}, diag.Malformed(callerName, "call instruction missing target function")
	}
	callee := prog.FuncByName(in.Funcs[0])
	if callee == nil {
		return Value{}, diag.Malformed(callerName, "call to undefined function %q", in.Funcs[0])
	}
	callArgs := make([]Value, len(in.Args))
	for i, a := range in.Args {
		callArgs[i] = vars[a]
	}
	return call(prog, callee, callArgs, out, depth+1)
}

func cloneVars(vars map[string]Value) map[string]Value {
	out := make(map[string]Value, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func constValue(v interface{}) Value {
	switch n := v.(type) {
	case bool:
		return boolVal(n)
	case float64:
		return intVal(int64(n))
	case int:
		return intVal(int64(n))
	default:
		return Value{}
	}
}
