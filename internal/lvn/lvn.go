// Package lvn implements local value numbering: constant folding,
// algebraic identities, commutative-argument canonicalization and
// common subexpression elimination, scoped to one basic block at a
// time (spec §4.5).
package lvn

import (
	"fmt"
	"strconv"

	"github.com/kanso-lang/bril-core/internal/cfg"
	"github.com/kanso-lang/bril-core/internal/ir"
)

var binaryOps = map[ir.Op]bool{
	ir.OpAdd: true, ir.OpSub: true, ir.OpMul: true, ir.OpDiv: true,
	ir.OpEq: true, ir.OpLt: true, ir.OpLe: true, ir.OpGt: true, ir.OpGe: true,
	ir.OpAnd: true, ir.OpOr: true,
}

var unaryOps = map[ir.Op]bool{ir.OpNot: true}

// Run applies LVN to every block of c independently (spec §4.5: no
// cross-block value tables).
func Run(c *cfg.CFG) {
	for _, b := range c.Blocks {
		b.Instrs = block(b.Instrs)
	}
}

type table struct {
	entries   map[string]int
	var2num   map[string]int
	num2var   map[int]string
	num2const map[int]interface{}
	next      int
}

func newTable() *table {
	return &table{
		entries:   map[string]int{},
		var2num:   map[string]int{},
		num2var:   map[int]string{},
		num2const: map[int]interface{}{},
		next:      1,
	}
}

func (t *table) fresh() int {
	n := t.next
	t.next++
	return n
}

func (t *table) ensureVarNumber(name string) int {
	if n, ok := t.var2num[name]; ok {
		return n
	}
	n := t.fresh()
	t.var2num[name] = n
	t.entries["var:"+name] = n
	t.num2var[n] = name
	return n
}

func (t *table) canonicalVar(n int, fallback string) string {
	if v, ok := t.num2var[n]; ok {
		return v
	}
	return fallback
}

func constKey(c interface{}) string {
	switch v := c.(type) {
	case bool:
		return "b:" + strconv.FormatBool(v)
	case float64:
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("v:%v", v)
	}
}

func (t *table) recordConst(c interface{}, prefer string) int {
	key := "const:" + constKey(c)
	if n, ok := t.entries[key]; ok {
		return n
	}
	n := t.fresh()
	t.entries[key] = n
	if prefer != "" {
		t.num2var[n] = prefer
	}
	t.num2const[n] = c
	return n
}

// block runs LVN over one basic block's instructions, returning a
// freshly built instruction slice (spec §4.5).
func block(instrs []*ir.Instr) []*ir.Instr {
	t := newTable()
	out := make([]*ir.Instr, 0, len(instrs))

	for _, in := range instrs {
		if in.IsLabel() {
			out = append(out, in)
			continue
		}

		dest := in.Dest
		args := in.Args

		if in.Op == ir.OpConst && dest != "" {
			n := t.recordConst(in.Value, dest)
			t.var2num[dest] = n
			t.num2var[n] = dest
			out = append(out, in)
			continue
		}

		if in.Op == ir.OpID && dest != "" && len(args) == 1 {
			n := t.ensureVarNumber(args[0])
			t.var2num[dest] = n
			if _, ok := t.num2var[n]; !ok {
				t.num2var[n] = args[0]
			}
			out = append(out, in)
			continue
		}

		if !binaryOps[in.Op] && !unaryOps[in.Op] {
			out = append(out, in)
			continue
		}

		argNums := make([]int, len(args))
		argConsts := make([]interface{}, len(args))
		canonArgs := make([]string, len(args))
		for i, a := range args {
			n := t.ensureVarNumber(a)
			argNums[i] = n
			argConsts[i] = t.num2const[n]
			canonArgs[i] = t.canonicalVar(n, a)
		}

		if allConst(in.Op, argConsts) {
			if val, ok := tryConstFold(in.Op, argConsts); ok && dest != "" {
				n := t.recordConst(val, dest)
				t.var2num[dest] = n
				t.num2var[n] = dest
				out = append(out, &ir.Instr{Op: ir.OpConst, Dest: dest, Type: in.Type, Value: val})
				continue
			}
		}

		op := in.Op
		if ir.CommutativeOps[op] && len(argNums) == 2 && argNums[1] < argNums[0] {
			argNums[0], argNums[1] = argNums[1], argNums[0]
			argConsts[0], argConsts[1] = argConsts[1], argConsts[0]
		}

		if binaryOps[op] {
			if kind, val, num := applyIdentity(op, argNums, argConsts); kind != identityNone {
				switch kind {
				case identityConst:
					if dest != "" {
						n := t.recordConst(val, dest)
						t.var2num[dest] = n
						t.num2var[n] = dest
						out = append(out, &ir.Instr{Op: ir.OpConst, Dest: dest, Type: in.Type, Value: val})
					}
					continue
				case identityNum:
					if dest != "" {
						t.var2num[dest] = num
						rep := t.canonicalVar(num, dest)
						out = append(out, &ir.Instr{Op: ir.OpID, Dest: dest, Type: in.Type, Args: []string{rep}})
						if _, ok := t.num2var[num]; !ok {
							t.num2var[num] = rep
						}
					}
					continue
				}
			}
			for i, n := range argNums {
				canonArgs[i] = t.canonicalVar(n, canonArgs[i])
			}
		}

		if dest == "" {
			newIn := in.Clone()
			newIn.Args = canonArgs
			out = append(out, newIn)
			continue
		}

		var key string
		if unaryOps[op] {
			key = fmt.Sprintf("un:%s:%d", op, argNums[0])
		} else {
			key = fmt.Sprintf("bin:%s:%d:%d", op, argNums[0], argNums[1])
		}

		if n, ok := t.entries[key]; ok {
			t.var2num[dest] = n
			rep := t.canonicalVar(n, dest)
			out = append(out, &ir.Instr{Op: ir.OpID, Dest: dest, Type: in.Type, Args: []string{rep}})
			if _, ok := t.num2var[n]; !ok {
				t.num2var[n] = rep
			}
			continue
		}

		n := t.fresh()
		t.entries[key] = n
		t.var2num[dest] = n
		t.num2var[n] = dest
		newIn := in.Clone()
		newIn.Op = op
		newIn.Args = canonArgs
		out = append(out, newIn)
	}

	return out
}

func allConst(op ir.Op, consts []interface{}) bool {
	if unaryOps[op] {
		return len(consts) == 1 && consts[0] != nil
	}
	for _, c := range consts {
		if c == nil {
			return false
		}
	}
	return len(consts) > 0
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func toBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// tryConstFold folds a core op whose arguments are all constants.
// Division by zero deliberately returns ok=false: LVN never folds it,
// leaving the runtime error to surface at execution time (spec §4.5,
// §7 safety-refusal).
func tryConstFold(op ir.Op, consts []interface{}) (interface{}, bool) {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		a, ok1 := toFloat(consts[0])
		b, ok2 := toFloat(consts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		switch op {
		case ir.OpAdd:
			return a + b, true
		case ir.OpSub:
			return a - b, true
		case ir.OpMul:
			return a * b, true
		case ir.OpDiv:
			if b == 0 {
				return nil, false
			}
			return float64(int64(a) / int64(b)), true
		}
	case ir.OpEq, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		a, ok1 := toFloat(consts[0])
		b, ok2 := toFloat(consts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		switch op {
		case ir.OpEq:
			return a == b, true
		case ir.OpLt:
			return a < b, true
		case ir.OpLe:
			return a <= b, true
		case ir.OpGt:
			return a > b, true
		case ir.OpGe:
			return a >= b, true
		}
	case ir.OpAnd:
		a, ok1 := toBool(consts[0])
		b, ok2 := toBool(consts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		return a && b, true
	case ir.OpOr:
		a, ok1 := toBool(consts[0])
		b, ok2 := toBool(consts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		return a || b, true
	case ir.OpNot:
		a, ok := toBool(consts[0])
		if !ok {
			return nil, false
		}
		return !a, true
	}
	return nil, false
}

type identityKind int

const (
	identityNone identityKind = iota
	identityConst
	identityNum
)

// applyIdentity implements the algebraic identities LVN recognizes
// (spec §4.5): x+0, 0+x, x-0, 0*x, x*0, 1*x, x*1, and/or short
// circuits. argNums/argConsts must already be commutative-normalized.
func applyIdentity(op ir.Op, argNums []int, argConsts []interface{}) (identityKind, interface{}, int) {
	if len(argNums) != 2 {
		return identityNone, nil, 0
	}
	c0, _ := toFloat(argConsts[0])
	c1, _ := toFloat(argConsts[1])
	has0 := argConsts[0] != nil
	has1 := argConsts[1] != nil

	b0, bok0 := toBool(argConsts[0])
	b1, bok1 := toBool(argConsts[1])

	switch op {
	case ir.OpAdd:
		if has1 && c1 == 0 {
			return identityNum, nil, argNums[0]
		}
		if has0 && c0 == 0 {
			return identityNum, nil, argNums[1]
		}
	case ir.OpSub:
		if has1 && c1 == 0 {
			return identityNum, nil, argNums[0]
		}
	case ir.OpMul:
		if (has0 && c0 == 0) || (has1 && c1 == 0) {
			return identityConst, float64(0), 0
		}
		if has0 && c0 == 1 {
			return identityNum, nil, argNums[1]
		}
		if has1 && c1 == 1 {
			return identityNum, nil, argNums[0]
		}
	case ir.OpAnd:
		if (bok0 && !b0) || (bok1 && !b1) {
			return identityConst, false, 0
		}
		if bok0 && b0 {
			return identityNum, nil, argNums[1]
		}
		if bok1 && b1 {
			return identityNum, nil, argNums[0]
		}
	case ir.OpOr:
		if (bok0 && b0) || (bok1 && b1) {
			return identityConst, true, 0
		}
		if bok0 && !b0 {
			return identityNum, nil, argNums[1]
		}
		if bok1 && !b1 {
			return identityNum, nil, argNums[0]
		}
	}
	return identityNone, nil, 0
}
