package ir

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Op is an instruction opcode.
type Op string

// Value-producing opcodes (spec §3).
const (
	OpConst Op = "const"
	OpID    Op = "id"
	OpAdd   Op = "add"
	OpSub   Op = "sub"
	OpMul   Op = "mul"
	OpDiv   Op = "div"
	OpAnd   Op = "and"
	OpOr    Op = "or"
	OpNot   Op = "not"
	OpEq    Op = "eq"
	OpLt    Op = "lt"
	OpLe    Op = "le"
	OpGt    Op = "gt"
	OpGe    Op = "ge"
)

// Effect opcodes (spec §3).
const (
	OpJmp       Op = "jmp"
	OpBr        Op = "br"
	OpRet       Op = "ret"
	OpPrint     Op = "print"
	OpCall      Op = "call"
	OpSpeculate Op = "speculate"
	OpCommit    Op = "commit"
	OpGuard     Op = "guard"
)

// Phi-surrogate opcodes (spec §4.7 and §3).
const (
	OpGet   Op = "get"
	OpSet   Op = "set"
	OpUndef Op = "undef"
)

// ValueOps is the set of arithmetic, logical and comparison opcodes
// (the value ops other than const and id). LVN folds div only when the
// divisor is a nonzero constant (spec §4.5).
var ValueOps = map[Op]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
	OpAnd: true, OpOr: true, OpNot: true,
	OpEq: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
}

// CommutativeOps normalize argument order before a value-number lookup.
var CommutativeOps = map[Op]bool{
	OpAdd: true, OpMul: true, OpEq: true, OpAnd: true, OpOr: true,
}

// PureOps is the set LICM is allowed to hoist (div excluded, spec §4.8).
var PureOps = map[Op]bool{
	OpConst: true, OpID: true, OpAdd: true, OpSub: true, OpMul: true,
	OpAnd: true, OpOr: true, OpNot: true,
	OpEq: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
}

const defIDKey = "_def_id"

// Instr is a single IR instruction. It is a union of the shapes in
// spec §3: a Label has only Label set; everything else has Op set.
// Unknown JSON keys on the source instruction round-trip through
// Extra; scratch keys (starting with "_") are stripped on emission.
type Instr struct {
	Label string `json:"-"`

	Op     Op     `json:"-"`
	Dest   string `json:"-"`
	Type   Type   `json:"-"`
	Args   []string `json:"-"`
	Labels []string `json:"-"`
	Funcs  []string `json:"-"`
	Value  interface{} `json:"-"`

	// Extra carries every JSON key this package doesn't interpret,
	// keyed by its original name, so emission is lossless. Scratch
	// analysis state (currently just _def_id) also lives here.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsLabel reports whether this instruction is a label pseudo-instruction.
func (i *Instr) IsLabel() bool { return i.Label != "" }

// HasDest reports whether this instruction defines a destination variable.
func (i *Instr) HasDest() bool { return i.Dest != "" }

// IsTerminator reports whether this instruction ends a basic block.
func (i *Instr) IsTerminator() bool {
	return i.Op == OpBr || i.Op == OpJmp || i.Op == OpRet
}

// DefID returns the reaching-definition id annotated by the dataflow
// package, if any (spec §3's "_def_id" side channel).
func (i *Instr) DefID() (string, bool) {
	raw, ok := i.Extra[defIDKey]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// SetDefID annotates this instruction with a reaching-definition id.
func (i *Instr) SetDefID(id string) {
	if i.Extra == nil {
		i.Extra = map[string]json.RawMessage{}
	}
	raw, _ := json.Marshal(id)
	i.Extra[defIDKey] = raw
}

// ClearScratch drops every "_"-prefixed key, as required before
// emission (spec §6).
func (i *Instr) ClearScratch() {
	for k := range i.Extra {
		if len(k) > 0 && k[0] == '_' {
			delete(i.Extra, k)
		}
	}
}

// Clone returns a deep copy of the instruction.
func (i *Instr) Clone() *Instr {
	c := *i
	c.Args = append([]string(nil), i.Args...)
	c.Labels = append([]string(nil), i.Labels...)
	c.Funcs = append([]string(nil), i.Funcs...)
	if i.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(i.Extra))
		for k, v := range i.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// jsonInstr is the wire shape of an Instr.
type jsonInstr struct {
	Label  *string                    `json:"label,omitempty"`
	Op     string                     `json:"op,omitempty"`
	Dest   string                     `json:"dest,omitempty"`
	Type   json.RawMessage            `json:"type,omitempty"`
	Args   []string                   `json:"args,omitempty"`
	Labels []string                   `json:"labels,omitempty"`
	Funcs  []string                   `json:"funcs,omitempty"`
	Value  interface{}                `json:"value,omitempty"`
}

// UnmarshalJSON implements lossless decoding: every key this package
// doesn't understand is preserved in Extra.
func (i *Instr) UnmarshalJSON(data []byte) error {
	var rest map[string]json.RawMessage
	if err := json.Unmarshal(data, &rest); err != nil {
		return errors.Wrap(err, "decoding instruction")
	}

	var ji jsonInstr
	if err := json.Unmarshal(data, &ji); err != nil {
		return errors.Wrap(err, "decoding instruction")
	}

	for _, known := range []string{"label", "op", "dest", "type", "args", "labels", "funcs", "value"} {
		delete(rest, known)
	}

	*i = Instr{}
	if ji.Label != nil {
		i.Label = *ji.Label
		if len(rest) > 0 {
			i.Extra = rest
		}
		return nil
	}

	i.Op = Op(ji.Op)
	i.Dest = ji.Dest
	i.Args = ji.Args
	i.Labels = ji.Labels
	i.Funcs = ji.Funcs
	i.Value = ji.Value
	if len(ji.Type) > 0 {
		t, err := ParseType(ji.Type)
		if err != nil {
			return errors.Wrapf(err, "instruction %s", ji.Op)
		}
		i.Type = t
	}
	if len(rest) > 0 {
		i.Extra = rest
	}
	return nil
}

// MarshalJSON implements lossless encoding. Scratch keys are expected
// to already have been stripped via ClearScratch; any that remain are
// still emitted faithfully (emission never silently drops data a
// caller didn't ask to drop), matching spec §6's "preserves all
// unknown keys" rule.
func (i *Instr) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range i.Extra {
		out[k] = v
	}

	put := func(key string, v interface{}) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}

	if i.IsLabel() {
		if err := put("label", i.Label); err != nil {
			return nil, err
		}
		return marshalOrdered(out)
	}

	if err := put("op", i.Op); err != nil {
		return nil, err
	}
	if i.Dest != "" {
		if err := put("dest", i.Dest); err != nil {
			return nil, err
		}
	}
	if i.Type != nil {
		raw, err := MarshalType(i.Type)
		if err != nil {
			return nil, err
		}
		out["type"] = raw
	}
	if len(i.Args) > 0 {
		if err := put("args", i.Args); err != nil {
			return nil, err
		}
	}
	if len(i.Labels) > 0 {
		if err := put("labels", i.Labels); err != nil {
			return nil, err
		}
	}
	if len(i.Funcs) > 0 {
		if err := put("funcs", i.Funcs); err != nil {
			return nil, err
		}
	}
	if i.Value != nil {
		if err := put("value", i.Value); err != nil {
			return nil, err
		}
	}
	return marshalOrdered(out)
}

// marshalOrdered emits a map with sorted keys so output is
// byte-identical across runs (spec §5 determinism requirement).
func marshalOrdered(m map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for idx, k := range keys {
		if idx > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, m[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}
