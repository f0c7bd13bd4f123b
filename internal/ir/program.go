package ir

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kanso-lang/bril-core/internal/diag"
)

// Function is a named, ordered sequence of instructions (spec §3).
type Function struct {
	Name       string
	Params     []Param
	ReturnType Type // nil if the function has no return value
	Instrs     []*Instr
}

// Program is an ordered list of functions (spec §3).
type Program struct {
	Functions []*Function
}

// Clone returns a deep copy of the program. Every transform in this
// module is a pure function over *Program; callers that want an
// in-place pipeline call Clone first (spec §5).
func (p *Program) Clone() *Program {
	out := &Program{Functions: make([]*Function, len(p.Functions))}
	for i, f := range p.Functions {
		out.Functions[i] = f.Clone()
	}
	return out
}

// Clone returns a deep copy of the function.
func (f *Function) Clone() *Function {
	out := &Function{
		Name:       f.Name,
		Params:     append([]Param(nil), f.Params...),
		ReturnType: f.ReturnType,
		Instrs:     make([]*Instr, len(f.Instrs)),
	}
	for i, in := range f.Instrs {
		out.Instrs[i] = in.Clone()
	}
	return out
}

// FuncByName returns the function with the given name, or nil.
func (p *Program) FuncByName(name string) *Function {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type jsonProgram struct {
	Functions []*jsonFunction `json:"functions"`
}

type jsonFunction struct {
	Name   string          `json:"name"`
	Args   []jsonParam     `json:"args,omitempty"`
	Type   json.RawMessage `json:"type,omitempty"`
	Instrs []*Instr        `json:"instrs"`
}

type jsonParam struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// Decode parses a program from the bril-style JSON exchange format
// (spec §6).
func Decode(data []byte) (*Program, error) {
	var jp jsonProgram
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, diag.MalformedWrap(err, "", "decoding program: %v", err)
	}

	prog := &Program{}
	seen := map[string]bool{}
	for _, jf := range jp.Functions {
		if seen[jf.Name] {
			return nil, diag.Malformed(jf.Name, "duplicate function name")
		}
		seen[jf.Name] = true

		fn := &Function{Name: jf.Name, Instrs: jf.Instrs}
		for _, a := range jf.Args {
			t, err := ParseType(a.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "function %s: param %s", jf.Name, a.Name)
			}
			fn.Params = append(fn.Params, Param{Name: a.Name, Type: t})
		}
		if len(jf.Type) > 0 {
			t, err := ParseType(jf.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "function %s: return type", jf.Name)
			}
			fn.ReturnType = t
		}
		prog.Functions = append(prog.Functions, fn)
	}
	return prog, nil
}

// Encode serializes a program to the bril-style JSON exchange format,
// stripping scratch keys from every instruction first (spec §6).
func Encode(p *Program) ([]byte, error) {
	jp := jsonProgram{Functions: make([]*jsonFunction, len(p.Functions))}
	for i, fn := range p.Functions {
		for _, in := range fn.Instrs {
			in.ClearScratch()
		}
		jf := &jsonFunction{Name: fn.Name, Instrs: fn.Instrs}
		for _, param := range fn.Params {
			raw, err := MarshalType(param.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "function %s: param %s", fn.Name, param.Name)
			}
			jf.Args = append(jf.Args, jsonParam{Name: param.Name, Type: raw})
		}
		if fn.ReturnType != nil {
			raw, err := MarshalType(fn.ReturnType)
			if err != nil {
				return nil, errors.Wrapf(err, "function %s: return type", fn.Name)
			}
			jf.Type = raw
		}
		jp.Functions[i] = jf
	}
	return json.Marshal(jp)
}
