// Package ir defines the typed, three-address instruction set that the
// rest of the middle-end operates on: programs, functions and
// instructions. Control-flow graphs are a derived view built by the
// cfg package; this package only knows about the flat per-function
// instruction list.
package ir

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Type is a value type in the IR: int, bool, or a pointer to either.
type Type interface {
	String() string
	typ()
}

// IntType is the IR's single integer type (64-bit, two's complement).
type IntType struct{}

// BoolType is the IR's boolean type.
type BoolType struct{}

// PtrType is a pointer to another IR type, used by memory instructions
// that the CORE passes through unchanged (spec Non-goals).
type PtrType struct {
	Elem Type
}

func (IntType) String() string  { return "int" }
func (BoolType) String() string { return "bool" }
func (p PtrType) String() string {
	return fmt.Sprintf("ptr<%s>", p.Elem.String())
}

func (IntType) typ()  {}
func (BoolType) typ() {}
func (PtrType) typ()  {}

// ParseType decodes a type from its JSON shape: "int", "bool" or
// {"ptr": T}.
func ParseType(raw json.RawMessage) (Type, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "int":
			return IntType{}, nil
		case "bool":
			return BoolType{}, nil
		default:
			return nil, errors.Errorf("unknown scalar type %q", name)
		}
	}

	var ptr struct {
		Ptr json.RawMessage `json:"ptr"`
	}
	if err := json.Unmarshal(raw, &ptr); err != nil || ptr.Ptr == nil {
		return nil, errors.Errorf("malformed type literal: %s", string(raw))
	}
	elem, err := ParseType(ptr.Ptr)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ptr element type")
	}
	return PtrType{Elem: elem}, nil
}

// MarshalType encodes a Type back to its JSON shape.
func MarshalType(t Type) (json.RawMessage, error) {
	switch v := t.(type) {
	case IntType:
		return json.Marshal("int")
	case BoolType:
		return json.Marshal("bool")
	case PtrType:
		elem, err := MarshalType(v.Elem)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"ptr": elem})
	default:
		return nil, errors.Errorf("unhandled type %T", t)
	}
}

// Param is a function parameter: a name and its type.
type Param struct {
	Name string
	Type Type
}
