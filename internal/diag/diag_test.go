package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMalformed_ErrorMessage(t *testing.T) {
	d := Malformed("main", "undefined label %q", "nope")
	assert.Equal(t, `malformed input in function "main": undefined label "nope"`, d.Error())
}

func TestMalformedWrap_Unwraps(t *testing.T) {
	cause := errors.New("boom")
	d := MalformedWrap(cause, "main", "failed to decode")
	require.ErrorIs(t, d, cause)
}

func TestPrecondition_NoFunctionName(t *testing.T) {
	d := Precondition("", "trace stop index out of range")
	assert.Equal(t, "precondition failure: trace stop index out of range", d.Error())
}

func TestRender_NonDiagnosticError(t *testing.T) {
	out := Render(errors.New("plain"))
	assert.Contains(t, out, "plain")
}

func TestRender_Diagnostic(t *testing.T) {
	d := Precondition("foo", "bad stop index")
	out := Render(d)
	assert.Contains(t, out, "foo")
	assert.Contains(t, out, "bad stop index")
}
