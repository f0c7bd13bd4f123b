// Package diag implements the CORE's error taxonomy (spec §7): malformed
// input and analysis-precondition failures are reported as typed
// diagnostics naming the offending function, styled the way the
// teacher's internal/errors package formats compiler errors.
package diag

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// Kind classifies a diagnostic per spec §7's error taxonomy.
type Kind string

const (
	// Malformed covers duplicate function names, undefined labels,
	// unmatched speculate/commit, non-unique labels within a function.
	Malformed Kind = "malformed input"
	// Precondition covers analysis preconditions that must hold before
	// a transform can run: trace stop-index range, missing trace
	// metadata, multiple immediate dominators.
	Precondition Kind = "precondition failure"
)

// Diagnostic is a fatal CORE error naming the function and offending
// instruction. Safety refusals (spec §7) are never represented as a
// Diagnostic — they are silent no-ops in the transform that detects them.
type Diagnostic struct {
	Kind     Kind
	Function string
	Detail   string
	Cause    error
}

func (d *Diagnostic) Error() string {
	if d.Function != "" {
		return fmt.Sprintf("%s in function %q: %s", d.Kind, d.Function, d.Detail)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (d *Diagnostic) Unwrap() error { return d.Cause }

// Malformed builds a malformed-input diagnostic.
func Malformed(function, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{Kind: Malformed, Function: function, Detail: fmt.Sprintf(format, args...)}
}

// MalformedWrap builds a malformed-input diagnostic wrapping a lower-level
// cause (e.g. a JSON decode error).
func MalformedWrap(cause error, function, format string, args ...interface{}) *Diagnostic {
	detail := fmt.Sprintf(format, args...)
	return &Diagnostic{Kind: Malformed, Function: function, Detail: detail, Cause: errors.Wrap(cause, detail)}
}

// Precondition builds an analysis-precondition-failure diagnostic.
func Precondition(function, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{Kind: Precondition, Function: function, Detail: fmt.Sprintf(format, args...)}
}

// Render renders a diagnostic for a terminal, colorized the way the
// teacher's cmd/kanso-cli colorizes parse errors.
func Render(err error) string {
	d, ok := err.(*Diagnostic)
	if !ok {
		return color.RedString("error: %s", err)
	}
	head := color.New(color.FgRed, color.Bold).Sprintf("error[%s]", d.Kind)
	if d.Function != "" {
		return fmt.Sprintf("%s in %s: %s", head, color.CyanString(d.Function), d.Detail)
	}
	return fmt.Sprintf("%s: %s", head, d.Detail)
}
