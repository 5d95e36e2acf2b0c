// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package scripting runs user-supplied JavaScript hooks. Policy builds a
// format-choice policy on top of a Runner.
package scripting

// ScriptError is a failure inside the script, as opposed to an I/O error
// loading it.
type ScriptError struct {
	Message string
	// Interrupted is set when the script was stopped through Interrupt.
	Interrupted bool
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Result holds the value a script or function evaluated to.
type Result struct {
	Value interface{}
	// IsEmpty is true for undefined and null.
	IsEmpty bool
}

// Runner is a persistent interpreter: globals defined by one Run stay
// visible to later calls. A Runner is not safe for concurrent use except
// for Interrupt.
type Runner interface {
	Run(code string) (Result, error)
	// Call invokes a global function.
	Call(name string, args ...interface{}) (Result, error)
	HasFunction(name string) bool
	// SetOutput receives print() output.
	SetOutput(fn func(string))
	// Interrupt stops the running script from another goroutine.
	Interrupt()
	// Reset re-arms the interpreter after an Interrupt that arrived
	// when nothing was running.
	Reset()
}
