// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// GojaRunner implements Runner using the Goja JavaScript interpreter.
type GojaRunner struct {
	vm     *goja.Runtime
	output func(string)
}

// NewGojaRunner creates a runtime with a print() builtin.
func NewGojaRunner() *GojaRunner {
	r := &GojaRunner{
		output: func(s string) {}, // Default: discard output
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.output(strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		// Registration errors are programming bugs, not runtime errors
		panic("failed to register print: " + err.Error())
	}

	r.vm = vm
	return r
}

// Run executes JavaScript code and returns the result.
func (r *GojaRunner) Run(code string) (Result, error) {
	result, err := r.vm.RunString(code)
	if err != nil {
		return Result{}, scriptError(err)
	}
	return exportResult(result), nil
}

// Call invokes the global function name with args.
func (r *GojaRunner) Call(name string, args ...interface{}) (Result, error) {
	fn, ok := goja.AssertFunction(r.vm.Get(name))
	if !ok {
		return Result{}, &ScriptError{Message: fmt.Sprintf("%s is not a function", name)}
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = r.vm.ToValue(a)
	}
	result, err := fn(goja.Undefined(), values...)
	if err != nil {
		return Result{}, scriptError(err)
	}
	return exportResult(result), nil
}

// HasFunction reports whether name is a global function.
func (r *GojaRunner) HasFunction(name string) bool {
	_, ok := goja.AssertFunction(r.vm.Get(name))
	return ok
}

func exportResult(v goja.Value) Result {
	// Check for empty/void results
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Result{IsEmpty: true}
	}
	return Result{Value: v.Export()}
}

func scriptError(err error) error {
	// Convert Goja exceptions to regular errors with clean messages
	if jsErr, ok := err.(*goja.Exception); ok {
		return &ScriptError{Message: jsErr.String()}
	}
	if intErr, ok := err.(*goja.InterruptedError); ok {
		return &ScriptError{Message: intErr.String(), Interrupted: true}
	}
	return err
}

// SetOutput sets the function used for print() output.
func (r *GojaRunner) SetOutput(fn func(string)) {
	if fn == nil {
		r.output = func(s string) {}
	} else {
		r.output = fn
	}
}

// Interrupt stops the currently running script.
// Safe to call from another goroutine (e.g., for timeout enforcement).
func (r *GojaRunner) Interrupt() {
	r.vm.Interrupt("script interrupted")
}

// Reset clears a pending interrupt.
func (r *GojaRunner) Reset() {
	r.vm.ClearInterrupt()
}

// Compile-time interface check
var _ Runner = (*GojaRunner)(nil)
