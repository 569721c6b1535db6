// Package sandbox executes generated code against a restricted variable
// environment and reports the outcome as data, never as an error.
package sandbox

import (
	"context"
	"encoding/json"
)

// ValueKind classifies a binding left behind by executed code.
type ValueKind string

const (
	// KindJSON is a JSON-serializable value.
	KindJSON ValueKind = "json"
	// KindImage is an image rendered as PNG.
	KindImage ValueKind = "image"
	// KindOpaque is anything else, kept only as its printed form.
	KindOpaque ValueKind = "opaque"
)

// Value is one binding from the execution environment.
type Value struct {
	Kind  ValueKind       `json:"kind"`
	JSON  json.RawMessage `json:"json,omitempty"`
	Image []byte          `json:"image,omitempty"`
	Repr  string          `json:"repr,omitempty"`
}

// Environment is the input of one execution.
type Environment struct {
	// Variables are bound by name before the code runs.
	Variables map[string]json.RawMessage
	// Images are PNG or JPEG bytes bound by name.
	Images map[string][]byte
	// Tools names helper snippets from the tools directory to define first.
	Tools []string
}

// Result is the outcome of one execution.
type Result struct {
	Success bool
	// Output is everything the code printed.
	Output string
	// Variables holds the bindings present after a successful run.
	Variables map[string]Value
	Error     string
	// StackTrace is the interpreter traceback of a failed run.
	StackTrace string
}

// Failure builds a failed result.
func Failure(err, stackTrace string) Result {
	return Result{Error: err, StackTrace: stackTrace}
}

// Executor runs code. Every failure is reported in the Result.
type Executor interface {
	Execute(ctx context.Context, code string, env Environment) Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, code string, env Environment) Result

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, code string, env Environment) Result {
	return f(ctx, code, env)
}
