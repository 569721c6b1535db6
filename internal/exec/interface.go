// Package exec runs external commands for the sandbox.
package exec

import (
	"context"
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty uses the current directory.
	Dir string
	// Env is appended to the parent environment.
	Env []string
	// Stdin is fed to the process when non-nil.
	Stdin []byte
}

// Output is what a finished process wrote.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows faking process execution in tests.
type CommandRunner interface {
	// Run executes the command and waits for it. A non-zero exit is
	// reported through the returned error with Output still populated.
	Run(ctx context.Context, cmd Command) (Output, error)

	// LookPath reports whether the named binary can be found.
	LookPath(name string) (string, error)
}
