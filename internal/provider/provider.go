// Package provider defines the contracts for the external services the
// server relays to: a code-execution backend and an AI text generator. Both
// are opaque black boxes reached over HTTP; the concrete clients live in
// the judge0 and ai subpackages.
package provider

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a provider call exhausts its retry budget
// without reaching a terminal status. Callers surface it to the user as a
// timeout, distinct from a generic provider failure.
var ErrTimeout = errors.New("provider call timed out")

type ExecutionRequest struct {
	SourceCode string
	Language   string
	Stdin      string
}

type ExecutionResult struct {
	Stdout        string
	Stderr        string
	CompileOutput string
	Status        string
}

// CodeExecutor submits source code for execution and waits (bounded) for a
// terminal result.
type CodeExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

type AIRequest struct {
	Prompt      string
	ContextCode string
	Language    string
}

// TextGenerator answers a prompt, optionally grounded in the code the user
// is currently editing.
type TextGenerator interface {
	Generate(ctx context.Context, req AIRequest) (string, error)
}
