package deepsearch

import "fmt"

// --- Tool errors ---

// ToolErrorKind tags a tool invocation failure so loops can decide
// whether to continue (most kinds) or terminate (canceled).
type ToolErrorKind string

const (
	ErrKindSchema    ToolErrorKind = "schema"
	ErrKindTimeout   ToolErrorKind = "timeout"
	ErrKindCanceled  ToolErrorKind = "canceled"
	ErrKindToolError ToolErrorKind = "tool_error"
	ErrKindNotFound  ToolErrorKind = "not_found"
)

type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// --- Model errors ---

type ModelErrorKind string

const (
	ModelErrNetwork  ModelErrorKind = "network"
	ModelErrProvider ModelErrorKind = "provider"
	ModelErrCanceled ModelErrorKind = "canceled"
)

type ModelError struct {
	Kind     ModelErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ModelError) Unwrap() error { return e.Cause }

// --- Sandbox errors ---

type SandboxErrorKind string

const (
	ErrKindUnsafeCode   SandboxErrorKind = "unsafe_code"
	ErrKindSandboxError SandboxErrorKind = "sandbox_error"
)

type SandboxError struct {
	Kind    SandboxErrorKind
	Message string
	Cause   error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Message)
}

func (e *SandboxError) Unwrap() error { return e.Cause }

// --- HTTP transport error (shared by providers and tools) ---

type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
