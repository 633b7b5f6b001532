package weavererr

import "fmt"

// OperationError is the lightweight counterpart to AppError: used for
// internal plumbing failures (a step that failed inside the workflow
// engine, a rule action that panicked) that are logged and retried but
// never need a Type/StatusCode to cross the MCP boundary.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("failed to %s, component: %s", e.Operation, e.Component)
	if e.Resource != "" {
		msg += fmt.Sprintf(", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(", cause: %s", e.Cause)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds an OperationError for the common two-argument case.
func FailedTo(operation, component string, cause error) *OperationError {
	return &OperationError{Operation: operation, Component: component, Cause: cause}
}

// FailedToWithDetails builds an OperationError naming the specific
// resource involved (a file path, a rule name, a run id).
func FailedToWithDetails(operation, component, resource string, cause error) *OperationError {
	return &OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause}
}
